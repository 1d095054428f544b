package merger

import (
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func idCols(schema, tb string) ([]string, error) {
	return []string{"id"}, nil
}

func idColsComposite(schema, tb string) ([]string, error) {
	return []string{"id", "v"}, nil
}

func row(typ dtmeta.RowType, before, after map[string]dtmeta.ColValue) *dtmeta.Row {
	return &dtmeta.Row{Schema: "s", Tb: "t", Type: typ, Before: before, After: after}
}

func cols(kv ...interface{}) map[string]dtmeta.ColValue {
	m := map[string]dtmeta.ColValue{}
	for i := 0; i < len(kv); i += 2 {
		key := kv[i].(string)
		switch v := kv[i+1].(type) {
		case int:
			m[key] = dtmeta.NewInt(int64(v))
		case nil:
			m[key] = dtmeta.NewNull()
		}
	}
	return m
}

// Scenario 1 (spec §8): Insert(id=1,v=1), Delete(id=1) collapses to nothing.
func TestInsertThenDeleteCollapse(t *testing.T) {
	m := New(idCols)
	rows := []*dtmeta.Row{
		row(dtmeta.RowInsert, nil, cols("id", 1, "v", 1)),
		row(dtmeta.RowDelete, cols("id", 1, "v", 1), nil),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Empty(t, td.InsertRows)
	require.Empty(t, td.DeleteRows)
	require.Empty(t, td.UnmergedRows)
}

// Scenario 2 (spec §8): Update with a key change splits into a delete of
// the old identity and an insert of the new one.
func TestUpdateWithKeyChange(t *testing.T) {
	m := New(idCols)
	rows := []*dtmeta.Row{
		row(dtmeta.RowUpdate, cols("id", 1, "v", 1), cols("id", 2, "v", 1)),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Len(t, td.DeleteRows, 1)
	require.Equal(t, dtmeta.RowDelete, td.DeleteRows[0].Type)
	require.Equal(t, int64(1), td.DeleteRows[0].Before["id"].I64)

	require.Len(t, td.InsertRows, 1)
	require.Equal(t, dtmeta.RowInsert, td.InsertRows[0].Type)
	require.Equal(t, int64(2), td.InsertRows[0].After["id"].I64)
}

// Scenario 3 (spec §8): a row whose identity includes a NULL column
// never merges; it is routed to the unmerged tail as-is.
func TestNullIdentityBypass(t *testing.T) {
	m := New(idColsComposite)
	rows := []*dtmeta.Row{
		row(dtmeta.RowDelete, cols("id", 1, "v", nil), nil),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Empty(t, td.InsertRows)
	require.Empty(t, td.DeleteRows)
	require.Len(t, td.UnmergedRows, 1)
}

func TestInsertInsertTreatedAsUpdate(t *testing.T) {
	m := New(idCols)
	rows := []*dtmeta.Row{
		row(dtmeta.RowInsert, nil, cols("id", 1, "v", 1)),
		row(dtmeta.RowInsert, nil, cols("id", 1, "v", 2)),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Len(t, td.InsertRows, 1)
	require.Equal(t, int64(2), td.InsertRows[0].After["v"].I64)
	require.Empty(t, td.DeleteRows)
}

func TestInsertUpdateSameKeyNoExtraDelete(t *testing.T) {
	m := New(idCols)
	rows := []*dtmeta.Row{
		row(dtmeta.RowInsert, nil, cols("id", 1, "v", 1)),
		row(dtmeta.RowUpdate, cols("id", 1, "v", 1), cols("id", 1, "v", 3)),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Len(t, td.InsertRows, 1)
	require.Equal(t, int64(3), td.InsertRows[0].After["v"].I64)
	require.Empty(t, td.DeleteRows, "no destination delete needed when the identity column is unchanged")
}

func TestInsertUpdateKeyChangeEmitsDeleteOfOldIdentity(t *testing.T) {
	m := New(idCols)
	rows := []*dtmeta.Row{
		row(dtmeta.RowInsert, nil, cols("id", 1, "v", 1)),
		row(dtmeta.RowUpdate, cols("id", 1, "v", 1), cols("id", 2, "v", 1)),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Len(t, td.InsertRows, 1)
	require.Equal(t, int64(2), td.InsertRows[0].After["id"].I64)
	require.Len(t, td.DeleteRows, 1)
	require.Equal(t, int64(1), td.DeleteRows[0].Before["id"].I64)
}

func TestDeleteThenInsertKeptInOrderAsUnmerged(t *testing.T) {
	m := New(idCols)
	rows := []*dtmeta.Row{
		row(dtmeta.RowDelete, cols("id", 1, "v", 1), nil),
		row(dtmeta.RowInsert, nil, cols("id", 1, "v", 2)),
	}
	merged, err := m.Merge(rows)
	require.NoError(t, err)
	td := merged["s.t"]
	require.Empty(t, td.InsertRows)
	require.Empty(t, td.DeleteRows)
	require.Len(t, td.UnmergedRows, 2)
	require.Equal(t, dtmeta.RowDelete, td.UnmergedRows[0].Type)
	require.Equal(t, dtmeta.RowInsert, td.UnmergedRows[1].Type)
}

func TestRowsFromDifferentTablesDoNotInteract(t *testing.T) {
	m := New(idCols)
	r1 := row(dtmeta.RowInsert, nil, cols("id", 1, "v", 1))
	r2 := row(dtmeta.RowInsert, nil, cols("id", 1, "v", 2))
	r2.Tb = "other"

	merged, err := m.Merge([]*dtmeta.Row{r1, r2})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	require.Len(t, merged["s.t"].InsertRows, 1)
	require.Len(t, merged["s.other"].InsertRows, 1)
}
