package partitioner

import (
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func metaWithPK() *dtmeta.TableMeta {
	m := &dtmeta.TableMeta{
		Schema: "s", Tb: "t",
		KeyMap: map[string][]string{"primary": {"id"}},
	}
	m.ResolveIdentity()
	return m
}

func lookupFixed(m *dtmeta.TableMeta) TableMetaLookup {
	return func(schema, tb string) (*dtmeta.TableMeta, error) { return m, nil }
}

func rowUpdate(idBefore, vBefore, idAfter, vAfter int64) *dtmeta.Row {
	return &dtmeta.Row{
		Schema: "s", Tb: "t", Type: dtmeta.RowUpdate,
		Before: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(idBefore), "v": dtmeta.NewInt(vBefore)},
		After:  map[string]dtmeta.ColValue{"id": dtmeta.NewInt(idAfter), "v": dtmeta.NewInt(vAfter)},
	}
}

// Scenario 4 (spec §8): two updates on id=1, neither changing the key
// column, must land in the same partition.
func TestPartitionGuardKeepsSameKeyUpdatesTogether(t *testing.T) {
	p := New(lookupFixed(metaWithPK()))

	r1 := rowUpdate(1, 1, 1, 3)
	r2 := rowUpdate(1, 3, 1, 5)

	ok1, err := p.CanBePartitioned(r1)
	require.NoError(t, err)
	require.True(t, ok1)
	ok2, err := p.CanBePartitioned(r2)
	require.NoError(t, err)
	require.True(t, ok2)

	parts, err := p.Partition([]*dtmeta.Row{r1, r2}, 2)
	require.NoError(t, err)

	total := 0
	owner := -1
	for i, part := range parts {
		total += len(part)
		if len(part) > 0 {
			if owner == -1 {
				owner = i
			} else {
				require.Equal(t, owner, i, "both updates on id=1 must land in the same partition")
			}
		}
	}
	require.Equal(t, 2, total)
}

func TestCanBePartitionedRejectsKeyColumnChange(t *testing.T) {
	p := New(lookupFixed(metaWithPK()))
	r := rowUpdate(1, 1, 2, 1)
	ok, err := p.CanBePartitioned(r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanBePartitionedAlwaysTrueForInsertDelete(t *testing.T) {
	p := New(lookupFixed(metaWithPK()))
	ins := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(1)}}
	del := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowDelete, Before: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(1)}}
	ok, err := p.CanBePartitioned(ins)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = p.CanBePartitioned(del)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPartitionCountOneSendsEverythingToZero(t *testing.T) {
	p := New(lookupFixed(metaWithPK()))
	rows := []*dtmeta.Row{
		{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(1)}},
		{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(2)}},
	}
	parts, err := p.Partition(rows, 1)
	require.NoError(t, err)
	require.Len(t, parts[0], 2)
}

func TestDrainGuardStopsIncludingOffendingRow(t *testing.T) {
	p := New(lookupFixed(metaWithPK()))
	safe := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(1)}}
	guard := rowUpdate(2, 1, 3, 1) // key column changes: 2 -> 3
	after := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(4)}}

	batch, stopped, err := p.DrainGuard([]*dtmeta.Row{safe, guard, after})
	require.NoError(t, err)
	require.True(t, stopped)
	require.Len(t, batch, 2, "the offending row is included, but nothing after it")
	require.Same(t, guard, batch[1])
}

func TestKeyMapEmptyChecksPartitionColOnly(t *testing.T) {
	m := &dtmeta.TableMeta{Schema: "s", Tb: "t", KeyMap: map[string][]string{}}
	m.IDCols = []string{"id"}
	m.PartitionCol = "id"
	p := New(lookupFixed(m))

	changed := rowUpdate(1, 1, 2, 1)
	ok, err := p.CanBePartitioned(changed)
	require.NoError(t, err)
	require.False(t, ok)

	unchanged := rowUpdate(1, 1, 1, 2)
	ok, err = p.CanBePartitioned(unchanged)
	require.NoError(t, err)
	require.True(t, ok)
}
