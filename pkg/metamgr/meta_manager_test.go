package metamgr

import (
	"context"
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func TestGetTbMetaCachesOnFirstLookup(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
		calls++
		return &dtmeta.TableMeta{
			Schema:  schema,
			Tb:      tb,
			Columns: []dtmeta.ColumnDef{{Name: "id"}},
			KeyMap:  map[string][]string{"primary": {"id"}},
		}, nil
	})
	mgr := New(resolver)

	m1, err := mgr.GetTbMeta(context.Background(), "s", "t")
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, m1.IDCols)

	m2, err := mgr.GetTbMeta(context.Background(), "s", "t")
	require.NoError(t, err)
	require.Same(t, m1, m2)
	require.Equal(t, 1, calls, "second lookup must hit the cache, not the resolver")
}

func TestInvalidateForcesRefresh(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
		calls++
		return &dtmeta.TableMeta{Schema: schema, Tb: tb, Columns: []dtmeta.ColumnDef{{Name: "id"}}}, nil
	})
	mgr := New(resolver)

	_, err := mgr.GetTbMeta(context.Background(), "s", "t")
	require.NoError(t, err)
	mgr.Invalidate("s", "t")
	_, err = mgr.GetTbMeta(context.Background(), "s", "t")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestResolveIdentityPrefersPrimaryThenShortestUnique(t *testing.T) {
	resolver := ResolverFunc(func(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
		return &dtmeta.TableMeta{
			Schema:  schema,
			Tb:      tb,
			Columns: []dtmeta.ColumnDef{{Name: "a"}, {Name: "b"}, {Name: "c"}},
			KeyMap: map[string][]string{
				"uk_ab": {"a", "b"},
				"uk_c":  {"c"},
			},
		}, nil
	})
	mgr := New(resolver)
	meta, err := mgr.GetTbMeta(context.Background(), "s", "t")
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, meta.IDCols, "shortest unique key wins when there is no primary key")
	require.Equal(t, "c", meta.OrderCol)
	require.Equal(t, "c", meta.PartitionCol)
}

func TestResolveIdentityFallsBackToAllColumns(t *testing.T) {
	resolver := ResolverFunc(func(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
		return &dtmeta.TableMeta{
			Schema:  schema,
			Tb:      tb,
			Columns: []dtmeta.ColumnDef{{Name: "a"}, {Name: "b"}},
		}, nil
	})
	mgr := New(resolver)
	meta, err := mgr.GetTbMeta(context.Background(), "s", "t")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, meta.IDCols)
	require.Empty(t, meta.OrderCol, "order_col is only set when identity is a single column")
}
