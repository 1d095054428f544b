package datamarker

import (
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		TopoName:     "topo1",
		SrcNode:      "A",
		DstNode:      "B",
		DoNodes:      []string{"A"},
		IgnoreNodes:  nil,
		MarkerSchema: "dts_meta",
		MarkerTb:     "data_marker",
	}
}

func markerRow(origin string) *dtmeta.Row {
	return &dtmeta.Row{
		Schema: "dts_meta",
		Tb:     "data_marker",
		Type:   dtmeta.RowInsert,
		After:  map[string]dtmeta.ColValue{"data_origin_node": dtmeta.NewString(origin)},
	}
}

// TestCycleFilter exercises spec §8 end-to-end scenario 5: a marker row
// sets origin=B in a task whose do_nodes={A}; every subsequent row in the
// transaction is dropped, and the marker row itself is never forwarded.
func TestCycleFilter(t *testing.T) {
	m, err := New(baseConfig(), false)
	require.NoError(t, err)

	beginItem := dtmeta.NewBeginItem("p0", "")
	_, drop := m.Apply(beginItem)
	require.False(t, drop)
	require.Equal(t, "A", m.DataOriginNode())

	markerItem := dtmeta.NewDmlItem(markerRow("B"), "p1", "")
	_, drop = m.Apply(markerItem)
	require.True(t, drop, "marker row itself must always be dropped")
	require.Equal(t, "B", m.DataOriginNode())

	otherRow := &dtmeta.Row{Schema: "app", Tb: "orders", Type: dtmeta.RowInsert,
		After: map[string]dtmeta.ColValue{"id": dtmeta.NewInt(1)}}
	_, drop = m.Apply(dtmeta.NewDmlItem(otherRow, "p2", ""))
	require.True(t, drop, "rows after an origin=B marker must be filtered when do_nodes={A}")
}

func TestDefaultOriginIsSrcNodeWhenNoMarkerSeen(t *testing.T) {
	m, err := New(baseConfig(), false)
	require.NoError(t, err)

	row := &dtmeta.Row{Schema: "app", Tb: "orders", Type: dtmeta.RowInsert}
	origin, drop := m.Apply(dtmeta.NewDmlItem(row, "p1", ""))
	require.Equal(t, "A", origin)
	require.False(t, drop)
}

func TestResetOnTransactionBoundary(t *testing.T) {
	m, err := New(baseConfig(), false)
	require.NoError(t, err)

	m.Apply(dtmeta.NewDmlItem(markerRow("B"), "p1", ""))
	require.Equal(t, "B", m.DataOriginNode())

	m.Apply(dtmeta.NewBeginItem("p2", ""))
	require.Equal(t, "A", m.DataOriginNode(), "reset must restore src_node at the next transaction boundary")
}

func TestConfigRequiresSchemaDotTableForm(t *testing.T) {
	cfg := baseConfig()
	cfg.MarkerTb = ""
	_, err := New(cfg, false)
	require.Error(t, err)
}

func TestRedisMarkerKeyMatchesHashTagVariant(t *testing.T) {
	cfg := baseConfig()
	cfg.MarkerKey = "marker"
	m, err := New(cfg, true)
	require.NoError(t, err)

	require.True(t, m.IsMarkerEvent(&dtmeta.Event{Kind: dtmeta.EventRedis,
		Redis: &dtmeta.RedisEntry{IsRaw: true, Key: "marker{a}"}}))
	require.True(t, m.IsMarkerEvent(&dtmeta.Event{Kind: dtmeta.EventRedis,
		Redis: &dtmeta.RedisEntry{IsRaw: true, Key: "marker"}}))
	require.False(t, m.IsMarkerEvent(&dtmeta.Event{Kind: dtmeta.EventRedis,
		Redis: &dtmeta.RedisEntry{IsRaw: true, Key: "markerother"}}))
}
