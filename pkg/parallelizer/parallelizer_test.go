package parallelizer

import (
	"context"
	"sync"
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/merger"
	"github.com/dtstream/dts/pkg/partitioner"
	"github.com/dtstream/dts/pkg/queue"
	"github.com/dtstream/dts/pkg/sinker"
	"github.com/stretchr/testify/require"
)

func sinkersOf(fakes ...*fakeSinker) []sinker.Sinker {
	out := make([]sinker.Sinker, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

// fakeSinker records every call it receives, guarded by a mutex since
// dispatch is allowed to call into multiple sinkers concurrently.
type fakeSinker struct {
	mu       sync.Mutex
	dmlCalls [][]*dtmeta.Row
	ddlCalls [][]*dtmeta.DdlData
	rawCalls [][]*dtmeta.Item
	refreshed []*dtmeta.DdlData
}

func (f *fakeSinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmlCalls = append(f.dmlCalls, rows)
	return nil
}

func (f *fakeSinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ddlCalls = append(f.ddlCalls, ddls)
	return nil
}

func (f *fakeSinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCalls = append(f.rawCalls, items)
	return nil
}

func (f *fakeSinker) RefreshMeta(ddls []*dtmeta.DdlData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, ddls...)
}

func (f *fakeSinker) Close() error { return nil }

func (f *fakeSinker) totalDMLRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.dmlCalls {
		n += len(c)
	}
	return n
}

func insertRow(schema, tb, pk string) *dtmeta.Row {
	return &dtmeta.Row{
		Schema: schema,
		Tb:     tb,
		Type:   dtmeta.RowInsert,
		After:  map[string]dtmeta.ColValue{"id": dtmeta.NewString(pk)},
	}
}

func TestSerialParallelizerAppliesOneRowAtATime(t *testing.T) {
	p := NewSerial(nil)
	s := &fakeSinker{}
	items := []*dtmeta.Item{
		dtmeta.NewDmlItem(insertRow("s", "t", "1"), "", ""),
		dtmeta.NewDmlItem(insertRow("s", "t", "2"), "", ""),
	}
	err := p.Dispatch(context.Background(), items, sinkersOf(s))
	require.NoError(t, err)
	require.Len(t, s.dmlCalls, 2)
	require.Len(t, s.dmlCalls[0], 1)
}

func TestSnapshotParallelizerSplitsAcrossSinkers(t *testing.T) {
	p := NewSnapshot(nil)
	s1, s2 := &fakeSinker{}, &fakeSinker{}
	var rows []*dtmeta.Item
	for i := 0; i < 10; i++ {
		rows = append(rows, dtmeta.NewDmlItem(insertRow("s", "t", "x"), "", ""))
	}
	err := p.Dispatch(context.Background(), rows, sinkersOf(s1, s2))
	require.NoError(t, err)
	require.Equal(t, 10, s1.totalDMLRows()+s2.totalDMLRows())
}

func TestTableParallelizerKeepsOneTableOnOneSinker(t *testing.T) {
	p := NewTable(nil)
	s1, s2 := &fakeSinker{}, &fakeSinker{}
	var items []*dtmeta.Item
	for i := 0; i < 6; i++ {
		items = append(items, dtmeta.NewDmlItem(insertRow("s", "orders", "x"), "", ""))
	}
	err := p.Dispatch(context.Background(), items, sinkersOf(s1, s2))
	require.NoError(t, err)
	// every "orders" row must land on the same bucket.
	total := s1.totalDMLRows() + s2.totalDMLRows()
	require.Equal(t, 6, total)
	require.True(t, s1.totalDMLRows() == 0 || s2.totalDMLRows() == 0)
}

func TestPartitionParallelizerHonorsDrainGuard(t *testing.T) {
	lookup := func(schema, tb string) (*dtmeta.TableMeta, error) {
		return &dtmeta.TableMeta{Schema: schema, Tb: tb, IDCols: []string{"id"}, KeyMap: map[string][]string{"primary": {"id"}}, PartitionCol: "id"}, nil
	}
	part := partitioner.New(lookup)
	p := NewPartition(nil, part)
	s1, s2 := &fakeSinker{}, &fakeSinker{}

	update := &dtmeta.Row{
		Schema: "s", Tb: "t", Type: dtmeta.RowUpdate,
		Before: map[string]dtmeta.ColValue{"id": dtmeta.NewString("1")},
		After:  map[string]dtmeta.ColValue{"id": dtmeta.NewString("2")},
	}
	items := []*dtmeta.Item{
		dtmeta.NewDmlItem(insertRow("s", "t", "9"), "", ""),
		dtmeta.NewDmlItem(update, "", ""),
		dtmeta.NewDmlItem(insertRow("s", "t", "10"), "", ""),
	}
	err := p.Dispatch(context.Background(), items, sinkersOf(s1, s2))
	require.NoError(t, err)
	require.Equal(t, 3, s1.totalDMLRows()+s2.totalDMLRows())
}

func TestMergeParallelizerAppliesDeletesBeforeInserts(t *testing.T) {
	idCols := func(schema, tb string) ([]string, error) { return []string{"id"}, nil }
	mg := merger.New(idCols)
	p := NewMerge(nil, mg)
	s := &fakeSinker{}

	del := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowDelete, Before: map[string]dtmeta.ColValue{"id": dtmeta.NewString("1")}}
	ins := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewString("2")}}
	items := []*dtmeta.Item{
		dtmeta.NewDmlItem(del, "", ""),
		dtmeta.NewDmlItem(ins, "", ""),
	}
	err := p.Dispatch(context.Background(), items, sinkersOf(s))
	require.NoError(t, err)
	require.Len(t, s.dmlCalls, 2)
	require.Equal(t, dtmeta.RowDelete, s.dmlCalls[0][0].Type)
	require.Equal(t, dtmeta.RowInsert, s.dmlCalls[1][0].Type)
}

func TestFoxlakeParallelizerGroupsBySequencerAndEpoch(t *testing.T) {
	p := NewFoxlake(nil)
	q := queue.New(10, 0)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, dtmeta.NewFoxlakeItem(&dtmeta.FoxlakeFileMeta{SequencerID: 7, PushEpoch: 1, ObjectKey: "a"}, "")))
	require.NoError(t, q.Push(ctx, dtmeta.NewFoxlakeItem(&dtmeta.FoxlakeFileMeta{SequencerID: 7, PushEpoch: 2, ObjectKey: "b"}, "")))
	require.NoError(t, q.Push(ctx, dtmeta.NewFoxlakeItem(&dtmeta.FoxlakeFileMeta{SequencerID: 8, PushEpoch: 1, ObjectKey: "c"}, "")))

	items, err := p.Drain(ctx, q, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	s := &fakeSinker{}
	require.NoError(t, p.Dispatch(ctx, items, sinkersOf(s)))
	require.Len(t, s.rawCalls, 1)
	require.Len(t, s.rawCalls[0], 2)

	rest, err := p.Drain(ctx, q, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, uint64(8), rest[0].Event.Foxlake.SequencerID)
}

func TestCheckParallelizerSplitsRowsAcrossWorkers(t *testing.T) {
	p := NewCheck(nil)
	s1, s2 := &fakeSinker{}, &fakeSinker{}
	var items []*dtmeta.Item
	for i := 0; i < 4; i++ {
		items = append(items, dtmeta.NewDmlItem(insertRow("s", "t", "x"), "", ""))
	}
	err := p.Dispatch(context.Background(), items, sinkersOf(s1, s2))
	require.NoError(t, err)
	require.Equal(t, 4, s1.totalDMLRows()+s2.totalDMLRows())
}
