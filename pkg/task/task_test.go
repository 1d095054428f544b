package task

import (
	"context"
	"testing"
	"time"

	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/parallelizer"
	"github.com/dtstream/dts/pkg/queue"
	"github.com/dtstream/dts/pkg/resumer"
	"github.com/dtstream/dts/pkg/sinker"
	"github.com/stretchr/testify/require"
)

type recordingSinker struct {
	rows []*dtmeta.Row
}

func (r *recordingSinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error {
	r.rows = append(r.rows, rows...)
	return nil
}
func (r *recordingSinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	return nil
}
func (r *recordingSinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error {
	return nil
}
func (r *recordingSinker) RefreshMeta(ddls []*dtmeta.DdlData) {}
func (r *recordingSinker) Close() error                       { return nil }

func TestTaskRunDrainsUntilShutdownAndEmpty(t *testing.T) {
	q := queue.New(100, 0)
	p := parallelizer.NewSerial(monitor.New())
	s := &recordingSinker{}
	tr, err := resumer.Load(resumer.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	tk := New(&config.TaskConfig{}, q, nil, nil, p, []sinker.Sinker{s}, tr, monitor.New())

	ctx := context.Background()
	row := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewString("1")}}
	require.NoError(t, tk.PushEvent(ctx, dtmeta.NewDmlItem(row, "pos1", "")))
	require.NoError(t, tk.PushEvent(ctx, dtmeta.NewCommitItem("xid1", "pos2", "")))

	tk.RequestShutdown()

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tk.Run(runCtx, 10))

	require.Len(t, s.rows, 1)
	require.Equal(t, "pos1", tk.Resumer.Resolve("s", "t", "").Value)
}

func TestPushEventDropsAfterShutdownRequested(t *testing.T) {
	q := queue.New(100, 0)
	tk := New(&config.TaskConfig{}, q, nil, nil, parallelizer.NewSerial(nil), nil, nil, monitor.New())
	tk.RequestShutdown()

	row := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{"id": dtmeta.NewString("1")}}
	require.NoError(t, tk.PushEvent(context.Background(), dtmeta.NewDmlItem(row, "pos", "")))
	require.Equal(t, 0, q.Len())
}
