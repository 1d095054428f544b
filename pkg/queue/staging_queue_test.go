package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func heartbeat(pos string) *dtmeta.Item {
	return dtmeta.NewHeartbeatItem(pos)
}

func dmlOfSize(size uint64) *dtmeta.Item {
	row := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, DataSize: size}
	return dtmeta.NewDmlItem(row, "", "node1")
}

func TestStagingQueuePushPopFIFO(t *testing.T) {
	q := New(4, 0)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, heartbeat("1")))
	require.NoError(t, q.Push(ctx, heartbeat("2")))
	require.NoError(t, q.Push(ctx, heartbeat("3")))
	require.Equal(t, 3, q.Len())

	item, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "1", item.Position)

	item, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, "2", item.Position)
}

func TestStagingQueuePopEmpty(t *testing.T) {
	q := New(4, 0)
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestStagingQueueItemCountBackpressure(t *testing.T) {
	q := New(2, 0)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, heartbeat("1")))
	require.NoError(t, q.Push(ctx, heartbeat("2")))
	require.True(t, q.IsFull())

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, heartbeat("3")) }()

	select {
	case <-pushed:
		t.Fatal("push should have blocked while queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.Pop()
	require.True(t, ok)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after a pop freed capacity")
	}
}

func TestStagingQueueByteBackpressure(t *testing.T) {
	q := New(100, 10)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, dmlOfSize(8)))
	require.Equal(t, uint64(8), q.CurrentBytes())

	// this push succeeds once (cur bytes 8 <= max 10), but puts the
	// queue over budget; the *next* push must block until a pop drains it.
	require.NoError(t, q.Push(ctx, dmlOfSize(8)))
	require.Equal(t, uint64(16), q.CurrentBytes())

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, dmlOfSize(1)) }()

	select {
	case <-pushed:
		t.Fatal("push should have blocked while over byte budget")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.Pop()
	require.True(t, ok)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock once byte budget recovered")
	}
}

func TestStagingQueueByteCounterResetsOnDrain(t *testing.T) {
	q := New(100, 0)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, dmlOfSize(5)))
	require.NoError(t, q.Push(ctx, dmlOfSize(7)))
	require.Equal(t, uint64(12), q.CurrentBytes())

	_, _ = q.Pop()
	_, _ = q.Pop()
	require.Equal(t, uint64(0), q.CurrentBytes())
}

func TestStagingQueuePushRespectsContextCancellation(t *testing.T) {
	q := New(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Push(ctx, heartbeat("1")))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Push(ctx, heartbeat("2")) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("push did not return after context cancellation")
	}
}
