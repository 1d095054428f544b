// Package task wires a StagingQueue, a Parallelizer, a MetaManager and a
// pool of Sinkers into the running pipeline described in spec §2/§5: the
// dispatcher loop drains batches and dispatches them until a shared
// shutdown flag is set and the queue has drained.
package task

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/datamarker"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/parallelizer"
	"github.com/dtstream/dts/pkg/queue"
	"github.com/dtstream/dts/pkg/resumer"
	"github.com/dtstream/dts/pkg/sinker"
)

// ChaosConfig randomly drops heartbeat items and delays every push on the
// extractor path; it is a test-only hook for exercising backpressure and
// resume behavior (ape-dts's source/logical/chaos.rs analogue) and must
// never be set outside tests.
type ChaosConfig struct {
	Enabled     bool
	DropRate    float64       // [0,1): probability a heartbeat item is dropped.
	DelayJitter time.Duration // extra sleep applied before a push, at most this long.
}

func (c ChaosConfig) apply(ctx context.Context, it *dtmeta.Item) (*dtmeta.Item, error) {
	if !c.Enabled {
		return it, nil
	}
	if it.Event != nil && it.Event.Kind == dtmeta.EventHeartbeat && c.DropRate > 0 && rand.Float64() < c.DropRate {
		return nil, nil
	}
	if c.DelayJitter > 0 {
		d := time.Duration(rand.Int63n(int64(c.DelayJitter)))
		select {
		case <-ctx.Done():
			return it, ctx.Err()
		case <-time.After(d):
		}
	}
	return it, nil
}

// Task is one running instance of the pipeline (spec §2): its queue, its
// dispatcher's Parallelizer choice, its sinker pool, and the shared
// shutdown flag observed by both the extractor and the dispatcher loop.
type Task struct {
	Config       *config.TaskConfig
	Queue        *queue.StagingQueue
	MetaManager  *metamgr.MetaManager
	DataMarker   *datamarker.DataMarker
	Parallelizer parallelizer.Parallelizer
	Sinkers      []sinker.Sinker
	Resumer      *resumer.PositionTracker
	Monitor      *monitor.Monitor
	Chaos        ChaosConfig

	shutDown int32

	pendingMu      sync.Mutex
	pendingCurrent map[tableTag]dtmeta.Position
}

type tableTag struct{ schema, tb string }

// New assembles a Task from its already-constructed components; the CLI
// layer (cmd/dts) is responsible for building each of these from a
// decoded config.TaskConfig and wiring engine-specific resolvers/sinkers.
func New(cfg *config.TaskConfig, q *queue.StagingQueue, meta *metamgr.MetaManager, dm *datamarker.DataMarker, p parallelizer.Parallelizer, sinkers []sinker.Sinker, res *resumer.PositionTracker, mon *monitor.Monitor) *Task {
	return &Task{
		Config:         cfg,
		Queue:          q,
		MetaManager:    meta,
		DataMarker:     dm,
		Parallelizer:   p,
		Sinkers:        sinkers,
		Resumer:        res,
		Monitor:        mon,
		pendingCurrent: make(map[tableTag]dtmeta.Position),
	}
}

// RequestShutdown sets the shared shutdown flag observed by the
// extractor (to stop producing) and the dispatcher loop's termination
// condition (spec §5 "shut_down ∧ queue.is_empty").
func (t *Task) RequestShutdown() {
	atomic.StoreInt32(&t.shutDown, 1)
}

func (t *Task) isShutDown() bool {
	return atomic.LoadInt32(&t.shutDown) == 1
}

// PushEvent is the extractor-facing entry point: it applies the data
// marker (if configured) and any chaos hook, then pushes onto the
// staging queue, suspending per spec §4.1/§5 if the queue is full.
func (t *Task) PushEvent(ctx context.Context, it *dtmeta.Item) error {
	if t.isShutDown() {
		return nil
	}

	if t.DataMarker != nil {
		origin, drop := t.DataMarker.Apply(it)
		it.DataOriginNode = origin
		if drop {
			return nil
		}
	}

	chaosed, err := t.Chaos.apply(ctx, it)
	if err != nil {
		return err
	}
	if chaosed == nil {
		return nil
	}

	if err := t.Queue.Push(ctx, chaosed); err != nil {
		return dtserr.Wrap(dtserr.KindExtractorIO, err, "push item onto staging queue")
	}
	return nil
}

// Run drives the dispatcher loop (spec §2, §5): drain a bounded batch,
// dispatch it through the configured Parallelizer, and repeat until
// shutdown has been requested and the queue is empty. batchMaxItems <= 0
// drains whatever is currently queued.
func (t *Task) Run(ctx context.Context, batchMaxItems int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := t.Parallelizer.Drain(ctx, t.Queue, batchMaxItems)
		if err != nil {
			return err
		}

		if len(items) == 0 {
			if t.isShutDown() && t.Queue.IsEmpty() {
				return nil
			}
			// dispatcher yields between empty polls (spec §5 suspension
			// point (b)) rather than busy-spinning on an empty queue.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}

		t.invalidateMetaForDDL(items)

		if err := t.Parallelizer.Dispatch(ctx, items, t.Sinkers); err != nil {
			logutil.Errorf("task: dispatch failed: %v", err)
			return err
		}

		t.recordCheckpoints(items)
	}
}

// invalidateMetaForDDL drops cached table meta synchronously before any
// subsequent event for that table is dispatched (spec §4.3).
func (t *Task) invalidateMetaForDDL(items []*dtmeta.Item) {
	if t.MetaManager == nil {
		return
	}
	for _, it := range items {
		if it.Event != nil && it.Event.Kind == dtmeta.EventDdl && it.Event.Ddl != nil {
			t.MetaManager.Invalidate(it.Event.Ddl.Schema, it.Event.Ddl.Tb)
		}
	}
}

// recordCheckpoints records every DML item's position as the current
// position, and promotes the latest current position of every table
// touched since the last commit to a durable checkpoint the moment a
// Commit item is seen (spec §4.9's "current position — every event" vs
// "checkpoint position — commit boundaries only"). A Commit item carries
// no schema/tb of its own (one transaction may span several tables), so
// it closes out every table with a pending current position rather than
// a single one.
func (t *Task) recordCheckpoints(items []*dtmeta.Item) {
	if t.Resumer == nil {
		return
	}
	for _, it := range items {
		if it.Event == nil {
			continue
		}
		switch it.Event.Kind {
		case dtmeta.EventDml:
			if it.Event.Row == nil {
				continue
			}
			row := it.Event.Row
			pos := dtmeta.Position{Kind: dtmeta.PositionRdbSnapshot, Schema: row.Schema, Tb: row.Tb, Value: it.Position}
			t.Resumer.Observe(row.Schema, row.Tb, "", pos)

			t.pendingMu.Lock()
			t.pendingCurrent[tableTag{row.Schema, row.Tb}] = pos
			t.pendingMu.Unlock()

		case dtmeta.EventCommit:
			t.pendingMu.Lock()
			for tag, pos := range t.pendingCurrent {
				t.Resumer.Checkpoint(tag.schema, tag.tb, "", pos)
			}
			t.pendingMu.Unlock()
		}
	}
}
