// Package parallelizer implements the six batch-dispatch strategies of
// spec §4.6: each drains a bounded prefix of the staging queue and
// decides how to slice it into sub-batches for the SinkerPool's parallel
// workers.
package parallelizer

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/queue"
	"github.com/dtstream/dts/pkg/sinker"
)

// Parallelizer is the interface every variant implements; Task wires one
// into the StagingQueue -> ... -> SinkerPool chain (spec §2).
type Parallelizer interface {
	Name() string
	// Drain pulls a bounded prefix of items from q, respecting the rule
	// that a DDL event never shares a batch with DML (spec §4.6).
	Drain(ctx context.Context, q *queue.StagingQueue, maxBatch int) ([]*dtmeta.Item, error)
	// Dispatch applies a drained batch to sinkers per this variant's
	// strategy.
	Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error
}

// isDDL reports whether it is a DDL event; every other kind (DML,
// Begin/Commit, Heartbeat, Redis, Foxlake) is treated as the "DML side"
// for the purpose of the no-interleaving rule.
func isDDL(it *dtmeta.Item) bool {
	return it.Event != nil && it.Event.Kind == dtmeta.EventDdl
}

// Base provides the shared drain loop (with its one-slot pushback
// buffer) and monitor wiring used by every variant (spec §4.6, §5).
type Base struct {
	Monitor  *monitor.Monitor
	pushback *dtmeta.Item
}

func NewBase(m *monitor.Monitor) Base {
	if m == nil {
		m = monitor.New()
	}
	return Base{Monitor: m}
}

// Drain pulls up to maxBatch items from q. The draining loop pushes back
// the first "wrong-kind" head into a one-slot pushback buffer so a DDL
// event is never returned in the same batch as DML, in either direction
// (spec §4.6, §5 "DDL is never interleaved with DML").
func (b *Base) Drain(ctx context.Context, q *queue.StagingQueue, maxBatch int) ([]*dtmeta.Item, error) {
	var items []*dtmeta.Item
	var recordSize, recordCount uint64

	if b.pushback != nil {
		items = append(items, b.pushback)
		recordSize += b.pushback.DataSize()
		recordCount++
		b.pushback = nil
	}

	for maxBatch <= 0 || len(items) < maxBatch {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		item, ok := q.Pop()
		if !ok {
			break
		}

		if len(items) == 0 {
			items = append(items, item)
			recordSize += item.DataSize()
			recordCount++
			continue
		}

		if isDDL(items[0]) != isDDL(item) {
			b.pushback = item
			break
		}
		items = append(items, item)
		recordSize += item.DataSize()
		recordCount++
	}

	if b.Monitor != nil {
		b.Monitor.AddBatchCounter(monitor.CounterRecordSize, recordSize, 0)
		b.Monitor.AddBatchCounter(monitor.CounterRecordCount, 0, recordCount)
	}
	return items, nil
}

// SplitDDLDML separates a drained batch (already guaranteed homogeneous
// by Drain) into its DDL and Row views for variants that only care about
// one side.
func SplitDDLDML(items []*dtmeta.Item) (ddls []*dtmeta.DdlData, rows []*dtmeta.Row, rest []*dtmeta.Item) {
	for _, it := range items {
		switch it.Event.Kind {
		case dtmeta.EventDdl:
			ddls = append(ddls, it.Event.Ddl)
		case dtmeta.EventDml:
			rows = append(rows, it.Event.Row)
		default:
			rest = append(rest, it)
		}
	}
	return
}
