package parallelizer

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/queue"
	"github.com/dtstream/dts/pkg/sinker"
)

// FoxlakeParallelizer drains only the Foxlake file-handle items that
// share the first-seen sequencer_id and whose push_epoch is strictly
// increasing, then hands the whole run to a single sinker as one
// SinkRaw call: object-store files must be applied in push order within
// a sequencer, and a sequencer_id of 0 is treated as a singleton batch of
// one (spec §4.6 "foxlake", §9 open question resolved that way).
type FoxlakeParallelizer struct {
	Base
	lastPushEpoch map[uint64]uint64
}

func NewFoxlake(m *monitor.Monitor) *FoxlakeParallelizer {
	return &FoxlakeParallelizer{Base: NewBase(m), lastPushEpoch: make(map[uint64]uint64)}
}

func (p *FoxlakeParallelizer) Name() string { return "foxlake" }

// Drain overrides the base homogeneous-kind drain: it pulls Foxlake items
// only, stopping as soon as the sequencer_id changes from the first item
// drained, or a non-increasing push_epoch is seen for that sequencer
// (which would mean the file arrived out of order and must start a new
// batch), or a non-Foxlake item is encountered (pushed back and returned
// alone by the next Drain).
func (p *FoxlakeParallelizer) Drain(ctx context.Context, q *queue.StagingQueue, maxBatch int) ([]*dtmeta.Item, error) {
	var items []*dtmeta.Item
	var firstSeq uint64
	haveFirst := false

	single := false // the pushed-back item alone makes up this batch
	if it := p.pushback; it != nil {
		p.pushback = nil
		items = append(items, it)
		if it.Event == nil || it.Event.Kind != dtmeta.EventFoxlake {
			single = true
		} else if firstSeq, haveFirst = it.Event.Foxlake.SequencerID, true; firstSeq == 0 {
			single = true // a sequencer_id of 0 is always a singleton batch.
		} else {
			p.lastPushEpoch[firstSeq] = it.Event.Foxlake.PushEpoch
		}
	}

	for !single && (maxBatch <= 0 || len(items) < maxBatch) {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		item, ok := q.Pop()
		if !ok {
			break
		}
		if item.Event == nil || item.Event.Kind != dtmeta.EventFoxlake {
			p.pushback = item
			break
		}
		meta := item.Event.Foxlake

		if !haveFirst {
			firstSeq = meta.SequencerID
			haveFirst = true
			items = append(items, item)
			if meta.SequencerID != 0 {
				p.lastPushEpoch[meta.SequencerID] = meta.PushEpoch
			}
			if meta.SequencerID == 0 {
				break // a sequencer_id of 0 is always a singleton batch.
			}
			continue
		}

		if meta.SequencerID != firstSeq {
			p.pushback = item
			break
		}
		if meta.PushEpoch <= p.lastPushEpoch[firstSeq] {
			p.pushback = item
			break
		}
		p.lastPushEpoch[firstSeq] = meta.PushEpoch
		items = append(items, item)
	}

	var recordSize, recordCount uint64
	for _, it := range items {
		recordSize += it.DataSize()
		recordCount++
	}
	if p.Monitor != nil {
		p.Monitor.AddBatchCounter(monitor.CounterRecordSize, recordSize, 0)
		p.Monitor.AddBatchCounter(monitor.CounterRecordCount, 0, recordCount)
	}
	return items, nil
}

func (p *FoxlakeParallelizer) Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error {
	if len(items) == 0 || len(sinkers) == 0 {
		return nil
	}
	return sinkers[0].SinkRaw(ctx, items, true)
}
