// Package queue implements the bounded single-producer/multi-consumer
// staging queue described in spec §4.1: the only point where the
// extractor and the dispatcher synchronise.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtstream/dts/pkg/dtmeta"
)

// pushSuspendInterval is the step the producer sleeps between capacity
// checks while StagingQueue.Push is blocked (spec §4.1, §5 suspension
// point (a)).
const pushSuspendInterval = time.Millisecond

// StagingQueue is a fixed-capacity FIFO queue of *dtmeta.Item,
// parameterised by (maxItems, maxBytes). It never reorders items: FIFO
// per producer is preserved exactly (spec §4.1).
type StagingQueue struct {
	mu        sync.Mutex
	items     []*dtmeta.Item
	maxItems  int
	maxBytes  uint64
	checkByte bool
	curBytes  uint64
}

// New builds a StagingQueue with the given item-count and byte-count
// ceilings. maxBytes <= 0 disables byte-count backpressure (spec §4.1).
func New(maxItems int, maxBytes uint64) *StagingQueue {
	return &StagingQueue{
		items:     make([]*dtmeta.Item, 0, maxItems),
		maxItems:  maxItems,
		maxBytes:  maxBytes,
		checkByte: maxBytes > 0,
	}
}

// Push enqueues item, suspending the caller in 1ms steps while the queue
// is at max item count or (if byte-accounting is enabled) already over
// its byte ceiling, then atomically enqueues and adds item.DataSize() to
// the byte counter (spec §4.1). Push returns ctx.Err() if ctx is
// cancelled while suspended.
func (q *StagingQueue) Push(ctx context.Context, item *dtmeta.Item) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.mu.Lock()
		full := len(q.items) >= q.maxItems
		overBytes := q.checkByte && atomic.LoadUint64(&q.curBytes) > q.maxBytes
		if !full && !overBytes {
			q.items = append(q.items, item)
			atomic.AddUint64(&q.curBytes, item.DataSize())
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pushSuspendInterval):
		}
	}
}

// Pop is non-blocking: it returns (item, true) if the queue is
// non-empty, else (nil, false). On success it subtracts item.DataSize()
// from the byte counter; if the queue becomes empty the counter is reset
// to 0 outright rather than left to float, defensively absorbing any
// accounting drift (spec §4.1, §9 open question (b)).
func (q *StagingQueue) Pop() (*dtmeta.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]

	if len(q.items) == 0 {
		atomic.StoreUint64(&q.curBytes, 0)
	} else {
		size := item.DataSize()
		for {
			cur := atomic.LoadUint64(&q.curBytes)
			var next uint64
			if size > cur {
				next = 0
			} else {
				next = cur - size
			}
			if atomic.CompareAndSwapUint64(&q.curBytes, cur, next) {
				break
			}
		}
	}
	return item, true
}

// Len returns the current item count.
func (q *StagingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue currently holds no items.
func (q *StagingQueue) IsEmpty() bool {
	return q.Len() == 0
}

// IsFull reports whether the queue is at its item-count ceiling. Push
// also suspends on the byte ceiling, which IsFull does not reflect.
func (q *StagingQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.maxItems
}

// CurrentBytes returns the queue's current byte-count accounting value.
func (q *StagingQueue) CurrentBytes() uint64 {
	return atomic.LoadUint64(&q.curBytes)
}
