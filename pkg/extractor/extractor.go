// Package extractor defines the narrow interface the pipeline core needs
// from a source connection. Wire-level binlog/WAL/oplog parsing is out
// of scope (spec.md §1 Non-goals); the concrete per-engine extractors in
// sibling packages establish and hold the source connection and push
// whatever events they do produce through PushFunc, leaving log decoding
// to a real extractor implementation dropped in later.
package extractor

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
)

// PushFunc is how an extractor hands an Item to the pipeline; it is
// task.Task.PushEvent in production and a recording stub in tests.
type PushFunc func(ctx context.Context, it *dtmeta.Item) error

// Extractor is the contract every source connection implements: Run
// blocks, producing items via push until ctx is cancelled or the source
// is exhausted (a finite snapshot), then returns.
type Extractor interface {
	Run(ctx context.Context, push PushFunc) error
	Close() error
}
