package parallelizer

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/sinker"
)

// CheckParallelizer drives the check/revise/review pipeline (spec §4.8):
// it never mutates the destination, it only dispatches rows to a check
// sinker whose SinkDML implementation batch-SELECTs the destination and
// writes miss/diff log lines. Rows split evenly across check workers the
// same way a snapshot would, since check order carries no semantics.
type CheckParallelizer struct {
	Base
}

func NewCheck(m *monitor.Monitor) *CheckParallelizer {
	return &CheckParallelizer{Base: NewBase(m)}
}

func (p *CheckParallelizer) Name() string { return "check" }

func (p *CheckParallelizer) Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error {
	if len(items) == 0 || len(sinkers) == 0 {
		return nil
	}

	ddls, rows, rest := SplitDDLDML(items)
	if len(ddls) > 0 {
		// DDL carries no row identity to check; skip it rather than
		// attempt a schema-level diff.
		return nil
	}
	if len(rest) > 0 {
		if err := sinkers[0].SinkRaw(ctx, rest, true); err != nil {
			return err
		}
	}
	if len(rows) == 0 {
		return nil
	}

	chunks := splitEvenly(rows, len(sinkers))
	tasks := make([]func() error, 0, len(chunks))
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		s := sinkers[i]
		chunk := chunk
		tasks = append(tasks, func() error {
			return s.SinkDML(ctx, chunk, true)
		})
	}
	return runConcurrently(len(tasks), tasks)
}
