package parallelizer

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/sinker"
)

// SnapshotParallelizer is used for the full-data snapshot phase, where
// every row is an Insert and there is no ordering constraint between
// rows of the same table: the drained batch is sliced evenly across the
// available sinkers and applied concurrently (spec §4.6 "snapshot").
type SnapshotParallelizer struct {
	Base
}

func NewSnapshot(m *monitor.Monitor) *SnapshotParallelizer {
	return &SnapshotParallelizer{Base: NewBase(m)}
}

func (p *SnapshotParallelizer) Name() string { return "snapshot" }

func (p *SnapshotParallelizer) Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error {
	if len(items) == 0 || len(sinkers) == 0 {
		return nil
	}

	ddls, rows, rest := SplitDDLDML(items)
	if len(ddls) > 0 {
		s := sinkers[0]
		if err := s.SinkDDL(ctx, ddls, true); err != nil {
			return err
		}
		s.RefreshMeta(ddls)
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

// splitEvenly divides rows into at most n contiguous chunks, preserving
// relative order within each chunk.
func splitEvenly(rows []*dtmeta.Row, n int) [][]*dtmeta.Row {
	if n <= 0 {
		n = 1
	}
	if n > len(rows) {
		n = len(rows)
	}
	if n == 0 {
		return nil
	}
	chunks := make([][]*dtmeta.Row, n)
	base := len(rows) / n
	rem := len(rows) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		chunks[i] = rows[start : start+size]
		start += size
	}
	return chunks
}
