package parallelizer

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/partitioner"
	"github.com/dtstream/dts/pkg/sinker"
)

// PartitionParallelizer hash-partitions a batch of rows across the
// available sinkers, using the partitioner's drain guard to end the batch
// right after (and including) any row that would split a run of same-key
// updates across partitions
// (spec §4.4, §4.6 "partition").
type PartitionParallelizer struct {
	Base
	Partitioner *partitioner.Partitioner
}

func NewPartition(m *monitor.Monitor, part *partitioner.Partitioner) *PartitionParallelizer {
	return &PartitionParallelizer{Base: NewBase(m), Partitioner: part}
}

func (p *PartitionParallelizer) Name() string { return "partition" }

func (p *PartitionParallelizer) Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error {
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

	// The drain guard may split rows into several segments that must each
	// be fully applied, in order, before the next segment starts: only
	// within a segment is cross-partition concurrency safe (spec §4.4).
	for len(rows) > 0 {
		segment, _, err := p.Partitioner.DrainGuard(rows)
		if err != nil {
			return err
		}
		if err := p.dispatchSegment(ctx, segment, sinkers); err != nil {
			return err
		}
		rows = rows[len(segment):]
	}
	return nil
}

func (p *PartitionParallelizer) dispatchSegment(ctx context.Context, rows []*dtmeta.Row, sinkers []sinker.Sinker) error {
	buckets, err := p.Partitioner.Partition(rows, len(sinkers))
	if err != nil {
		return err
	}

	tasks := make([]func() error, 0, len(buckets))
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		s := sinkers[i]
		bucket := bucket
		tasks = append(tasks, func() error {
			return s.SinkDML(ctx, bucket, true)
		})
	}
	return runConcurrently(len(tasks), tasks)
}
