package parallelizer

import (
	"context"
	"hash/fnv"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/sinker"
)

// TableParallelizer routes every row to a sinker chosen by hashing its
// schema.tb, so all rows of one table always land on the same sinker and
// keep their relative order, while different tables apply concurrently
// (spec §4.6 "table").
type TableParallelizer struct {
	Base
}

func NewTable(m *monitor.Monitor) *TableParallelizer {
	return &TableParallelizer{Base: NewBase(m)}
}

func (p *TableParallelizer) Name() string { return "table" }

func tableBucket(schema, tb string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(schema))
	h.Write([]byte{'.'})
	h.Write([]byte(tb))
	return int(h.Sum32() % uint32(n))
}

func (p *TableParallelizer) Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error {
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

	buckets := make(map[int][]*dtmeta.Row)
	var order []int
	for _, row := range rows {
		b := tableBucket(row.Schema, row.Tb, len(sinkers))
		if _, ok := buckets[b]; !ok {
			order = append(order, b)
		}
		buckets[b] = append(buckets[b], row)
	}

	tasks := make([]func() error, 0, len(order))
	for _, b := range order {
		s := sinkers[b]
		rowsForBucket := buckets[b]
		tasks = append(tasks, func() error {
			return s.SinkDML(ctx, rowsForBucket, true)
		})
	}
	return runConcurrently(len(tasks), tasks)
}
