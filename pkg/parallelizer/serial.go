package parallelizer

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/sinker"
)

// SerialParallelizer applies a drained batch to a single sinker, one item
// at a time, in queue order. It is the default for single-threaded
// snapshot/cdc tasks where the source and destination both require strict
// ordering (spec §4.6 "serial").
type SerialParallelizer struct {
	Base
}

func NewSerial(m *monitor.Monitor) *SerialParallelizer {
	return &SerialParallelizer{Base: NewBase(m)}
}

func (p *SerialParallelizer) Name() string { return "serial" }

func (p *SerialParallelizer) Dispatch(ctx context.Context, items []*dtmeta.Item, sinkers []sinker.Sinker) error {
	if len(items) == 0 {
		return nil
	}
	if len(sinkers) == 0 {
		return nil
	}
	s := sinkers[0]

	ddls, rows, rest := SplitDDLDML(items)
	if len(ddls) > 0 {
		if err := s.SinkDDL(ctx, ddls, false); err != nil {
			return err
		}
		s.RefreshMeta(ddls)
		return nil
	}
	for _, row := range rows {
		if err := s.SinkDML(ctx, []*dtmeta.Row{row}, false); err != nil {
			return err
		}
	}
	if len(rest) > 0 {
		if err := s.SinkRaw(ctx, rest, false); err != nil {
			return err
		}
	}
	return nil
}
