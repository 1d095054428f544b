// Package generic is the extractor stub for source engines that have no
// dedicated connection-holding stub yet (pg/mongo/redis/kafka/foxlake):
// it only emits heartbeats on a timer so the pipeline's position
// tracking and shutdown handling have something to drive them even
// before a real change-stream reader for that engine exists.
package generic

import (
	"context"
	"time"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/extractor"
)

type Extractor struct {
	heartbeatEvery time.Duration
}

func New(heartbeatEvery time.Duration) *Extractor {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 5 * time.Second
	}
	return &Extractor{heartbeatEvery: heartbeatEvery}
}

func (e *Extractor) Run(ctx context.Context, push extractor.PushFunc) error {
	ticker := time.NewTicker(e.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := push(ctx, dtmeta.NewHeartbeatItem("")); err != nil {
				return err
			}
		}
	}
}

func (e *Extractor) Close() error { return nil }
