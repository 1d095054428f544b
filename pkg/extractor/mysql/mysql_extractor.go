// Package mysql is a connection-holding extractor stub for a MySQL
// source: it establishes the connection a real binlog reader would use,
// but leaves actual binlog parsing out of scope (spec.md §1 Non-goals).
// It emits a Heartbeat item on each tick so the pipeline's position
// tracking has something to observe even with no real change stream
// wired in yet.
package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/extractor"
	_ "github.com/go-sql-driver/mysql"
)

type Extractor struct {
	db            *sql.DB
	heartbeatEvery time.Duration
}

func New(url string, heartbeatEvery time.Duration) (*Extractor, error) {
	db, err := sql.Open("mysql", url)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindConfig, err, "open mysql extractor connection")
	}
	if heartbeatEvery <= 0 {
		heartbeatEvery = 5 * time.Second
	}
	return &Extractor{db: db, heartbeatEvery: heartbeatEvery}, nil
}

func (e *Extractor) Run(ctx context.Context, push extractor.PushFunc) error {
	if err := e.db.PingContext(ctx); err != nil {
		return dtserr.Wrap(dtserr.KindExtractorIO, err, "ping mysql source")
	}

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

func (e *Extractor) Close() error {
	return e.db.Close()
}
