// Package redis implements the sinker.Sinker contract against a Redis
// destination using redis/go-redis/v9. Redis events are carried as
// opaque RedisEntry payloads (spec §3), applied via SinkRaw rather than
// SinkDML/SinkDDL.
package redis

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	goredis "github.com/redis/go-redis/v9"
)

type Sinker struct {
	client *goredis.Client
}

func New(client *goredis.Client) *Sinker {
	return &Sinker{client: client}
}

// SinkRaw replays each entry's command through a pipeline when batchHint
// is set, which go-redis flushes as a single round trip; otherwise it
// issues each command individually, preserving order either way.
func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error {
	if len(items) == 0 {
		return nil
	}

	if !batchHint {
		for _, it := range items {
			if err := s.applyOne(ctx, it); err != nil {
				return err
			}
		}
		return nil
	}

	pipe := s.client.Pipeline()
	for _, it := range items {
		if it.Event == nil || it.Event.Kind != dtmeta.EventRedis || it.Event.Redis == nil {
			continue
		}
		entry := it.Event.Redis
		args := commandArgs(entry)
		if len(args) == 0 {
			continue
		}
		pipe.Do(ctx, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "pipeline exec")
	}
	return nil
}

func (s *Sinker) applyOne(ctx context.Context, it *dtmeta.Item) error {
	if it.Event == nil || it.Event.Kind != dtmeta.EventRedis || it.Event.Redis == nil {
		return nil
	}
	args := commandArgs(it.Event.Redis)
	if len(args) == 0 {
		return nil
	}
	if err := s.client.Do(ctx, args...).Err(); err != nil && err != goredis.Nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "apply redis command for key %s", it.Event.Redis.Key)
	}
	return nil
}

func commandArgs(entry *dtmeta.RedisEntry) []interface{} {
	if entry.IsRaw {
		return []interface{}{"RESTORE", entry.Key, 0, string(entry.Payload), "REPLACE"}
	}
	args := make([]interface{}, 0, len(entry.Args)+1)
	for _, a := range entry.Args {
		args = append(args, a)
	}
	return args
}

// SinkDML/SinkDDL are never called for a Redis destination; a Redis
// config must always be paired with the RDB parallelizer's raw-pass-
// through path.
func (s *Sinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error { return nil }
func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	return nil
}
func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData) {}

func (s *Sinker) Close() error {
	return s.client.Close()
}
