// Package foxlake implements the sinker.Sinker contract against an S3-
// compatible object store using aws-sdk-go-v2's s3 client: every
// FoxlakeFileMeta item is an already-serialized batch whose Content is
// pushed under a fresh key, and a DDL batch is pushed as its own object
// tagged IsDdlBatch so a reader can apply it before any data object with
// a later push_epoch (spec §3, §4.6 "foxlake").
package foxlake

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/google/uuid"
)

type Sinker struct {
	client *s3.Client
	bucket string
	root   string
}

func New(client *s3.Client, bucket, root string) *Sinker {
	return &Sinker{client: client, bucket: bucket, root: root}
}

// SinkRaw is the only path a Foxlake destination is ever driven through:
// the FoxlakeParallelizer hands it a run of same-sequencer file handles
// already ordered by push_epoch.
func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error {
	for _, it := range items {
		if it.Event == nil || it.Event.Kind != dtmeta.EventFoxlake || it.Event.Foxlake == nil {
			continue
		}
		meta := it.Event.Foxlake
		key := meta.ObjectKey
		if key == "" && meta.IsDdlBatch {
			key = fmt.Sprintf("%s/%s/%d/binlog-ddl-%s", s.root, meta.Schema, meta.SequencerID, uuid.NewString())
		} else if key == "" {
			key = fmt.Sprintf("%s/%s/%d/%s/binlog-%s", s.root, meta.Schema, meta.SequencerID, meta.Tb, uuid.NewString())
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
			Body:   bytes.NewReader(meta.Content),
		})
		if err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "put object %s", key)
		}
	}
	return nil
}

func (s *Sinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error { return nil }
func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	return nil
}
func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData) {}
func (s *Sinker) Close() error                       { return nil }
