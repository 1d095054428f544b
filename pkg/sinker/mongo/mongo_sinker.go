// Package mongo implements the sinker.Sinker contract against MongoDB
// using the official go.mongodb.org/mongo-driver client.
package mongo

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/sinker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Sinker struct {
	client   *mongo.Client
	meta     *metamgr.MetaManager
	conflict sinker.ConflictPolicy
}

func New(client *mongo.Client, meta *metamgr.MetaManager, conflict sinker.ConflictPolicy) *Sinker {
	return &Sinker{client: client, meta: meta, conflict: conflict}
}

func (s *Sinker) collection(schema, tb string) *mongo.Collection {
	return s.client.Database(schema).Collection(tb)
}

// SinkDML applies rows as a single ordered=false BulkWrite per table,
// which mongo-driver executes server-side in parallel: Insert/Update
// become ReplaceOne(upsert=true) on _id, Delete becomes DeleteOne on
// _id, matching the upsert-is-idempotent contract (spec §4.7).
func (s *Sinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error {
	if len(rows) == 0 {
		return nil
	}
	schema, tb := rows[0].Schema, rows[0].Tb
	coll := s.collection(schema, tb)

	if !batchHint {
		for _, row := range rows {
			if err := s.applyOne(ctx, coll, row); err != nil {
				return err
			}
		}
		return nil
	}

	var models []mongo.WriteModel
	for _, row := range rows {
		switch row.Type {
		case dtmeta.RowDelete:
			models = append(models, mongo.NewDeleteOneModel().SetFilter(idFilter(row.Before)))
		default:
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(idFilter(row.After)).
				SetReplacement(toBson(row.After)).
				SetUpsert(true))
		}
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := coll.BulkWrite(ctx, models, opts); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "bulk write into %s.%s", schema, tb)
	}
	return nil
}

func (s *Sinker) applyOne(ctx context.Context, coll *mongo.Collection, row *dtmeta.Row) error {
	switch row.Type {
	case dtmeta.RowDelete:
		_, err := coll.DeleteOne(ctx, idFilter(row.Before))
		if err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "delete one from %s.%s", row.Schema, row.Tb)
		}
	default:
		opts := options.Replace().SetUpsert(true)
		_, err := coll.ReplaceOne(ctx, idFilter(row.After), toBson(row.After), opts)
		if err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "replace one into %s.%s", row.Schema, row.Tb)
		}
	}
	return nil
}

func idFilter(image map[string]dtmeta.ColValue) bson.M {
	v, ok := image["_id"]
	if !ok || v.IsNull() {
		return bson.M{}
	}
	return bson.M{"_id": v.String()}
}

func toBson(image map[string]dtmeta.ColValue) bson.M {
	out := bson.M{}
	for k, v := range image {
		if v.IsNull() {
			out[k] = nil
			continue
		}
		out[k] = v.String()
	}
	return out
}

// SinkDDL has no direct analogue in a schemaless store; a "DDL" for Mongo
// is a collection rename/drop command string, applied verbatim via
// RunCommand against the target database.
func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	for _, ddl := range ddls {
		db := s.client.Database(ddl.Schema)
		if err := db.RunCommand(ctx, bson.D{{Key: "$eval", Value: ddl.Query}}).Err(); err != nil {
			if s.conflict == sinker.ConflictIgnore {
				logutil.Warnf("mongo sinker: ignoring command error on %s.%s: %v", ddl.Schema, ddl.Tb, err)
				continue
			}
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "run command on %s.%s", ddl.Schema, ddl.Tb)
		}
	}
	return nil
}

func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error { return nil }

func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData) {
	for _, ddl := range ddls {
		s.meta.InvalidateDDL(ddl)
	}
}

func (s *Sinker) Close() error {
	return s.client.Disconnect(context.Background())
}
