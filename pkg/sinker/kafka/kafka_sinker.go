// Package kafka implements the sinker.Sinker contract against a Kafka
// topic using confluentinc/confluent-kafka-go/v2: every row/DDL is
// serialized to JSON and produced to "<prefix><schema>.<tb>", letting a
// downstream consumer fan the change stream back out.
package kafka

import (
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/sinker"

	"context"
)

type Sinker struct {
	producer    *kafka.Producer
	topicPrefix string
	meta        *metamgr.MetaManager
}

func New(producer *kafka.Producer, topicPrefix string, meta *metamgr.MetaManager) *Sinker {
	return &Sinker{producer: producer, topicPrefix: topicPrefix, meta: meta}
}

type dmlMessage struct {
	Schema string                         `json:"schema"`
	Tb     string                         `json:"tb"`
	Type   string                         `json:"type"`
	Before map[string]string              `json:"before,omitempty"`
	After  map[string]string              `json:"after,omitempty"`
}

func (s *Sinker) topic(schema, tb string) string {
	return s.topicPrefix + schema + "." + tb
}

func (s *Sinker) produce(topic string, payload []byte) error {
	return s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          payload,
	}, nil)
}

func (s *Sinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error {
	for _, row := range rows {
		msg := dmlMessage{Schema: row.Schema, Tb: row.Tb, Type: row.Type.String(), Before: imageToStrings(row.Before), After: imageToStrings(row.After)}
		payload, err := json.Marshal(msg)
		if err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "marshal dml for %s.%s", row.Schema, row.Tb)
		}
		if err := s.produce(s.topic(row.Schema, row.Tb), payload); err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "produce dml for %s.%s", row.Schema, row.Tb)
		}
	}
	return nil
}

func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	for _, ddl := range ddls {
		payload, err := json.Marshal(ddl)
		if err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "marshal ddl for %s.%s", ddl.Schema, ddl.Tb)
		}
		if err := s.produce(s.topic(ddl.Schema, ddl.Tb), payload); err != nil {
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "produce ddl for %s.%s", ddl.Schema, ddl.Tb)
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
	s.producer.Flush(15000)
	s.producer.Close()
	return nil
}

func imageToStrings(image map[string]dtmeta.ColValue) map[string]string {
	if image == nil {
		return nil
	}
	out := make(map[string]string, len(image))
	for k, v := range image {
		out[k] = v.String()
	}
	return out
}

var _ sinker.Sinker = (*Sinker)(nil)
