// Package kafka publishes audit events to a Kafka topic, one JSON record per
// event keyed by run id so a run's events stay on one partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "mismobridge/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the store uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store implements audit.Store by producing to a topic.
type Store struct {
	producer Producer
	topic    string
}

// New creates a Kafka audit store.
func New(producer Producer, topic string) *Store {
	return &Store{producer: producer, topic: topic}
}

// NewClient builds a franz-go client for the given brokers.
func NewClient(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Append produces the event and waits for the broker acknowledgement.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	event.Category = audit.AuditEvent(event.Action).Category()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.RunID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
