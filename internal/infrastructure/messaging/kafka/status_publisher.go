// Package kafka publishes parcel lifecycle transitions to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

const writeTimeout = 5 * time.Second

// Writer defines the subset of segmentio kafka.Writer we need. This makes the
// publisher testable.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// StatusPublisher implements ports.StatusPublisher. Messages are keyed by
// parcel id so all transitions of a parcel land on the same partition in order.
type StatusPublisher struct {
	writer Writer
}

// NewStatusPublisher creates a publisher writing to topic on the given brokers.
func NewStatusPublisher(brokers []string, topic string) *StatusPublisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireOne,
		WriteTimeout: writeTimeout,
	}
	return &StatusPublisher{writer: w}
}

// NewStatusPublisherWithWriter allows injecting a test writer.
func NewStatusPublisherWithWriter(w Writer) *StatusPublisher {
	return &StatusPublisher{writer: w}
}

// PublishStatus marshals the change to JSON and writes it keyed by parcel id.
func (p *StatusPublisher) PublishStatus(ctx context.Context, change domain.StatusChange) error {
	b, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}
	msg := skafka.Message{
		Key:   []byte(change.ParcelID),
		Value: b,
		Time:  change.Timestamp,
		Headers: []skafka.Header{
			{Key: "status", Value: []byte(change.To)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *StatusPublisher) Close() error {
	return p.writer.Close()
}
