// Package kafka publishes integration messages to a Kafka cluster.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers outbox messages over a shared kafka-go writer. The
// topic comes per message, so one writer serves every destination.
type Publisher struct {
	w *kafka.Writer
}

// NewPublisher builds a publisher for the given brokers.
func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Publisher{w: w}, nil
}

// Publish writes one message. Keying by aggregate id keeps an aggregate's
// events in partition order.
func (p *Publisher) Publish(ctx context.Context, destination, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: destination,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message to %s: %w", destination, err)
	}
	return nil
}

// Close flushes and releases the writer.
func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}
