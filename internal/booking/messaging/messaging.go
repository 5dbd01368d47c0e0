// Package messaging defines the integration message surface: topics, the
// published envelope, and the Publisher port the outbox relay drives.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/event"
)

// Topics carrying domain events to downstream consumers.
const (
	TopicBookingEvents = "railbook.booking.events"
	TopicPaymentEvents = "railbook.payment.events"
)

// TopicForAggregate routes an aggregate kind to its topic.
func TopicForAggregate(agg event.AggregateType) string {
	if agg == event.AggregatePayment {
		return TopicPaymentEvents
	}
	return TopicBookingEvents
}

// EventMessage is the wire envelope published for a journal event.
type EventMessage struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Version       string          `json:"version"`
}

// Envelope builds the wire message for a journal event.
func Envelope(evt event.Event) EventMessage {
	return EventMessage{
		EventID:       evt.EventID,
		AggregateType: string(evt.AggregateType),
		AggregateID:   evt.AggregateID,
		EventType:     string(evt.Type),
		Payload:       json.RawMessage(evt.PayloadJSON),
		Timestamp:     evt.Timestamp.UTC(),
		CorrelationID: evt.CorrelationID,
		Version:       evt.Version,
	}
}

// Publisher delivers one message to a destination topic. Implementations must
// be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, destination, key string, value []byte) error
	Close() error
}
