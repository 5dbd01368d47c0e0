package messaging

import (
	"testing"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/event"
)

func TestTopicForAggregate(t *testing.T) {
	if got := TopicForAggregate(event.AggregateBooking); got != TopicBookingEvents {
		t.Fatalf("booking topic = %s, want %s", got, TopicBookingEvents)
	}
	if got := TopicForAggregate(event.AggregatePayment); got != TopicPaymentEvents {
		t.Fatalf("payment topic = %s, want %s", got, TopicPaymentEvents)
	}
}

func TestEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := Envelope(event.Event{
		EventID:       "evt-1",
		AggregateType: event.AggregateBooking,
		AggregateID:   "bk-1",
		Type:          event.TypeBookingCreated,
		PayloadJSON:   []byte(`{"user_id":"usr-1"}`),
		Timestamp:     at,
		CorrelationID: "corr-1",
		Version:       event.SchemaVersion,
	})
	if msg.EventID != "evt-1" || msg.AggregateID != "bk-1" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if msg.EventType != string(event.TypeBookingCreated) {
		t.Fatalf("event type = %s", msg.EventType)
	}
	if !msg.Timestamp.Equal(at) {
		t.Fatalf("timestamp = %v, want %v", msg.Timestamp, at)
	}
	if string(msg.Payload) != `{"user_id":"usr-1"}` {
		t.Fatalf("payload = %s", msg.Payload)
	}
}
