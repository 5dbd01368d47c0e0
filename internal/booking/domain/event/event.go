// Package event defines the canonical event envelope and the closed event-type
// set used by the booking core write path.
//
// Events are immutable business facts. Once appended they are never edited or
// removed, and replay treats the ordered stream as the sole source of truth
// for aggregate state.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// SchemaVersion tags the payload schema events are appended with.
const SchemaVersion = "1.0"

// AggregateType identifies which aggregate kind owns an event stream.
type AggregateType string

const (
	// AggregateBooking owns booking lifecycle events.
	AggregateBooking AggregateType = "booking"
	// AggregatePayment owns payment lifecycle events.
	AggregatePayment AggregateType = "payment"
)

// Type is one of the closed set of domain event types.
type Type string

const (
	TypeBookingCreated       Type = "BOOKING_CREATED"
	TypeBookingUpdated       Type = "BOOKING_UPDATED"
	TypeBookingConfirmed     Type = "BOOKING_CONFIRMED"
	TypeBookingCancelled     Type = "BOOKING_CANCELLED"
	TypeBookingStatusChanged Type = "BOOKING_STATUS_CHANGED"
	TypeBookingFareUpdated   Type = "BOOKING_FARE_UPDATED"

	TypePaymentInitiated     Type = "PAYMENT_INITIATED"
	TypePaymentStatusChanged Type = "PAYMENT_STATUS_CHANGED"
	TypePaymentAmountUpdated Type = "PAYMENT_AMOUNT_UPDATED"
)

// aggregateByType routes every known event type to its owning aggregate kind.
// Adding a type without an owner here is a validation failure at append time.
var aggregateByType = map[Type]AggregateType{
	TypeBookingCreated:       AggregateBooking,
	TypeBookingUpdated:       AggregateBooking,
	TypeBookingConfirmed:     AggregateBooking,
	TypeBookingCancelled:     AggregateBooking,
	TypeBookingStatusChanged: AggregateBooking,
	TypeBookingFareUpdated:   AggregateBooking,
	TypePaymentInitiated:     AggregatePayment,
	TypePaymentStatusChanged: AggregatePayment,
	TypePaymentAmountUpdated: AggregatePayment,
}

// Aggregate returns the aggregate kind that owns this event type.
func (t Type) Aggregate() (AggregateType, bool) {
	agg, ok := aggregateByType[t]
	return agg, ok
}

// Event is the persisted event envelope.
type Event struct {
	// Seq is the journal insertion order, assigned by the store on append.
	// It breaks ordering ties between events sharing a timestamp.
	Seq           int64
	EventID       string
	AggregateType AggregateType
	AggregateID   string
	Type          Type
	PayloadJSON   []byte
	Timestamp     time.Time
	CorrelationID string
	UserID        string
	Version       string
	MetadataJSON  []byte
}

// ValidateForAppend normalizes an event and rejects envelopes that would break
// replay if persisted.
func ValidateForAppend(evt Event) (Event, error) {
	agg, ok := evt.Type.Aggregate()
	if !ok {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventTypeUnknown,
			fmt.Sprintf("unknown event type %q", evt.Type),
			map[string]string{"event_type": string(evt.Type)})
	}
	if evt.AggregateType == "" {
		evt.AggregateType = agg
	}
	if evt.AggregateType != agg {
		return Event{}, apperrors.New(apperrors.CodeEventTypeUnknown,
			fmt.Sprintf("event type %s does not belong to aggregate %s", evt.Type, evt.AggregateType))
	}
	if strings.TrimSpace(evt.AggregateID) == "" {
		return Event{}, apperrors.New(apperrors.CodeEventAggregateMissing, "aggregate id is required")
	}
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte(`{}`)
	}
	if !json.Valid(evt.PayloadJSON) {
		return Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "event payload is not valid JSON")
	}
	if evt.Version == "" {
		evt.Version = SchemaVersion
	}
	return evt, nil
}

// MarshalPayload encodes a typed payload for appending. Serialization failure
// is fatal to the append: an unreadable payload would break replay, so the
// error always propagates.
func MarshalPayload(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "marshal event payload", err)
	}
	return raw, nil
}

// UnmarshalPayload decodes an event payload into the typed struct for its type.
func UnmarshalPayload(evt Event, target any) error {
	if err := json.Unmarshal(evt.PayloadJSON, target); err != nil {
		return apperrors.Wrap(apperrors.CodeEventPayloadUndecodable,
			fmt.Sprintf("decode %s payload for aggregate %s", evt.Type, evt.AggregateID), err)
	}
	return nil
}
