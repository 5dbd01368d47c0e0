// Package replay folds ordered event streams back into aggregate state.
//
// Replay is a pure function of the fetched stream: the same prefix of the same
// stream always yields the same state. Unknown event types are logged and
// skipped so old binaries can replay streams written by newer ones; a payload
// that cannot be decoded is fatal because it means the journal itself is
// unreadable.
package replay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/booking"
	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/domain/payment"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// ErrAggregateNotFound indicates the aggregate has no events at all. An empty
// stream is reported explicitly instead of returning a zero-valued state.
var ErrAggregateNotFound = apperrors.New(apperrors.CodeEventStreamEmpty, "aggregate has no events")

// EventStore lists ordered events for replay.
type EventStore interface {
	ListEvents(ctx context.Context, aggregateID string) ([]event.Event, error)
	ListEventsBetween(ctx context.Context, aggregateID string, from, to time.Time) ([]event.Event, error)
}

// Booking reconstructs current booking state from the full event stream.
func Booking(ctx context.Context, store EventStore, aggregateID string) (booking.State, error) {
	if store == nil {
		return booking.State{}, fmt.Errorf("event store is required")
	}
	events, err := store.ListEvents(ctx, aggregateID)
	if err != nil {
		return booking.State{}, err
	}
	return foldBooking(aggregateID, events)
}

// BookingAt reconstructs booking state as of a past instant, folding only
// events with a timestamp at or before it.
func BookingAt(ctx context.Context, store EventStore, aggregateID string, at time.Time) (booking.State, error) {
	if store == nil {
		return booking.State{}, fmt.Errorf("event store is required")
	}
	events, err := store.ListEventsBetween(ctx, aggregateID, time.Time{}, at)
	if err != nil {
		return booking.State{}, err
	}
	return foldBooking(aggregateID, events)
}

// Payment reconstructs current payment state from the full event stream.
func Payment(ctx context.Context, store EventStore, aggregateID string) (payment.State, error) {
	if store == nil {
		return payment.State{}, fmt.Errorf("event store is required")
	}
	events, err := store.ListEvents(ctx, aggregateID)
	if err != nil {
		return payment.State{}, err
	}
	return foldPayment(aggregateID, events)
}

// PaymentAt reconstructs payment state as of a past instant.
func PaymentAt(ctx context.Context, store EventStore, aggregateID string, at time.Time) (payment.State, error) {
	if store == nil {
		return payment.State{}, fmt.Errorf("event store is required")
	}
	events, err := store.ListEventsBetween(ctx, aggregateID, time.Time{}, at)
	if err != nil {
		return payment.State{}, err
	}
	return foldPayment(aggregateID, events)
}

func foldBooking(aggregateID string, events []event.Event) (booking.State, error) {
	if len(events) == 0 {
		return booking.State{}, ErrAggregateNotFound
	}

	state := booking.State{}
	for _, evt := range events {
		switch evt.Type {
		case event.TypeBookingCreated:
			var p event.BookingCreatedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return booking.State{}, err
			}
			// Creation populates identity and initial fields only when unset,
			// so a duplicate created event cannot clobber later updates.
			if state.ID == "" {
				state.ID = evt.AggregateID
			}
			if state.UserID == "" {
				state.UserID = p.UserID
			}
			if state.TrainID == "" {
				state.TrainID = p.TrainID
			}
			if state.FareAmount == 0 {
				state.FareAmount = p.FareAmount
			}
			if state.Currency == "" {
				state.Currency = p.Currency
			}
			if state.PassengerName == "" {
				state.PassengerName = p.PassengerName
			}
			if state.Status == "" {
				status, err := parseBookingStatus(evt, p.Status)
				if err != nil {
					return booking.State{}, err
				}
				state.Status = status
			}
			if state.CreatedAt.IsZero() {
				state.CreatedAt = evt.Timestamp
			}
		case event.TypeBookingUpdated:
			var p event.BookingUpdatedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return booking.State{}, err
			}
			if p.Status != nil {
				status, err := parseBookingStatus(evt, *p.Status)
				if err != nil {
					return booking.State{}, err
				}
				state.Status = status
			}
			if p.FareAmount != nil {
				state.FareAmount = *p.FareAmount
			}
			if p.Currency != nil {
				state.Currency = *p.Currency
			}
			if p.PassengerName != nil {
				state.PassengerName = *p.PassengerName
			}
		case event.TypeBookingStatusChanged:
			var p event.BookingStatusChangedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return booking.State{}, err
			}
			status, err := parseBookingStatus(evt, p.Status)
			if err != nil {
				return booking.State{}, err
			}
			state.Status = status
		case event.TypeBookingConfirmed:
			state.Status = booking.StatusConfirmed
		case event.TypeBookingCancelled:
			state.Status = booking.StatusCancelled
		case event.TypeBookingFareUpdated:
			var p event.BookingFareUpdatedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return booking.State{}, err
			}
			state.FareAmount = p.FareAmount
		default:
			log.Printf("replay: skipping unknown event type %s for booking %s", evt.Type, aggregateID)
			continue
		}
		state.UpdatedAt = evt.Timestamp
	}
	return state, nil
}

func foldPayment(aggregateID string, events []event.Event) (payment.State, error) {
	if len(events) == 0 {
		return payment.State{}, ErrAggregateNotFound
	}

	state := payment.State{}
	for _, evt := range events {
		switch evt.Type {
		case event.TypePaymentInitiated:
			var p event.PaymentInitiatedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return payment.State{}, err
			}
			if state.ID == "" {
				state.ID = evt.AggregateID
			}
			if state.BookingID == "" {
				state.BookingID = p.BookingID
			}
			if state.UserID == "" {
				state.UserID = p.UserID
			}
			if state.Amount == 0 {
				state.Amount = p.Amount
			}
			if state.Currency == "" {
				state.Currency = p.Currency
			}
			if state.Status == "" {
				state.Status = payment.StatusInitiated
			}
			if state.CreatedAt.IsZero() {
				state.CreatedAt = evt.Timestamp
			}
		case event.TypePaymentStatusChanged:
			var p event.PaymentStatusChangedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return payment.State{}, err
			}
			status, ok := payment.ParseStatus(p.Status)
			if !ok {
				return payment.State{}, apperrors.New(apperrors.CodeEventPayloadInvalid,
					fmt.Sprintf("event %s carries unknown payment status %q", evt.EventID, p.Status))
			}
			state.Status = status
		case event.TypePaymentAmountUpdated:
			var p event.PaymentAmountUpdatedPayload
			if err := event.UnmarshalPayload(evt, &p); err != nil {
				return payment.State{}, err
			}
			state.Amount = p.Amount
		default:
			log.Printf("replay: skipping unknown event type %s for payment %s", evt.Type, aggregateID)
			continue
		}
		state.UpdatedAt = evt.Timestamp
	}
	return state, nil
}

func parseBookingStatus(evt event.Event, value string) (booking.Status, error) {
	status, ok := booking.ParseStatus(value)
	if !ok {
		return "", apperrors.New(apperrors.CodeEventPayloadInvalid,
			fmt.Sprintf("event %s carries unknown booking status %q", evt.EventID, value))
	}
	return status, nil
}
