package replay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/booking"
	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/domain/payment"
)

type memoryStore struct {
	events map[string][]event.Event
}

func (m *memoryStore) ListEvents(_ context.Context, aggregateID string) ([]event.Event, error) {
	return m.events[aggregateID], nil
}

func (m *memoryStore) ListEventsBetween(_ context.Context, aggregateID string, from, to time.Time) ([]event.Event, error) {
	var out []event.Event
	for _, evt := range m.events[aggregateID] {
		if !from.IsZero() && evt.Timestamp.Before(from) {
			continue
		}
		if evt.Timestamp.After(to) {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func mustPayload(t *testing.T, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func bookingStream(t *testing.T, base time.Time) []event.Event {
	t.Helper()
	return []event.Event{
		{
			Seq: 1, EventID: "evt-1", AggregateType: event.AggregateBooking,
			AggregateID: "bk-1", Type: event.TypeBookingCreated, Timestamp: base,
			PayloadJSON: mustPayload(t, event.BookingCreatedPayload{
				UserID: "usr-1", TrainID: "trn-9", FareAmount: 4500,
				Currency: "EUR", PassengerName: "Ada", Status: "PENDING",
			}),
		},
		{
			Seq: 2, EventID: "evt-2", AggregateType: event.AggregateBooking,
			AggregateID: "bk-1", Type: event.TypeBookingStatusChanged,
			Timestamp:   base.Add(time.Minute),
			PayloadJSON: mustPayload(t, event.BookingStatusChangedPayload{Status: "CONFIRMED"}),
		},
	}
}

func TestBookingFoldsStream(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{events: map[string][]event.Event{"bk-1": bookingStream(t, base)}}

	state, err := Booking(context.Background(), store, "bk-1")
	if err != nil {
		t.Fatalf("replay booking: %v", err)
	}
	if state.ID != "bk-1" || state.UserID != "usr-1" || state.TrainID != "trn-9" {
		t.Fatalf("unexpected identity fields: %+v", state)
	}
	if state.Status != booking.StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", state.Status)
	}
	if state.FareAmount != 4500 || state.Currency != "EUR" {
		t.Fatalf("unexpected fare: %d %s", state.FareAmount, state.Currency)
	}
	if !state.CreatedAt.Equal(base) {
		t.Fatalf("created at = %v, want %v", state.CreatedAt, base)
	}
	if !state.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("updated at = %v, want %v", state.UpdatedAt, base.Add(time.Minute))
	}
}

func TestBookingReplayIsDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{events: map[string][]event.Event{"bk-1": bookingStream(t, base)}}

	first, err := Booking(context.Background(), store, "bk-1")
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	second, err := Booking(context.Background(), store, "bk-1")
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if first != second {
		t.Fatalf("replay diverged: %+v vs %+v", first, second)
	}
}

func TestBookingPartialUpdateTouchesOnlyCarriedFields(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := bookingStream(t, base)
	status := "CANCELLED"
	events = append(events, event.Event{
		Seq: 3, EventID: "evt-3", AggregateType: event.AggregateBooking,
		AggregateID: "bk-1", Type: event.TypeBookingUpdated,
		Timestamp:   base.Add(2 * time.Minute),
		PayloadJSON: mustPayload(t, event.BookingUpdatedPayload{Status: &status}),
	})
	store := &memoryStore{events: map[string][]event.Event{"bk-1": events}}

	state, err := Booking(context.Background(), store, "bk-1")
	if err != nil {
		t.Fatalf("replay booking: %v", err)
	}
	if state.Status != booking.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", state.Status)
	}
	// Fields absent from the update payload survive the fold untouched.
	if state.FareAmount != 4500 || state.Currency != "EUR" || state.PassengerName != "Ada" {
		t.Fatalf("partial update clobbered unrelated fields: %+v", state)
	}
}

func TestBookingAtStopsAtInstant(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{events: map[string][]event.Event{"bk-1": bookingStream(t, base)}}

	state, err := BookingAt(context.Background(), store, "bk-1", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("replay booking at instant: %v", err)
	}
	if state.Status != booking.StatusPending {
		t.Fatalf("status = %s, want PENDING before the confirmation event", state.Status)
	}

	state, err = BookingAt(context.Background(), store, "bk-1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("replay booking at boundary: %v", err)
	}
	if state.Status != booking.StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED at the event timestamp itself", state.Status)
	}
}

func TestBookingEmptyStream(t *testing.T) {
	store := &memoryStore{events: map[string][]event.Event{}}

	_, err := Booking(context.Background(), store, "missing")
	if !errors.Is(err, ErrAggregateNotFound) {
		t.Fatalf("err = %v, want ErrAggregateNotFound", err)
	}
}

func TestBookingSkipsUnknownEventType(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := bookingStream(t, base)
	events = append(events, event.Event{
		Seq: 3, EventID: "evt-3", AggregateType: event.AggregateBooking,
		AggregateID: "bk-1", Type: event.Type("BOOKING_SEAT_UPGRADED"),
		Timestamp:   base.Add(2 * time.Minute),
		PayloadJSON: []byte(`{"seat":"12A"}`),
	})
	store := &memoryStore{events: map[string][]event.Event{"bk-1": events}}

	state, err := Booking(context.Background(), store, "bk-1")
	if err != nil {
		t.Fatalf("replay booking: %v", err)
	}
	if state.Status != booking.StatusConfirmed {
		t.Fatalf("unknown event changed state: %+v", state)
	}
	// A skipped event leaves no trace, not even on the updated timestamp.
	if !state.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("updated at = %v, want timestamp of last applied event", state.UpdatedAt)
	}
}

func TestBookingUndecodablePayloadFails(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{events: map[string][]event.Event{"bk-1": {
		{
			Seq: 1, EventID: "evt-1", AggregateType: event.AggregateBooking,
			AggregateID: "bk-1", Type: event.TypeBookingCreated, Timestamp: base,
			PayloadJSON: []byte(`{"fare_amount":"not-a-number"}`),
		},
	}}}

	if _, err := Booking(context.Background(), store, "bk-1"); err == nil {
		t.Fatal("expected undecodable payload to fail the replay")
	}
}

func TestPaymentFoldsStream(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{events: map[string][]event.Event{"pay-1": {
		{
			Seq: 1, EventID: "evt-1", AggregateType: event.AggregatePayment,
			AggregateID: "pay-1", Type: event.TypePaymentInitiated, Timestamp: base,
			PayloadJSON: mustPayload(t, event.PaymentInitiatedPayload{
				BookingID: "bk-1", UserID: "usr-1", Amount: 4500, Currency: "EUR",
			}),
		},
		{
			Seq: 2, EventID: "evt-2", AggregateType: event.AggregatePayment,
			AggregateID: "pay-1", Type: event.TypePaymentStatusChanged,
			Timestamp:   base.Add(time.Second),
			PayloadJSON: mustPayload(t, event.PaymentStatusChangedPayload{Status: "REFUND_REQUESTED"}),
		},
	}}}

	state, err := Payment(context.Background(), store, "pay-1")
	if err != nil {
		t.Fatalf("replay payment: %v", err)
	}
	if state.ID != "pay-1" || state.BookingID != "bk-1" {
		t.Fatalf("unexpected identity fields: %+v", state)
	}
	if state.Status != payment.StatusRefundRequested {
		t.Fatalf("status = %s, want REFUND_REQUESTED", state.Status)
	}
	if state.Amount != 4500 {
		t.Fatalf("amount = %d, want 4500", state.Amount)
	}
}

func TestPaymentAtBeforeAnyEvent(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{events: map[string][]event.Event{"pay-1": {
		{
			Seq: 1, EventID: "evt-1", AggregateType: event.AggregatePayment,
			AggregateID: "pay-1", Type: event.TypePaymentInitiated, Timestamp: base,
			PayloadJSON: mustPayload(t, event.PaymentInitiatedPayload{BookingID: "bk-1", Amount: 100, Currency: "EUR"}),
		},
	}}}

	_, err := PaymentAt(context.Background(), store, "pay-1", base.Add(-time.Hour))
	if !errors.Is(err, ErrAggregateNotFound) {
		t.Fatalf("err = %v, want ErrAggregateNotFound before any event exists", err)
	}
}
