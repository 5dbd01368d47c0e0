package event

import (
	stderrors "errors"
	"testing"

	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

func TestValidateForAppendDefaults(t *testing.T) {
	evt, err := ValidateForAppend(Event{
		AggregateID: "bk-1",
		Type:        TypeBookingCreated,
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if evt.AggregateType != AggregateBooking {
		t.Fatalf("expected booking aggregate, got %s", evt.AggregateType)
	}
	if evt.Version != SchemaVersion {
		t.Fatalf("expected default version, got %q", evt.Version)
	}
	if string(evt.PayloadJSON) != "{}" {
		t.Fatalf("expected empty payload default, got %s", evt.PayloadJSON)
	}
}

func TestValidateForAppendRejectsUnknownType(t *testing.T) {
	_, err := ValidateForAppend(Event{AggregateID: "bk-1", Type: Type("BOOKING_TELEPORTED")})
	if !stderrors.Is(err, apperrors.New(apperrors.CodeEventTypeUnknown, "")) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestValidateForAppendRejectsAggregateMismatch(t *testing.T) {
	_, err := ValidateForAppend(Event{
		AggregateID:   "pay-1",
		AggregateType: AggregateBooking,
		Type:          TypePaymentInitiated,
	})
	if err == nil {
		t.Fatal("expected aggregate mismatch error")
	}
}

func TestValidateForAppendRequiresAggregateID(t *testing.T) {
	_, err := ValidateForAppend(Event{Type: TypeBookingCreated})
	if !stderrors.Is(err, apperrors.New(apperrors.CodeEventAggregateMissing, "")) {
		t.Fatalf("expected aggregate id error, got %v", err)
	}
}

func TestValidateForAppendRejectsInvalidPayload(t *testing.T) {
	_, err := ValidateForAppend(Event{
		AggregateID: "bk-1",
		Type:        TypeBookingCreated,
		PayloadJSON: []byte(`{"user_id":`),
	})
	if !stderrors.Is(err, apperrors.New(apperrors.CodeEventPayloadInvalid, "")) {
		t.Fatalf("expected payload error, got %v", err)
	}
}

func TestMarshalPayloadRoundTrip(t *testing.T) {
	raw, err := MarshalPayload(BookingStatusChangedPayload{Status: "CONFIRMED"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded BookingStatusChangedPayload
	if err := UnmarshalPayload(Event{Type: TypeBookingStatusChanged, AggregateID: "bk-1", PayloadJSON: raw}, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Status != "CONFIRMED" {
		t.Fatalf("expected CONFIRMED, got %q", decoded.Status)
	}
}

func TestMarshalPayloadSurfacesFailure(t *testing.T) {
	if _, err := MarshalPayload(map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatal("expected marshal failure to propagate")
	}
}

func TestEveryTypeHasAnOwner(t *testing.T) {
	types := []Type{
		TypeBookingCreated, TypeBookingUpdated, TypeBookingConfirmed,
		TypeBookingCancelled, TypeBookingStatusChanged, TypeBookingFareUpdated,
		TypePaymentInitiated, TypePaymentStatusChanged, TypePaymentAmountUpdated,
	}
	for _, typ := range types {
		if _, ok := typ.Aggregate(); !ok {
			t.Fatalf("type %s has no owning aggregate", typ)
		}
	}
}
