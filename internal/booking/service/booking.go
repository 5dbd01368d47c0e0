// Package service implements the booking and payment operations the saga
// orchestrator drives. Every mutation is recorded as a journal event; booking
// mutations also maintain the current-state row, in the same transaction.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/railbook/railbook/internal/booking/domain/booking"
	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/domain/payment"
	"github.com/railbook/railbook/internal/booking/domain/replay"
	"github.com/railbook/railbook/internal/booking/domain/saga"
	"github.com/railbook/railbook/internal/booking/storage"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// Store is the persistence the service needs.
type Store interface {
	storage.BookingStore
	storage.EventStore
}

// Service executes booking and payment operations against the store.
type Service struct {
	store Store

	newID func() string
	now   func() time.Time
}

// New builds a service over the store.
func New(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Service{
		store: store,
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateBooking reserves a seat. New bookings always start PENDING; they are
// confirmed only by the workflow's final step.
func (s *Service) CreateBooking(ctx context.Context, create saga.BookingCreate) (saga.BookingInfo, error) {
	if err := ctx.Err(); err != nil {
		return saga.BookingInfo{}, err
	}
	if strings.TrimSpace(create.UserID) == "" {
		return saga.BookingInfo{}, apperrors.New(apperrors.CodeBookingUserMissing, "user id is required")
	}
	if strings.TrimSpace(create.TrainID) == "" {
		return saga.BookingInfo{}, apperrors.New(apperrors.CodeBookingTrainMissing, "train id is required")
	}
	if create.FareAmount <= 0 {
		return saga.BookingInfo{}, apperrors.New(apperrors.CodeBookingFareInvalid, "fare amount must be positive")
	}
	if strings.TrimSpace(create.Currency) == "" {
		return saga.BookingInfo{}, apperrors.New(apperrors.CodeBookingCurrencyMissing, "currency is required")
	}

	now := s.now()
	rec := storage.BookingRecord{
		ID:            s.newID(),
		UserID:        create.UserID,
		TrainID:       create.TrainID,
		Status:        string(booking.StatusPending),
		FareAmount:    create.FareAmount,
		Currency:      create.Currency,
		PassengerName: create.PassengerName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	payload, err := event.MarshalPayload(event.BookingCreatedPayload{
		UserID:        rec.UserID,
		TrainID:       rec.TrainID,
		FareAmount:    rec.FareAmount,
		Currency:      rec.Currency,
		PassengerName: rec.PassengerName,
		Status:        rec.Status,
	})
	if err != nil {
		return saga.BookingInfo{}, err
	}

	_, err = s.store.CreateBooking(ctx, rec, event.Event{
		AggregateID:   rec.ID,
		Type:          event.TypeBookingCreated,
		PayloadJSON:   payload,
		Timestamp:     now,
		CorrelationID: create.CorrelationID,
		UserID:        create.UserID,
	})
	if err != nil {
		return saga.BookingInfo{}, fmt.Errorf("create booking: %w", err)
	}
	return saga.BookingInfo{ID: rec.ID, Status: rec.Status}, nil
}

// ConfirmBooking moves a PENDING booking to CONFIRMED.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID, correlationID string) error {
	rec, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if rec.Status != string(booking.StatusPending) {
		return apperrors.WithMetadata(apperrors.CodeBookingInvalidStatusTransition,
			fmt.Sprintf("cannot confirm booking in status %s", rec.Status),
			map[string]string{"booking_id": bookingID, "status": rec.Status})
	}

	payload, err := event.MarshalPayload(event.BookingConfirmedPayload{})
	if err != nil {
		return err
	}
	_, err = s.store.UpdateBookingStatus(ctx, bookingID, string(booking.StatusConfirmed), event.Event{
		AggregateID:   bookingID,
		Type:          event.TypeBookingConfirmed,
		PayloadJSON:   payload,
		Timestamp:     s.now(),
		CorrelationID: correlationID,
		UserID:        rec.UserID,
	})
	if err != nil {
		return fmt.Errorf("confirm booking: %w", err)
	}
	return nil
}

// CancelBooking moves a booking to CANCELLED. Cancelling twice is rejected;
// a cancelled booking is terminal.
func (s *Service) CancelBooking(ctx context.Context, bookingID, correlationID, reason string) error {
	rec, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if rec.Status == string(booking.StatusCancelled) {
		return apperrors.WithMetadata(apperrors.CodeBookingInvalidStatusTransition,
			"booking is already cancelled",
			map[string]string{"booking_id": bookingID})
	}

	payload, err := event.MarshalPayload(event.BookingCancelledPayload{Reason: reason})
	if err != nil {
		return err
	}
	_, err = s.store.UpdateBookingStatus(ctx, bookingID, string(booking.StatusCancelled), event.Event{
		AggregateID:   bookingID,
		Type:          event.TypeBookingCancelled,
		PayloadJSON:   payload,
		Timestamp:     s.now(),
		CorrelationID: correlationID,
		UserID:        rec.UserID,
	})
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	return nil
}

// GetBooking loads the booking's current-state row.
func (s *Service) GetBooking(ctx context.Context, bookingID string) (storage.BookingRecord, error) {
	return s.store.GetBooking(ctx, bookingID)
}

// BookingState reconstructs the booking by replaying its event stream.
func (s *Service) BookingState(ctx context.Context, bookingID string) (booking.State, error) {
	return replay.Booking(ctx, s.store, bookingID)
}

// BookingStateAt reconstructs the booking as of a past instant.
func (s *Service) BookingStateAt(ctx context.Context, bookingID string, at time.Time) (booking.State, error) {
	return replay.BookingAt(ctx, s.store, bookingID, at)
}

// BookingEvents lists the booking's journal stream.
func (s *Service) BookingEvents(ctx context.Context, bookingID string) ([]event.Event, error) {
	return s.store.ListEvents(ctx, bookingID)
}

// InitiatePayment records a provisional charge. Payments live purely in the
// journal; their state is always reconstructed by replay.
func (s *Service) InitiatePayment(ctx context.Context, create saga.PaymentCreate) (saga.PaymentInfo, error) {
	if err := ctx.Err(); err != nil {
		return saga.PaymentInfo{}, err
	}
	if strings.TrimSpace(create.BookingID) == "" {
		return saga.PaymentInfo{}, apperrors.New(apperrors.CodeSagaRequestInvalid, "booking id is required")
	}

	paymentID := s.newID()
	payload, err := event.MarshalPayload(event.PaymentInitiatedPayload{
		BookingID: create.BookingID,
		UserID:    create.UserID,
		Amount:    create.Amount,
		Currency:  create.Currency,
	})
	if err != nil {
		return saga.PaymentInfo{}, err
	}

	_, err = s.store.AppendEvent(ctx, event.Event{
		AggregateID:   paymentID,
		Type:          event.TypePaymentInitiated,
		PayloadJSON:   payload,
		Timestamp:     s.now(),
		CorrelationID: create.CorrelationID,
		UserID:        create.UserID,
	})
	if err != nil {
		return saga.PaymentInfo{}, fmt.Errorf("initiate payment: %w", err)
	}
	return saga.PaymentInfo{ID: paymentID, Status: string(payment.StatusInitiated)}, nil
}

// RequestRefund records the refund compensation for a payment.
func (s *Service) RequestRefund(ctx context.Context, paymentID, correlationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := event.MarshalPayload(event.PaymentStatusChangedPayload{
		Status: string(payment.StatusRefundRequested),
		Reason: "saga compensation",
	})
	if err != nil {
		return err
	}
	_, err = s.store.AppendEvent(ctx, event.Event{
		AggregateID:   paymentID,
		Type:          event.TypePaymentStatusChanged,
		PayloadJSON:   payload,
		Timestamp:     s.now(),
		CorrelationID: correlationID,
	})
	if err != nil {
		return fmt.Errorf("request refund: %w", err)
	}
	return nil
}

// PaymentState reconstructs the payment by replaying its event stream.
func (s *Service) PaymentState(ctx context.Context, paymentID string) (payment.State, error) {
	return replay.Payment(ctx, s.store, paymentID)
}
