package saga

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// Orchestrator runs booking sagas to a terminal status. Step failures are
// recorded on the instance and never surface as Go errors; only
// infrastructure failures (the instance store itself) do.
type Orchestrator struct {
	store    InstanceStore
	bookings BookingClient
	payments PaymentClient

	newID func() string
	now   func() time.Time
}

// NewOrchestrator wires an orchestrator over its three collaborators.
func NewOrchestrator(store InstanceStore, bookings BookingClient, payments PaymentClient) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("instance store is required")
	}
	if bookings == nil {
		return nil, fmt.Errorf("booking client is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment client is required")
	}
	return &Orchestrator{
		store:    store,
		bookings: bookings,
		payments: payments,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start runs the workflow synchronously and returns the instance in its
// terminal status. The returned error is nil even when a step failed; read
// Instance.Status and Instance.Error for the outcome.
func (o *Orchestrator) Start(ctx context.Context, req Request) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if err := req.Validate(); err != nil {
		return Instance{}, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = o.newID()
	}

	now := o.now()
	inst := Instance{
		ID:            o.newID(),
		Type:          TypeBooking,
		CorrelationID: req.CorrelationID,
		Status:        StatusStarted,
		TotalSteps:    totalSteps,
		Data:          Data{Request: req},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateSagaInstance(ctx, inst); err != nil {
		return Instance{}, fmt.Errorf("create saga instance: %w", err)
	}

	// Step 1: reserve the seat. Nothing has completed yet, so a failure here
	// ends the saga without compensation.
	if err := o.advance(ctx, &inst, 1); err != nil {
		return inst, err
	}
	bookingInfo, err := o.bookings.CreateBooking(ctx, BookingCreate{
		UserID:        req.UserID,
		TrainID:       req.TrainID,
		FareAmount:    req.FareAmount,
		Currency:      req.Currency,
		PassengerName: req.PassengerName,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return o.finish(ctx, inst, StatusFailed, fmt.Sprintf("reserve seat: %v", err))
	}
	inst.Data.BookingID = bookingInfo.ID

	// Step 2: charge the fare. On failure the reservation is undone.
	if err := o.advance(ctx, &inst, 2); err != nil {
		return inst, err
	}
	paymentInfo, err := o.payments.InitiatePayment(ctx, PaymentCreate{
		BookingID:     inst.Data.BookingID,
		UserID:        req.UserID,
		Amount:        req.FareAmount,
		Currency:      req.Currency,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return o.compensate(ctx, inst, fmt.Sprintf("charge fare: %v", err))
	}
	inst.Data.PaymentID = paymentInfo.ID

	// Step 3: confirm the booking. On failure both prior steps are undone,
	// newest first.
	if err := o.advance(ctx, &inst, 3); err != nil {
		return inst, err
	}
	if err := o.bookings.ConfirmBooking(ctx, inst.Data.BookingID, req.CorrelationID); err != nil {
		return o.compensate(ctx, inst, fmt.Sprintf("confirm booking: %v", err))
	}

	completedAt := o.now()
	inst.Status = StatusCompleted
	inst.CompletedAt = &completedAt
	inst.UpdatedAt = completedAt
	if err := o.store.UpdateSagaInstance(ctx, inst); err != nil {
		return inst, fmt.Errorf("complete saga instance: %w", err)
	}
	return inst, nil
}

// GetByID loads a saga instance.
func (o *Orchestrator) GetByID(ctx context.Context, id string) (Instance, error) {
	if id == "" {
		return Instance{}, apperrors.New(apperrors.CodeSagaRequestInvalid, "saga id is required")
	}
	return o.store.GetSagaInstance(ctx, id)
}

// GetByCorrelationID loads the saga instance started with a correlation id.
func (o *Orchestrator) GetByCorrelationID(ctx context.Context, correlationID string) (Instance, error) {
	if correlationID == "" {
		return Instance{}, apperrors.New(apperrors.CodeSagaRequestInvalid, "correlation id is required")
	}
	return o.store.GetSagaInstanceByCorrelation(ctx, correlationID)
}

func (o *Orchestrator) advance(ctx context.Context, inst *Instance, step int) error {
	inst.Status = StatusInProgress
	inst.CurrentStep = step
	inst.UpdatedAt = o.now()
	if err := o.store.UpdateSagaInstance(ctx, *inst); err != nil {
		return fmt.Errorf("advance saga to step %d: %w", step, err)
	}
	return nil
}

// compensate undoes completed steps newest first and parks the instance in
// COMPENSATED. Compensations are best effort: a failing undo is logged and
// the remaining ones still run.
func (o *Orchestrator) compensate(ctx context.Context, inst Instance, reason string) (Instance, error) {
	inst.Status = StatusCompensating
	inst.Error = reason
	inst.UpdatedAt = o.now()
	if err := o.store.UpdateSagaInstance(ctx, inst); err != nil {
		return inst, fmt.Errorf("mark saga compensating: %w", err)
	}

	if inst.Data.PaymentID != "" {
		if err := o.payments.RequestRefund(ctx, inst.Data.PaymentID, inst.CorrelationID); err != nil {
			log.Printf("saga %s: refund payment %s: %v", inst.ID, inst.Data.PaymentID, err)
		}
	}
	if inst.Data.BookingID != "" {
		if err := o.bookings.CancelBooking(ctx, inst.Data.BookingID, inst.CorrelationID, reason); err != nil {
			log.Printf("saga %s: cancel booking %s: %v", inst.ID, inst.Data.BookingID, err)
		}
	}

	return o.finish(ctx, inst, StatusCompensated, reason)
}

// finish parks the instance in a terminal status and stamps CompletedAt, which
// marks the end of the saga regardless of outcome.
func (o *Orchestrator) finish(ctx context.Context, inst Instance, status Status, reason string) (Instance, error) {
	finishedAt := o.now()
	inst.Status = status
	inst.Error = reason
	inst.CompletedAt = &finishedAt
	inst.UpdatedAt = finishedAt
	if err := o.store.UpdateSagaInstance(ctx, inst); err != nil {
		return inst, fmt.Errorf("finish saga instance: %w", err)
	}
	return inst, nil
}
