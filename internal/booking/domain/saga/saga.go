// Package saga coordinates the booking workflow as an orchestrated saga:
// reserve a seat, charge the fare, confirm the booking. A failed step moves
// the instance to a terminal status and triggers compensations for the steps
// already completed, in reverse order.
package saga

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// TypeBooking identifies the booking workflow. It is the only saga type this
// orchestrator runs, but instances record it so the journal stays readable if
// more workflows appear.
const TypeBooking = "BOOKING_SAGA"

// totalSteps is the fixed step count of the booking workflow.
const totalSteps = 3

// Status is the saga lifecycle status.
type Status string

const (
	// StatusStarted marks a persisted instance that has not begun step one.
	StatusStarted Status = "STARTED"
	// StatusInProgress marks an instance with a step currently executing.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted marks a saga whose every step succeeded.
	StatusCompleted Status = "COMPLETED"
	// StatusCompensating marks an instance whose compensations are running.
	StatusCompensating Status = "COMPENSATING"
	// StatusCompensated marks an instance whose compensations finished.
	StatusCompensated Status = "COMPENSATED"
	// StatusFailed marks an instance that failed before any step completed,
	// leaving nothing to compensate.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailed:
		return true
	}
	return false
}

// Request carries the inputs to start a booking saga.
type Request struct {
	UserID        string
	TrainID       string
	FareAmount    int64
	Currency      string
	PassengerName string
	// CorrelationID links the saga, its events and its outbox messages. The
	// orchestrator assigns one when the caller leaves it empty.
	CorrelationID string
}

// Validate rejects requests that cannot start a workflow.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return apperrors.New(apperrors.CodeSagaRequestInvalid, "user id is required")
	}
	if strings.TrimSpace(r.TrainID) == "" {
		return apperrors.New(apperrors.CodeSagaRequestInvalid, "train id is required")
	}
	if r.FareAmount <= 0 {
		return apperrors.New(apperrors.CodeSagaRequestInvalid, "fare amount must be positive")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return apperrors.New(apperrors.CodeSagaRequestInvalid, "currency is required")
	}
	return nil
}

// Data is the per-instance workflow state the orchestrator accumulates as
// steps complete. It is persisted with the instance so a crashed run remains
// inspectable.
type Data struct {
	Request   Request `json:"request"`
	BookingID string  `json:"booking_id,omitempty"`
	PaymentID string  `json:"payment_id,omitempty"`
}

// Instance is a persisted saga run.
type Instance struct {
	ID            string
	Type          string
	CorrelationID string
	Status        Status
	// CurrentStep is 1-based; zero means no step has started.
	CurrentStep int
	TotalSteps  int
	Data        Data
	// Error holds the failure message of the step that ended the saga, empty
	// on the happy path.
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// InstanceStore persists saga instances.
type InstanceStore interface {
	CreateSagaInstance(ctx context.Context, inst Instance) error
	UpdateSagaInstance(ctx context.Context, inst Instance) error
	GetSagaInstance(ctx context.Context, id string) (Instance, error)
	GetSagaInstanceByCorrelation(ctx context.Context, correlationID string) (Instance, error)
}

// BookingCreate carries the fields for the seat reservation step.
type BookingCreate struct {
	UserID        string
	TrainID       string
	FareAmount    int64
	Currency      string
	PassengerName string
	CorrelationID string
}

// BookingInfo is the reservation result the orchestrator records.
type BookingInfo struct {
	ID     string
	Status string
}

// BookingClient is the seat-reservation surface the orchestrator drives.
type BookingClient interface {
	CreateBooking(ctx context.Context, create BookingCreate) (BookingInfo, error)
	ConfirmBooking(ctx context.Context, bookingID, correlationID string) error
	CancelBooking(ctx context.Context, bookingID, correlationID, reason string) error
}

// PaymentCreate carries the fields for the charge step.
type PaymentCreate struct {
	BookingID     string
	UserID        string
	Amount        int64
	Currency      string
	CorrelationID string
}

// PaymentInfo is the charge result the orchestrator records.
type PaymentInfo struct {
	ID     string
	Status string
}

// PaymentClient is the payment surface the orchestrator drives.
type PaymentClient interface {
	InitiatePayment(ctx context.Context, create PaymentCreate) (PaymentInfo, error)
	RequestRefund(ctx context.Context, paymentID, correlationID string) error
}
