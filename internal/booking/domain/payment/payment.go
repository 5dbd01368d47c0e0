// Package payment defines the payment aggregate state derived from the event
// journal.
package payment

import "time"

// Status is the payment lifecycle status.
type Status string

const (
	// StatusInitiated marks a provisional payment the workflow has requested.
	StatusInitiated Status = "INITIATED"
	// StatusCompleted marks a settled payment.
	StatusCompleted Status = "COMPLETED"
	// StatusRefundRequested marks a payment whose refund compensation was emitted.
	StatusRefundRequested Status = "REFUND_REQUESTED"
	// StatusRefunded marks a payment confirmed as refunded.
	StatusRefunded Status = "REFUNDED"
	// StatusFailed marks a payment the provider rejected.
	StatusFailed Status = "FAILED"
)

// ParseStatus maps a stored status string onto the closed status set.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusInitiated, StatusCompleted, StatusRefundRequested, StatusRefunded, StatusFailed:
		return Status(value), true
	default:
		return "", false
	}
}

// State is the replay-derived payment aggregate state.
type State struct {
	ID        string
	BookingID string
	UserID    string
	Status    Status
	Amount    int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
