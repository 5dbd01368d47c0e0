// Package booking defines the booking aggregate state derived from the event
// journal. The event stream is the source of truth; State is what replay
// reconstructs from it.
package booking

import "time"

// Status is the booking lifecycle status.
type Status string

const (
	// StatusPending is the provisional status a booking holds between
	// reservation and payment confirmation.
	StatusPending Status = "PENDING"
	// StatusConfirmed marks a booking whose payment was initiated and which
	// the workflow confirmed.
	StatusConfirmed Status = "CONFIRMED"
	// StatusCancelled marks a booking undone by compensation or by request.
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus maps a stored status string onto the closed status set.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return Status(value), true
	default:
		return "", false
	}
}

// State is the replay-derived booking aggregate state.
type State struct {
	ID            string
	UserID        string
	TrainID       string
	Status        Status
	FareAmount    int64
	Currency      string
	PassengerName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
