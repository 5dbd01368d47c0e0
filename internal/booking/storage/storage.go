// Package storage defines the persistence surface of the booking core.
package storage

import (
	"context"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/domain/saga"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// ErrNotFound indicates a requested record does not exist.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// Outbox row statuses.
const (
	OutboxStatusPending   = "PENDING"
	OutboxStatusPublished = "PUBLISHED"
	OutboxStatusFailed    = "FAILED"
)

// Idempotency key statuses.
const (
	IdempotencyStatusInProgress = "IN_PROGRESS"
	IdempotencyStatusSucceeded  = "SUCCEEDED"
	IdempotencyStatusFailed     = "FAILED"
)

// BookingRecord is the current-state booking row, maintained alongside the
// event journal so lookups do not require a replay.
type BookingRecord struct {
	ID            string
	UserID        string
	TrainID       string
	Status        string
	FareAmount    int64
	Currency      string
	PassengerName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxRecord is one pending integration message. Rows are claimed under a
// short lease so concurrent relays never publish the same row twice.
type OutboxRecord struct {
	ID            int64
	EventID       string
	Destination   string
	PayloadJSON   []byte
	Status        string
	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	NextAttemptAt time.Time
	LeaseExpires  *time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// IdempotencyRecord tracks one idempotency key claim and its cached response.
type IdempotencyRecord struct {
	Key          string
	Status       string
	ResponseJSON []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventStore is the append-only journal.
type EventStore interface {
	// AppendEvent validates, persists and returns the event with its journal
	// sequence assigned. An outbox row for the event is written in the same
	// transaction.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	ListEvents(ctx context.Context, aggregateID string) ([]event.Event, error)
	ListEventsByType(ctx context.Context, aggregateID string, eventType event.Type) ([]event.Event, error)
	ListEventsBetween(ctx context.Context, aggregateID string, from, to time.Time) ([]event.Event, error)
	ListEventsByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error)
	LatestEvent(ctx context.Context, aggregateID string) (event.Event, error)
	CountEvents(ctx context.Context, aggregateID string) (int64, error)
}

// OutboxStore manages the transactional outbox rows.
type OutboxStore interface {
	// EnqueueOutbox inserts a standalone PENDING row due immediately, for
	// messages that do not ride an event append.
	EnqueueOutbox(ctx context.Context, destination string, payload []byte) (int64, error)
	// ClaimPendingOutbox leases up to limit due PENDING rows to the caller.
	// A row already under an unexpired lease is skipped.
	ClaimPendingOutbox(ctx context.Context, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxRecord, error)
	MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error
	// MarkOutboxRetry releases the row back to PENDING with the retry count
	// bumped and the next attempt deferred.
	MarkOutboxRetry(ctx context.Context, id int64, errMsg string, nextAttempt time.Time) error
	MarkOutboxFailed(ctx context.Context, id int64, errMsg string) error
	GetOutboxEvent(ctx context.Context, id int64) (OutboxRecord, error)
	ListOutboxEvents(ctx context.Context, status string, limit int) ([]OutboxRecord, error)
}

// BookingStore maintains current-state booking rows. Mutations take the event
// recording the change and persist row, event and outbox entry in one
// transaction.
type BookingStore interface {
	CreateBooking(ctx context.Context, rec BookingRecord, evt event.Event) (event.Event, error)
	UpdateBookingStatus(ctx context.Context, bookingID, status string, evt event.Event) (event.Event, error)
	GetBooking(ctx context.Context, bookingID string) (BookingRecord, error)
}

// IdempotencyStore tracks idempotency key claims.
type IdempotencyStore interface {
	// ClaimIdempotencyKey attempts to claim the key for the caller. It
	// reports false when another claim holds the key, returning that claim's
	// record. A FAILED key is reclaimed, as is an IN_PROGRESS claim whose
	// lease expired relative to now.
	ClaimIdempotencyKey(ctx context.Context, key string, now time.Time) (bool, IdempotencyRecord, error)
	CompleteIdempotencyKey(ctx context.Context, key, status string, responseJSON []byte) error
	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	EventStore
	OutboxStore
	BookingStore
	IdempotencyStore
	saga.InstanceStore

	Close() error
}
