package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/messaging"
	"github.com/railbook/railbook/internal/booking/storage"
)

const eventColumns = `id, event_id, aggregate_type, aggregate_id, event_type, payload,
timestamp_ms, correlation_id, user_id, version, metadata`

// AppendEvent validates and persists an event, enqueuing its outbox row in
// the same transaction so the journal and the outbox can never disagree.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("store is not initialized")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin append event: %w", err)
	}
	defer tx.Rollback()

	evt, err = s.insertEventTx(ctx, tx, evt)
	if err != nil {
		return event.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit append event: %w", err)
	}
	return evt, nil
}

// insertEventTx validates an event, persists it and enqueues its outbox row
// inside the caller's transaction. It returns the event with defaults filled
// and the journal sequence assigned.
func (s *Store) insertEventTx(ctx context.Context, tx *sql.Tx, evt event.Event) (event.Event, error) {
	evt, err := event.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(evt.MetadataJSON) == 0 {
		evt.MetadataJSON = []byte(`{}`)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO events (event_id, aggregate_type, aggregate_id, event_type, payload,
    timestamp_ms, correlation_id, user_id, version, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		evt.EventID,
		string(evt.AggregateType),
		evt.AggregateID,
		string(evt.Type),
		string(evt.PayloadJSON),
		toMillis(evt.Timestamp),
		evt.CorrelationID,
		evt.UserID,
		evt.Version,
		string(evt.MetadataJSON),
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("event insert id: %w", err)
	}
	evt.Seq = seq

	if err := s.enqueueOutboxTx(ctx, tx, evt); err != nil {
		return event.Event{}, err
	}
	return evt, nil
}

// enqueueOutboxTx writes the integration outbox row for an event inside the
// caller's transaction.
func (s *Store) enqueueOutboxTx(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	payload, err := json.Marshal(messaging.Envelope(evt))
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	now := toMillis(evt.Timestamp)
	_, err = tx.ExecContext(ctx, `
INSERT INTO outbox_events (event_id, destination, payload, status, retry_count,
    max_retries, next_attempt_at_ms, created_at_ms)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)
`,
		evt.EventID,
		messaging.TopicForAggregate(evt.AggregateType),
		string(payload),
		storage.OutboxStatusPending,
		s.outboxMaxRetries,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// ListEvents returns the aggregate's full stream in replay order: timestamp
// first, insertion order breaking ties.
func (s *Store) ListEvents(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return s.queryEvents(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE aggregate_id = ?
ORDER BY timestamp_ms ASC, id ASC
`, aggregateID)
}

// ListEventsByType returns the aggregate's events of one type, in replay order.
func (s *Store) ListEventsByType(ctx context.Context, aggregateID string, eventType event.Type) ([]event.Event, error) {
	return s.queryEvents(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE aggregate_id = ? AND event_type = ?
ORDER BY timestamp_ms ASC, id ASC
`, aggregateID, string(eventType))
}

// ListEventsBetween returns the aggregate's events within [from, to]
// inclusive, in replay order. A zero from means no lower bound.
func (s *Store) ListEventsBetween(ctx context.Context, aggregateID string, from, to time.Time) ([]event.Event, error) {
	query := `
SELECT ` + eventColumns + `
FROM events
WHERE aggregate_id = ? AND timestamp_ms <= ?
`
	args := []any{aggregateID, toMillis(to)}
	if !from.IsZero() {
		query += " AND timestamp_ms >= ?"
		args = append(args, toMillis(from))
	}
	query += " ORDER BY timestamp_ms ASC, id ASC"
	return s.queryEvents(ctx, query, args...)
}

// ListEventsByCorrelation returns every event in a workflow, across
// aggregates, in replay order.
func (s *Store) ListEventsByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error) {
	return s.queryEvents(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE correlation_id = ?
ORDER BY timestamp_ms ASC, id ASC
`, correlationID)
}

// LatestEvent returns the aggregate's newest event.
func (s *Store) LatestEvent(ctx context.Context, aggregateID string) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("store is not initialized")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE aggregate_id = ?
ORDER BY timestamp_ms DESC, id DESC
LIMIT 1
`, aggregateID)

	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Event{}, storage.ErrNotFound
		}
		return event.Event{}, fmt.Errorf("latest event: %w", err)
	}
	return evt, nil
}

// CountEvents returns the aggregate's stream length.
func (s *Store) CountEvents(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store is not initialized")
	}

	var count int64
	row := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE aggregate_id = ?", aggregateID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt           event.Event
		aggregateType string
		eventType     string
		payload       string
		timestampMs   int64
		metadata      string
	)
	if err := row.Scan(
		&evt.Seq,
		&evt.EventID,
		&aggregateType,
		&evt.AggregateID,
		&eventType,
		&payload,
		&timestampMs,
		&evt.CorrelationID,
		&evt.UserID,
		&evt.Version,
		&metadata,
	); err != nil {
		return event.Event{}, err
	}
	evt.AggregateType = event.AggregateType(aggregateType)
	evt.Type = event.Type(eventType)
	evt.PayloadJSON = []byte(payload)
	evt.Timestamp = fromMillis(timestampMs)
	evt.MetadataJSON = []byte(metadata)
	return evt, nil
}
