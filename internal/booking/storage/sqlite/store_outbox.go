package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/railbook/railbook/internal/booking/storage"
)

const outboxColumns = `id, event_id, destination, payload, status, retry_count,
max_retries, error_message, next_attempt_at_ms, lease_expires_at_ms, created_at_ms, published_at_ms`

// EnqueueOutbox inserts a standalone outbox row outside the event append path,
// for messages that do not originate from a journal write. The row is due
// immediately.
func (s *Store) EnqueueOutbox(ctx context.Context, destination string, payload []byte) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if destination == "" {
		return 0, fmt.Errorf("enqueue outbox: destination is required")
	}

	now := toMillis(time.Now().UTC())
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO outbox_events (event_id, destination, payload, status, retry_count,
    max_retries, next_attempt_at_ms, created_at_ms)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)
`,
		uuid.NewString(),
		destination,
		string(payload),
		storage.OutboxStatusPending,
		s.outboxMaxRetries,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue outbox: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue outbox id: %w", err)
	}
	return id, nil
}

// ClaimPendingOutbox leases due PENDING rows to the caller. Candidates are
// selected first, then each row is claimed with a guarded UPDATE whose
// affected-row count decides ownership, so two relays polling the same
// database never share a row.
func (s *Store) ClaimPendingOutbox(ctx context.Context, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	if limit <= 0 {
		return nil, nil
	}

	nowMs := toMillis(now)
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE status = ?
  AND next_attempt_at_ms <= ?
  AND (lease_expires_at_ms IS NULL OR lease_expires_at_ms <= ?)
ORDER BY next_attempt_at_ms ASC, id ASC
LIMIT ?
`, storage.OutboxStatusPending, nowMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox candidates: %w", err)
	}

	var candidates []storage.OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	rows.Close()

	leaseMs := toMillis(now.Add(leaseTTL))
	var claimed []storage.OutboxRecord
	for _, rec := range candidates {
		res, err := s.sqlDB.ExecContext(ctx, `
UPDATE outbox_events
SET lease_expires_at_ms = ?
WHERE id = ?
  AND status = ?
  AND (lease_expires_at_ms IS NULL OR lease_expires_at_ms <= ?)
`, leaseMs, rec.ID, storage.OutboxStatusPending, nowMs)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %d: %w", rec.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %d: %w", rec.ID, err)
		}
		if affected == 0 {
			// Another relay won the row between the select and the update.
			continue
		}
		lease := fromMillis(leaseMs)
		rec.LeaseExpires = &lease
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

// MarkOutboxPublished finalizes a delivered row.
func (s *Store) MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error {
	return s.execOutboxMark(ctx, `
UPDATE outbox_events
SET status = ?, published_at_ms = ?, error_message = '', lease_expires_at_ms = NULL
WHERE id = ? AND status = ?
`, storage.OutboxStatusPublished, toMillis(at), id, storage.OutboxStatusPending)
}

// MarkOutboxRetry releases a row back to PENDING with the retry count bumped
// and the next attempt deferred.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, errMsg string, nextAttempt time.Time) error {
	return s.execOutboxMark(ctx, `
UPDATE outbox_events
SET retry_count = retry_count + 1, error_message = ?, next_attempt_at_ms = ?, lease_expires_at_ms = NULL
WHERE id = ? AND status = ?
`, errMsg, toMillis(nextAttempt), id, storage.OutboxStatusPending)
}

// MarkOutboxFailed parks a row FAILED after its retries are exhausted. The
// row is kept for inspection and manual replay.
func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, errMsg string) error {
	return s.execOutboxMark(ctx, `
UPDATE outbox_events
SET status = ?, retry_count = retry_count + 1, error_message = ?, lease_expires_at_ms = NULL
WHERE id = ? AND status = ?
`, storage.OutboxStatusFailed, errMsg, id, storage.OutboxStatusPending)
}

func (s *Store) execOutboxMark(ctx context.Context, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}

	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update outbox row: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetOutboxEvent loads one outbox row.
func (s *Store) GetOutboxEvent(ctx context.Context, id int64) (storage.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutboxRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OutboxRecord{}, fmt.Errorf("store is not initialized")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE id = ?
`, id)
	rec, err := scanOutbox(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OutboxRecord{}, storage.ErrNotFound
		}
		return storage.OutboxRecord{}, fmt.Errorf("get outbox row: %w", err)
	}
	return rec, nil
}

// ListOutboxEvents returns rows in one status, oldest first.
func (s *Store) ListOutboxEvents(ctx context.Context, status string, limit int) ([]storage.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE status = ?
ORDER BY id ASC
LIMIT ?
`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox rows: %w", err)
	}
	defer rows.Close()

	var records []storage.OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return records, nil
}

func scanOutbox(row rowScanner) (storage.OutboxRecord, error) {
	var (
		rec           storage.OutboxRecord
		payload       string
		nextAttemptMs int64
		leaseMs       sql.NullInt64
		createdMs     int64
		publishedMs   sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.EventID,
		&rec.Destination,
		&payload,
		&rec.Status,
		&rec.RetryCount,
		&rec.MaxRetries,
		&rec.ErrorMessage,
		&nextAttemptMs,
		&leaseMs,
		&createdMs,
		&publishedMs,
	); err != nil {
		return storage.OutboxRecord{}, err
	}
	rec.PayloadJSON = []byte(payload)
	rec.NextAttemptAt = fromMillis(nextAttemptMs)
	rec.LeaseExpires = millisPtr(leaseMs)
	rec.CreatedAt = fromMillis(createdMs)
	rec.PublishedAt = millisPtr(publishedMs)
	return rec, nil
}
