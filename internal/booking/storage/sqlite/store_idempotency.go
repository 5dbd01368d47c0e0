package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railbook/railbook/internal/booking/storage"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// ClaimIdempotencyKey attempts to claim a key for the caller. The claim is a
// plain INSERT racing on the primary key, so exactly one of any number of
// concurrent claimants wins. A key left FAILED by a previous run is reclaimed
// in place, as is an IN_PROGRESS claim whose lease has run out: a holder that
// crashed before completing must not hold the key forever.
func (s *Store) ClaimIdempotencyKey(ctx context.Context, key string, now time.Time) (bool, storage.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.IdempotencyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return false, storage.IdempotencyRecord{}, fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return false, storage.IdempotencyRecord{}, apperrors.New(apperrors.CodeIdempotencyKeyMissing, "idempotency key is required")
	}

	nowMs := toMillis(now)
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO idempotency_keys (key, status, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO NOTHING
`, key, storage.IdempotencyStatusInProgress, nowMs, nowMs)
	if err != nil {
		return false, storage.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storage.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if affected == 1 {
		rec, err := s.GetIdempotencyKey(ctx, key)
		if err != nil {
			return false, storage.IdempotencyRecord{}, err
		}
		return true, rec, nil
	}

	// The key exists. A FAILED claim did not produce a durable outcome, and
	// an IN_PROGRESS claim whose lease expired belongs to a crashed holder;
	// either way the key becomes claimable again. The guarded UPDATE's
	// affected-row count decides ownership among concurrent reclaimants.
	staleMs := toMillis(now.Add(-s.idempotencyLease))
	res, err = s.sqlDB.ExecContext(ctx, `
UPDATE idempotency_keys
SET status = ?, response = NULL, updated_at_ms = ?
WHERE key = ?
  AND (status = ? OR (status = ? AND updated_at_ms <= ?))
`, storage.IdempotencyStatusInProgress, nowMs, key,
		storage.IdempotencyStatusFailed, storage.IdempotencyStatusInProgress, staleMs)
	if err != nil {
		return false, storage.IdempotencyRecord{}, fmt.Errorf("reclaim idempotency key: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return false, storage.IdempotencyRecord{}, fmt.Errorf("reclaim idempotency key: %w", err)
	}

	rec, err := s.GetIdempotencyKey(ctx, key)
	if err != nil {
		return false, storage.IdempotencyRecord{}, err
	}
	return affected == 1, rec, nil
}

// CompleteIdempotencyKey records the outcome and cached response of a claim.
func (s *Store) CompleteIdempotencyKey(ctx context.Context, key, status string, responseJSON []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}

	var response any
	if len(responseJSON) > 0 {
		response = string(responseJSON)
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE idempotency_keys
SET status = ?, response = ?, updated_at_ms = ?
WHERE key = ?
`, status, response, toMillis(time.Now()), key)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetIdempotencyKey loads one key record.
func (s *Store) GetIdempotencyKey(ctx context.Context, key string) (storage.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdempotencyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.IdempotencyRecord{}, fmt.Errorf("store is not initialized")
	}

	var (
		rec       storage.IdempotencyRecord
		response  sql.NullString
		createdMs int64
		updatedMs int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT key, status, response, created_at_ms, updated_at_ms
FROM idempotency_keys
WHERE key = ?
`, key)
	if err := row.Scan(&rec.Key, &rec.Status, &response, &createdMs, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.IdempotencyRecord{}, storage.ErrNotFound
		}
		return storage.IdempotencyRecord{}, fmt.Errorf("get idempotency key: %w", err)
	}
	if response.Valid {
		rec.ResponseJSON = []byte(response.String)
	}
	rec.CreatedAt = fromMillis(createdMs)
	rec.UpdatedAt = fromMillis(updatedMs)
	return rec, nil
}
