package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/storage"
)

// CreateBooking inserts the booking row, its creation event and the outbox
// row in one transaction.
func (s *Store) CreateBooking(ctx context.Context, rec storage.BookingRecord, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("store is not initialized")
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin create booking: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO bookings (id, user_id, train_id, status, fare_amount, currency,
    passenger_name, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		rec.UserID,
		rec.TrainID,
		rec.Status,
		rec.FareAmount,
		rec.Currency,
		rec.PassengerName,
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("insert booking: %w", err)
	}

	evt, err = s.insertEventTx(ctx, tx, evt)
	if err != nil {
		return event.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit create booking: %w", err)
	}
	return evt, nil
}

// UpdateBookingStatus moves the booking row to a new status and appends the
// event recording the transition, atomically.
func (s *Store) UpdateBookingStatus(ctx context.Context, bookingID, status string, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("store is not initialized")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin update booking: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE bookings
SET status = ?, updated_at_ms = ?
WHERE id = ?
`, status, toMillis(time.Now()), bookingID)
	if err != nil {
		return event.Event{}, fmt.Errorf("update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return event.Event{}, fmt.Errorf("update booking status: %w", err)
	}
	if affected == 0 {
		return event.Event{}, storage.ErrNotFound
	}

	evt, err = s.insertEventTx(ctx, tx, evt)
	if err != nil {
		return event.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit update booking: %w", err)
	}
	return evt, nil
}

// GetBooking loads the booking's current-state row.
func (s *Store) GetBooking(ctx context.Context, bookingID string) (storage.BookingRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.BookingRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.BookingRecord{}, fmt.Errorf("store is not initialized")
	}

	var (
		rec       storage.BookingRecord
		createdMs int64
		updatedMs int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, train_id, status, fare_amount, currency, passenger_name,
    created_at_ms, updated_at_ms
FROM bookings
WHERE id = ?
`, bookingID)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TrainID,
		&rec.Status,
		&rec.FareAmount,
		&rec.Currency,
		&rec.PassengerName,
		&createdMs,
		&updatedMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.BookingRecord{}, storage.ErrNotFound
		}
		return storage.BookingRecord{}, fmt.Errorf("get booking: %w", err)
	}
	rec.CreatedAt = fromMillis(createdMs)
	rec.UpdatedAt = fromMillis(updatedMs)
	return rec, nil
}
