package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/railbook/railbook/internal/booking/domain/saga"
	"github.com/railbook/railbook/internal/booking/storage"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

const sagaColumns = `id, saga_type, correlation_id, status, current_step, total_steps,
data, error_message, created_at_ms, updated_at_ms, completed_at_ms`

// CreateSagaInstance persists a new saga run.
func (s *Store) CreateSagaInstance(ctx context.Context, inst saga.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}

	data, err := json.Marshal(inst.Data)
	if err != nil {
		return fmt.Errorf("marshal saga data: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO saga_instances (id, saga_type, correlation_id, status, current_step,
    total_steps, data, error_message, created_at_ms, updated_at_ms, completed_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		inst.ID,
		inst.Type,
		inst.CorrelationID,
		string(inst.Status),
		inst.CurrentStep,
		inst.TotalSteps,
		string(data),
		inst.Error,
		toMillis(inst.CreatedAt),
		toMillis(inst.UpdatedAt),
		nullableMillis(inst.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert saga instance: %w", err)
	}
	return nil
}

// UpdateSagaInstance persists a saga transition. Instances in a terminal
// status are immutable; updating one is rejected.
func (s *Store) UpdateSagaInstance(ctx context.Context, inst saga.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}

	data, err := json.Marshal(inst.Data)
	if err != nil {
		return fmt.Errorf("marshal saga data: %w", err)
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE saga_instances
SET status = ?, current_step = ?, data = ?, error_message = ?, updated_at_ms = ?, completed_at_ms = ?
WHERE id = ? AND status NOT IN (?, ?, ?)
`,
		string(inst.Status),
		inst.CurrentStep,
		string(data),
		inst.Error,
		toMillis(inst.UpdatedAt),
		nullableMillis(inst.CompletedAt),
		inst.ID,
		string(saga.StatusCompleted),
		string(saga.StatusCompensated),
		string(saga.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("update saga instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update saga instance: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetSagaInstance(ctx, inst.ID); err != nil {
			return err
		}
		return apperrors.New(apperrors.CodeSagaDataInvalid, "saga instance is terminal")
	}
	return nil
}

// GetSagaInstance loads a saga run.
func (s *Store) GetSagaInstance(ctx context.Context, id string) (saga.Instance, error) {
	return s.querySagaInstance(ctx, `
SELECT `+sagaColumns+`
FROM saga_instances
WHERE id = ?
`, id)
}

// GetSagaInstanceByCorrelation loads the saga run started with a correlation id.
func (s *Store) GetSagaInstanceByCorrelation(ctx context.Context, correlationID string) (saga.Instance, error) {
	return s.querySagaInstance(ctx, `
SELECT `+sagaColumns+`
FROM saga_instances
WHERE correlation_id = ?
ORDER BY created_at_ms DESC
LIMIT 1
`, correlationID)
}

func (s *Store) querySagaInstance(ctx context.Context, query string, args ...any) (saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return saga.Instance{}, err
	}
	if s == nil || s.sqlDB == nil {
		return saga.Instance{}, fmt.Errorf("store is not initialized")
	}

	var (
		inst        saga.Instance
		status      string
		data        string
		createdMs   int64
		updatedMs   int64
		completedMs sql.NullInt64
	)
	row := s.sqlDB.QueryRowContext(ctx, query, args...)
	if err := row.Scan(
		&inst.ID,
		&inst.Type,
		&inst.CorrelationID,
		&status,
		&inst.CurrentStep,
		&inst.TotalSteps,
		&data,
		&inst.Error,
		&createdMs,
		&updatedMs,
		&completedMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.Instance{}, storage.ErrNotFound
		}
		return saga.Instance{}, fmt.Errorf("get saga instance: %w", err)
	}

	inst.Status = saga.Status(status)
	if err := json.Unmarshal([]byte(data), &inst.Data); err != nil {
		return saga.Instance{}, apperrors.Wrap(apperrors.CodeSagaDataInvalid, "decode saga data", err)
	}
	inst.CreatedAt = fromMillis(createdMs)
	inst.UpdatedAt = fromMillis(updatedMs)
	inst.CompletedAt = millisPtr(completedMs)
	return inst, nil
}
