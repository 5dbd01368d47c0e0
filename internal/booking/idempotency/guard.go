// Package idempotency deduplicates externally triggered operations by key.
// The first caller to claim a key runs the operation; concurrent duplicates
// wait for its outcome and receive the cached response.
package idempotency

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/railbook/railbook/internal/booking/storage"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// Guard serializes operations sharing an idempotency key.
type Guard struct {
	store        storage.IdempotencyStore
	waitTimeout  time.Duration
	pollInterval time.Duration

	now func() time.Time
}

// New builds a guard. A non-positive waitTimeout selects the default.
func New(store storage.IdempotencyStore, waitTimeout time.Duration) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &Guard{
		store:        store,
		waitTimeout:  waitTimeout,
		pollInterval: defaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Do runs op at most once per key. The winner's response is cached and
// returned to every duplicate. A duplicate waiting on an in-flight claim
// polls until the claim resolves or the wait timeout expires. When the
// in-flight claim fails, the key frees up and a waiting duplicate retries
// the operation itself.
func (g *Guard) Do(ctx context.Context, key string, op func(context.Context) ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, apperrors.New(apperrors.CodeIdempotencyKeyMissing, "idempotency key is required")
	}

	deadline := g.now().Add(g.waitTimeout)
	for {
		claimed, rec, err := g.store.ClaimIdempotencyKey(ctx, key, g.now())
		if err != nil {
			return nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if claimed {
			return g.run(ctx, key, op)
		}

		switch rec.Status {
		case storage.IdempotencyStatusSucceeded:
			return rec.ResponseJSON, nil
		case storage.IdempotencyStatusInProgress:
			if err := g.waitForResolution(ctx, deadline); err != nil {
				return nil, err
			}
			// Re-claim: the winner either succeeded (the cached response is
			// returned above) or failed (the key is claimable again).
		default:
			// FAILED between the claim and this read; loop and reclaim.
		}
	}
}

func (g *Guard) run(ctx context.Context, key string, op func(context.Context) ([]byte, error)) ([]byte, error) {
	response, opErr := op(ctx)
	if opErr != nil {
		if err := g.store.CompleteIdempotencyKey(ctx, key, storage.IdempotencyStatusFailed, nil); err != nil {
			log.Printf("idempotency: record failure for key %s: %v", key, err)
		}
		return nil, opErr
	}
	if err := g.store.CompleteIdempotencyKey(ctx, key, storage.IdempotencyStatusSucceeded, response); err != nil {
		return nil, fmt.Errorf("record idempotency outcome: %w", err)
	}
	return response, nil
}

// waitForResolution sleeps one poll interval, failing when the deadline or
// the context expires first.
func (g *Guard) waitForResolution(ctx context.Context, deadline time.Time) error {
	if !g.now().Before(deadline) {
		return apperrors.New(apperrors.CodeIdempotencyWaitExpired, "timed out waiting for the in-flight operation")
	}
	timer := time.NewTimer(g.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
