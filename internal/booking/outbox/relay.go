// Package outbox relays pending outbox rows to the message broker. Delivery
// is at-least-once: a row is marked published only after the broker accepted
// it, so a crash between publish and mark re-delivers.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/railbook/railbook/internal/booking/messaging"
	"github.com/railbook/railbook/internal/booking/storage"
	"github.com/railbook/railbook/internal/platform/lock"
)

// Config tunes the relay loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// LeaseTTL bounds how long a claimed row stays invisible to other relays.
	LeaseTTL    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	return c
}

// Relay polls the outbox and publishes due rows. A cluster-wide lease keeps
// at most one relay publishing per cycle across processes.
type Relay struct {
	store     storage.OutboxStore
	publisher messaging.Publisher
	lease     lock.Lease
	cfg       Config

	now func() time.Time
}

// NewRelay wires a relay over its collaborators.
func NewRelay(store storage.OutboxStore, publisher messaging.Publisher, lease lock.Lease, cfg Config) (*Relay, error) {
	if store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if lease == nil {
		return nil, fmt.Errorf("lease is required")
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		lease:     lease,
		cfg:       cfg.normalized(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run polls until the context is cancelled. Cycle errors are logged, never
// fatal: the next tick retries.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunCycle(ctx); err != nil {
				log.Printf("outbox relay: cycle: %v", err)
			}
		}
	}
}

// RunCycle claims and publishes one batch, reporting how many rows were
// published. The cycle is skipped when another relay holds the cluster lease.
func (r *Relay) RunCycle(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	acquired, err := r.lease.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire relay lease: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := r.lease.Release(ctx); err != nil {
			log.Printf("outbox relay: release lease: %v", err)
		}
	}()

	now := r.now()
	records, err := r.store.ClaimPendingOutbox(ctx, r.cfg.BatchSize, now, r.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}

	published := 0
	for _, rec := range records {
		if err := r.publishRecord(ctx, rec); err != nil {
			log.Printf("outbox relay: row %d: %v", rec.ID, err)
			continue
		}
		published++
	}
	return published, nil
}

func (r *Relay) publishRecord(ctx context.Context, rec storage.OutboxRecord) error {
	var msg messaging.EventMessage
	if err := json.Unmarshal(rec.PayloadJSON, &msg); err != nil {
		// An undecodable row counts as a failed attempt; it parks FAILED
		// once the retry budget runs out like any other publish failure.
		return r.recordFailure(ctx, rec, fmt.Errorf("decode envelope: %w", err))
	}

	if err := r.publisher.Publish(ctx, rec.Destination, msg.AggregateID, rec.PayloadJSON); err != nil {
		return r.recordFailure(ctx, rec, err)
	}
	if err := r.store.MarkOutboxPublished(ctx, rec.ID, r.now()); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

func (r *Relay) recordFailure(ctx context.Context, rec storage.OutboxRecord, pubErr error) error {
	attempt := rec.RetryCount + 1
	if attempt >= rec.MaxRetries {
		if err := r.store.MarkOutboxFailed(ctx, rec.ID, pubErr.Error()); err != nil {
			return fmt.Errorf("mark failed after %d attempts: %w", attempt, err)
		}
		return fmt.Errorf("publish failed permanently after %d attempts: %w", attempt, pubErr)
	}

	next := r.now().Add(r.backoff(rec.RetryCount))
	if err := r.store.MarkOutboxRetry(ctx, rec.ID, pubErr.Error(), next); err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return fmt.Errorf("publish failed, retrying at %s: %w", next.Format(time.RFC3339), pubErr)
}

// backoff doubles per completed retry, capped at MaxBackoff.
func (r *Relay) backoff(retryCount int) time.Duration {
	delay := r.cfg.BaseBackoff << retryCount
	if delay <= 0 || delay > r.cfg.MaxBackoff {
		return r.cfg.MaxBackoff
	}
	return delay
}
