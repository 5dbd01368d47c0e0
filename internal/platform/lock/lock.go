// Package lock provides mutual-exclusion leases used to serialize background
// work across service instances.
//
// The redis lease is the cluster-wide variant: only one holder owns the key at
// a time, and the TTL bounds the hold so a crashed holder cannot starve the
// others. The local variant covers single-instance deployments where no
// coordination substrate is configured.
package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a non-blocking mutual-exclusion lease. Acquire reports false when
// another holder currently owns the lease.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// releaseScript deletes the lease key only when the caller still owns it, so
// a holder whose lease expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a TTL-bounded lease backed by a single redis key.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisLease creates a lease on key with the given hold TTL.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) (*RedisLease, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lease key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	return &RedisLease{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}, nil
}

// Acquire attempts to take the lease. It reports false without error when the
// lease is held elsewhere.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("lease is not configured")
	}
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease back if this instance still owns it. Releasing a
// lease that expired or was never acquired is not an error.
func (l *RedisLease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("lease is not configured")
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// LocalLease is an in-process lease for deployments without redis. It
// serializes work within one process only.
type LocalLease struct {
	mu sync.Mutex
}

// NewLocalLease creates an in-process lease.
func NewLocalLease() *LocalLease {
	return &LocalLease{}
}

// Acquire takes the lease when it is free.
func (l *LocalLease) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.mu.TryLock(), nil
}

// Release gives the lease back.
func (l *LocalLease) Release(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}
