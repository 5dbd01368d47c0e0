package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRedisLeaseMutualExclusion(t *testing.T) {
	client := newTestRedis(t)

	first, err := NewRedisLease(client, "railbook:outbox-relay", time.Minute)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}
	second, err := NewRedisLease(client, "railbook:outbox-relay", time.Minute)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}

	ok, err := first.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok, err = second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to be refused while lease is held")
	}

	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestRedisLeaseReleaseOnlyByOwner(t *testing.T) {
	client := newTestRedis(t)

	holder, err := NewRedisLease(client, "railbook:lease", time.Minute)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}
	intruder, err := NewRedisLease(client, "railbook:lease", time.Minute)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}

	if ok, err := holder.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("holder acquire: ok=%v err=%v", ok, err)
	}

	// A non-owner release must not free the holder's lease.
	if err := intruder.Release(context.Background()); err != nil {
		t.Fatalf("intruder release: %v", err)
	}
	if ok, err := intruder.Acquire(context.Background()); err != nil || ok {
		t.Fatalf("expected lease still held, ok=%v err=%v", ok, err)
	}
}

func TestRedisLeaseExpires(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	lease, err := NewRedisLease(client, "railbook:lease", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}
	if ok, err := lease.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	srv.FastForward(100 * time.Millisecond)

	successor, err := NewRedisLease(client, "railbook:lease", time.Minute)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}
	if ok, err := successor.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("expected acquire after ttl expiry, ok=%v err=%v", ok, err)
	}
}

func TestLocalLease(t *testing.T) {
	lease := NewLocalLease()

	ok, err := lease.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	ok, err = lease.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to be refused")
	}

	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := lease.Acquire(context.Background()); !ok {
		t.Fatal("expected acquire after release")
	}
}
