package idempotency

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/railbook/railbook/internal/booking/storage/sqlite"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

func newTestGuard(t *testing.T, waitTimeout time.Duration) *Guard {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	guard, err := New(store, waitTimeout)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return guard
}

func TestDoRunsOperationOnce(t *testing.T) {
	guard := newTestGuard(t, time.Second)
	ctx := context.Background()

	var runs atomic.Int32
	op := func(context.Context) ([]byte, error) {
		runs.Add(1)
		return []byte(`{"saga_id":"saga-1"}`), nil
	}

	first, err := guard.Do(ctx, "key-1", op)
	if err != nil {
		t.Fatalf("first do: %v", err)
	}
	second, err := guard.Do(ctx, "key-1", op)
	if err != nil {
		t.Fatalf("second do: %v", err)
	}

	if runs.Load() != 1 {
		t.Fatalf("operation ran %d times, want 1", runs.Load())
	}
	if string(first) != string(second) {
		t.Fatalf("duplicate got %s, want the cached %s", second, first)
	}
}

func TestDoRejectsEmptyKey(t *testing.T) {
	guard := newTestGuard(t, time.Second)

	_, err := guard.Do(context.Background(), "  ", func(context.Context) ([]byte, error) {
		t.Fatal("operation must not run without a key")
		return nil, nil
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeIdempotencyKeyMissing, "")) {
		t.Fatalf("err = %v, want IDEMPOTENCY_KEY_MISSING", err)
	}
}

func TestDoConcurrentDuplicatesShareOneResult(t *testing.T) {
	guard := newTestGuard(t, 5*time.Second)
	ctx := context.Background()

	var runs atomic.Int32
	op := func(context.Context) ([]byte, error) {
		runs.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte(`{"saga_id":"saga-1"}`), nil
	}

	const callers = 8
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := guard.Do(ctx, "key-1", op)
			results[i] = string(res)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("operation ran %d times, want 1", runs.Load())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != `{"saga_id":"saga-1"}` {
			t.Fatalf("caller %d got %s", i, results[i])
		}
	}
}

func TestDoFailedOperationFreesTheKey(t *testing.T) {
	guard := newTestGuard(t, time.Second)
	ctx := context.Background()

	opErr := errors.New("train is full")
	_, err := guard.Do(ctx, "key-1", func(context.Context) ([]byte, error) {
		return nil, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("err = %v, want the operation's error", err)
	}

	// The failed attempt produced no durable outcome, so a retry with the
	// same key runs the operation again.
	res, err := guard.Do(ctx, "key-1", func(context.Context) ([]byte, error) {
		return []byte(`{"saga_id":"saga-2"}`), nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if string(res) != `{"saga_id":"saga-2"}` {
		t.Fatalf("retry result = %s", res)
	}
}

func TestDoWaitExpires(t *testing.T) {
	guard := newTestGuard(t, 100*time.Millisecond)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = guard.Do(ctx, "key-1", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte(`{}`), nil
		})
	}()
	<-started
	defer close(release)

	_, err := guard.Do(ctx, "key-1", func(context.Context) ([]byte, error) {
		t.Fatal("duplicate must not run while the winner holds the key")
		return nil, nil
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeIdempotencyWaitExpired, "")) {
		t.Fatalf("err = %v, want IDEMPOTENCY_WAIT_EXPIRED", err)
	}
}

func TestDoRecoversFromCrashedHolder(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	// A holder claimed the key an hour ago and never completed it.
	claimed, _, err := store.ClaimIdempotencyKey(ctx, "key-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	if !claimed {
		t.Fatal("seed claim must win")
	}

	guard, err := New(store, time.Second)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	var runs atomic.Int32
	got, err := guard.Do(ctx, "key-1", func(context.Context) ([]byte, error) {
		runs.Add(1)
		return []byte(`{"saga_id":"saga-1"}`), nil
	})
	if err != nil {
		t.Fatalf("do after expired claim: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("operation ran %d times, want 1", runs.Load())
	}
	if string(got) != `{"saga_id":"saga-1"}` {
		t.Fatalf("response = %s", got)
	}

	rec, err := store.GetIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if rec.Status != "SUCCEEDED" {
		t.Fatalf("status = %s, want SUCCEEDED", rec.Status)
	}
}
