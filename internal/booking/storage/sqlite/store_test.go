package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/railbook/railbook/internal/booking/domain/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		store, err := Open(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}

func testEvent(aggregateID string, eventType event.Type, payload string, at time.Time) event.Event {
	return event.Event{
		AggregateID: aggregateID,
		Type:        eventType,
		PayloadJSON: []byte(payload),
		Timestamp:   at,
	}
}
