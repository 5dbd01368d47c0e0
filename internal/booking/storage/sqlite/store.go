// Package sqlite implements the booking persistence surface over SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/railbook/railbook/internal/booking/storage/sqlite/migrations"
	sqlitemigrate "github.com/railbook/railbook/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// defaultOutboxMaxRetries bounds publish attempts before a row is parked FAILED.
const defaultOutboxMaxRetries = 5

// defaultIdempotencyLease bounds how long an IN_PROGRESS claim stays exclusive.
// A holder that crashes before completing releases the key to the next
// claimant once the lease runs out.
const defaultIdempotencyLease = time.Minute

// Options tunes store behavior beyond the defaults.
type Options struct {
	// OutboxMaxRetries is stamped on every enqueued outbox row. Zero means
	// the default.
	OutboxMaxRetries int
	// IdempotencyLease is the maximum hold on an IN_PROGRESS key before it
	// becomes reclaimable. Zero means the default.
	IdempotencyLease time.Duration
}

// Store implements booking persistence over SQLite.
//
// A single SQLite file backs the event journal, the outbox, saga instances
// and idempotency keys so a domain mutation and its outbox row share one
// transaction.
type Store struct {
	sqlDB            *sql.DB
	outboxMaxRetries int
	idempotencyLease time.Duration
}

// Open opens a booking SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens a store with explicit tuning.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	maxRetries := opts.OutboxMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultOutboxMaxRetries
	}
	lease := opts.IdempotencyLease
	if lease <= 0 {
		lease = defaultIdempotencyLease
	}

	store := &Store{
		sqlDB:            sqlDB,
		outboxMaxRetries: maxRetries,
		idempotencyLease: lease,
	}

	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB returns the raw database handle for test setup.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.Apply(s.sqlDB, migrations.FS)
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullableMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func millisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}
