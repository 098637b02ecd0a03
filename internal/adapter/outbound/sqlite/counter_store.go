// Package sqlite implements the counter store on a local SQLite file,
// giving budgets that survive restarts without any external service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
)

const schema = `
CREATE TABLE IF NOT EXISTS counter_windows (
  key      TEXT PRIMARY KEY,
  count    INTEGER NOT NULL,
  reset_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_counter_windows_reset_at ON counter_windows (reset_at);`

// consumeSQL folds the whole window transition into one statement; see
// the postgres store for the shape. Deadlines are unix milliseconds.
const consumeSQL = `
INSERT INTO counter_windows (key, count, reset_at) VALUES (?, 1, ?)
ON CONFLICT(key) DO UPDATE SET
  count = CASE
    WHEN counter_windows.reset_at <= ? THEN 1
    ELSE counter_windows.count + 1
  END,
  reset_at = CASE
    WHEN counter_windows.reset_at <= ? THEN excluded.reset_at
    WHEN counter_windows.count + 1 = ? THEN ?
    ELSE counter_windows.reset_at
  END
RETURNING count, reset_at`

// CounterStore implements ratelimit.CounterStore on SQLite.
//
// The connection pool is capped at one connection, so statements execute
// serially and Consume needs no explicit locking.
type CounterStore struct {
	db              *sql.DB
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewCounterStore opens the SQLite file at path with the default
// expired-row sweep interval of 5 minutes.
func NewCounterStore(path string) (*CounterStore, error) {
	return NewCounterStoreWithCleanup(path, 5*time.Minute)
}

// NewCounterStoreWithCleanup opens the SQLite file at path, creating
// the schema when missing.
func NewCounterStoreWithCleanup(path string, cleanupInterval time.Duration) (*CounterStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &CounterStore{
		db:              db,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}, nil
}

// Consume records one hit for key and returns the post-increment window.
func (s *CounterStore) Consume(ctx context.Context, key string, profile ratelimit.Profile) (ratelimit.Window, error) {
	now := time.Now()
	var (
		count   int
		resetMs int64
	)
	err := s.db.QueryRowContext(ctx, consumeSQL,
		key, now.Add(profile.Duration).UnixMilli(),
		now.UnixMilli(),
		now.UnixMilli(),
		profile.Points+1, now.Add(profile.EffectiveBlock()).UnixMilli(),
	).Scan(&count, &resetMs)
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite consume: %w", err)
	}
	return ratelimit.Window{Count: count, ResetAt: time.UnixMilli(resetMs)}, nil
}

// Get returns the live window for key without recording a hit.
func (s *CounterStore) Get(ctx context.Context, key string) (ratelimit.Window, error) {
	var (
		count   int
		resetMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT count, reset_at FROM counter_windows WHERE key = ? AND reset_at > ?`,
		key, time.Now().UnixMilli(),
	).Scan(&count, &resetMs)
	if errors.Is(err, sql.ErrNoRows) {
		return ratelimit.Window{}, ratelimit.ErrKeyNotFound
	}
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("sqlite get: %w", err)
	}
	return ratelimit.Window{Count: count, ResetAt: time.UnixMilli(resetMs)}, nil
}

// Reset removes the window for key.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM counter_windows WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite reset: %w", err)
	}
	return nil
}

// CleanupExpired removes rows whose window deadline has passed.
func (s *CounterStore) CleanupExpired() error {
	_, err := s.db.Exec(`DELETE FROM counter_windows WHERE reset_at <= ?`, time.Now().UnixMilli())
	return err
}

// StartCleanup starts the background sweep of expired rows.
// It stops when ctx is cancelled or Stop() is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.CleanupExpired(); err != nil {
					slog.Warn("counter store cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Close stops cleanup and closes the database.
func (s *CounterStore) Close() error {
	s.Stop()
	return s.db.Close()
}

// Compile-time interface verification.
var _ ratelimit.CounterStore = (*CounterStore)(nil)
