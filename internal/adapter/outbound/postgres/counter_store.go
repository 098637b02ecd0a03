// Package postgres implements the counter store on PostgreSQL for
// deployments that already run one and want budgets shared across
// gateway instances without adding Redis.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
)

// CounterWindow represents a row in the counter_windows table.
type CounterWindow struct {
	Key     string `gorm:"primaryKey"`
	Count   int
	ResetAt time.Time
}

// CounterStore implements ratelimit.CounterStore on PostgreSQL.
//
// Consume is a single INSERT ... ON CONFLICT ... RETURNING statement, so
// concurrent callers across any number of gateway processes each observe
// a distinct count without explicit row locks.
type CounterStore struct {
	db              *gorm.DB
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewCounterStore connects to PostgreSQL with the default expired-row
// sweep interval of 5 minutes.
func NewCounterStore(dsn string) (*CounterStore, error) {
	return NewCounterStoreWithCleanup(dsn, 5*time.Minute)
}

// NewCounterStoreWithCleanup connects to PostgreSQL, creating the
// counter_windows table and its reset_at index when missing.
func NewCounterStoreWithCleanup(dsn string, cleanupInterval time.Duration) (*CounterStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&CounterWindow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// Index on reset_at for cleanup queries.
	if !db.Migrator().HasIndex(&CounterWindow{}, "reset_at") {
		if err := db.Migrator().CreateIndex(&CounterWindow{}, "reset_at"); err != nil {
			return nil, fmt.Errorf("failed to create reset_at index: %w", err)
		}
	}

	return &CounterStore{
		db:              db,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}, nil
}

// consumeSQL folds the whole window transition into one statement:
// a fresh or expired key restarts at count 1, the hit that first exceeds
// the budget moves reset_at to the block deadline, and every other hit
// only increments.
const consumeSQL = `
INSERT INTO counter_windows (key, count, reset_at) VALUES (?, 1, ?)
ON CONFLICT (key) DO UPDATE SET
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

// Consume records one hit for key and returns the post-increment window.
func (s *CounterStore) Consume(ctx context.Context, key string, profile ratelimit.Profile) (ratelimit.Window, error) {
	now := time.Now()
	var row CounterWindow
	err := s.db.WithContext(ctx).Raw(consumeSQL,
		key, now.Add(profile.Duration),
		now,
		now,
		profile.Points+1, now.Add(profile.EffectiveBlock()),
	).Scan(&row).Error
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("postgres consume: %w", err)
	}
	return ratelimit.Window{Count: row.Count, ResetAt: row.ResetAt}, nil
}

// Get returns the live window for key without recording a hit.
func (s *CounterStore) Get(ctx context.Context, key string) (ratelimit.Window, error) {
	var entry CounterWindow
	result := s.db.WithContext(ctx).
		Where("key = ? AND reset_at > ?", key, time.Now()).
		First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return ratelimit.Window{}, ratelimit.ErrKeyNotFound
	}
	if result.Error != nil {
		return ratelimit.Window{}, fmt.Errorf("postgres get: %w", result.Error)
	}
	return ratelimit.Window{Count: entry.Count, ResetAt: entry.ResetAt}, nil
}

// Reset removes the window for key.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&CounterWindow{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("postgres reset: %w", err)
	}
	return nil
}

// CleanupExpired removes rows whose window deadline has passed.
func (s *CounterStore) CleanupExpired() error {
	return s.db.Delete(&CounterWindow{}, "reset_at <= ?", time.Now()).Error
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

// Close stops cleanup and closes the database connection.
func (s *CounterStore) Close() error {
	s.Stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Compile-time interface verification.
var _ ratelimit.CounterStore = (*CounterStore)(nil)
