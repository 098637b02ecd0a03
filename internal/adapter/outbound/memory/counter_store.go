// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
)

// CounterStore implements ratelimit.CounterStore with a mutex-guarded map.
// Windows live only in this process and vanish on restart; a multi-instance
// deployment needs the Redis or SQL stores to share budgets.
// Includes background cleanup to prevent unbounded growth from one-off keys.
type CounterStore struct {
	windows         map[string]ratelimit.Window
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	now             func() time.Time
}

// NewCounterStore creates an in-memory counter store with the default
// cleanup interval of 5 minutes.
func NewCounterStore() *CounterStore {
	return NewCounterStoreWithCleanup(5 * time.Minute)
}

// NewCounterStoreWithCleanup creates an in-memory counter store that
// sweeps expired windows every cleanupInterval.
func NewCounterStoreWithCleanup(cleanupInterval time.Duration) *CounterStore {
	return &CounterStore{
		windows:         make(map[string]ratelimit.Window),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
}

// Consume records one hit for key and returns the post-increment window.
// Expired windows are replaced lazily, so keys that went quiet cost
// nothing until their next hit.
func (s *CounterStore) Consume(_ context.Context, key string, profile ratelimit.Profile) (ratelimit.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = ratelimit.Window{ResetAt: now.Add(profile.Duration)}
	}
	w.Count++
	// The hit that first exceeds the budget starts the block period.
	// Later rejected hits leave the deadline where it is.
	if w.Count == profile.Points+1 {
		w.ResetAt = now.Add(profile.EffectiveBlock())
	}
	s.windows[key] = w
	return w, nil
}

// Get returns the live window for key without recording a hit.
func (s *CounterStore) Get(_ context.Context, key string) (ratelimit.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !s.now().Before(w.ResetAt) {
		return ratelimit.Window{}, ratelimit.ErrKeyNotFound
	}
	return w, nil
}

// Reset removes the window for key.
func (s *CounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes windows whose deadline has passed.
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
				s.cleanup()
			}
		}
	}()
}

// cleanup removes expired windows. This method acquires the lock and
// should only be called by the background cleanup goroutine.
func (s *CounterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for key, w := range s.windows {
		if !now.Before(w.ResetAt) {
			delete(s.windows, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("counter store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(s.windows))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Close implements ratelimit.CounterStore.
func (s *CounterStore) Close() error {
	s.Stop()
	return nil
}

// Size returns the current number of tracked keys.
// Useful for testing and monitoring memory usage.
func (s *CounterStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Compile-time interface verification.
var _ ratelimit.CounterStore = (*CounterStore)(nil)
