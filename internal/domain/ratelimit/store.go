package ratelimit

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when a key has no live window.
var ErrKeyNotFound = errors.New("rate limit key not found")

// CounterStore persists fixed-window counters. Implementations exist for
// in-memory maps, Redis, Postgres, and SQLite; the limiter treats them
// interchangeably.
//
// All methods take already-formatted keys (see FormatKey), so one store
// can serve several limiters without collisions.
type CounterStore interface {
	// Consume records one hit for key and returns the window state after
	// the increment. The first hit for a key opens a window closing at
	// now+profile.Duration. The hit that first exceeds profile.Points
	// moves the close to now+profile.EffectiveBlock(); hits after that
	// leave it unchanged.
	//
	// Consume must be atomic per key: concurrent callers each get a
	// distinct Count.
	Consume(ctx context.Context, key string, profile Profile) (Window, error)

	// Get returns the current window for key without recording a hit.
	// Returns ErrKeyNotFound when the key has no live window; a window
	// whose ResetAt has passed is no longer live.
	Get(ctx context.Context, key string) (Window, error)

	// Reset removes the window for key. Resetting an absent key is not
	// an error.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
