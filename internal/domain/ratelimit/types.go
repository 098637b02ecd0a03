// Package ratelimit provides fixed-window rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// UnknownClientKey is the bucket used when no client address can be
// derived from a request. All such requests share one budget, which
// keeps header-stripping clients from minting fresh windows at will.
const UnknownClientKey = "unknown_client"

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{profile}:{value}"
// Examples:
//   - FormatKey("general", "192.168.1.1") -> "ratelimit:general:192.168.1.1"
//   - FormatKey("auth", "unknown_client") -> "ratelimit:auth:unknown_client"
func FormatKey(profile, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, profile, value)
}

// Profile defines the parameters of one fixed-window budget.
type Profile struct {
	// Points is the number of requests allowed per window.
	Points int

	// Duration is the length of the window. The first consume for a key
	// opens a window of this length; the counter resets when it closes.
	Duration time.Duration

	// BlockDuration is how long a key stays blocked after exhausting its
	// budget. The consume that first exceeds Points moves the window
	// reset to now+BlockDuration; further rejected consumes do not move
	// it again. Zero means "same as Duration".
	BlockDuration time.Duration
}

// Validate checks that the profile has usable parameters.
// Returns nil if valid, or an error describing the first failure.
func (p Profile) Validate() error {
	if p.Points < 1 {
		return fmt.Errorf("points must be at least 1, got %d", p.Points)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", p.Duration)
	}
	if p.BlockDuration < 0 {
		return fmt.Errorf("block duration must not be negative, got %v", p.BlockDuration)
	}
	return nil
}

// EffectiveBlock returns the block duration, substituting Duration
// when no explicit block duration is configured.
func (p Profile) EffectiveBlock() time.Duration {
	if p.BlockDuration > 0 {
		return p.BlockDuration
	}
	return p.Duration
}

// Window is the stored state for one key: how many consumes the current
// window has seen and when it closes. This is the entire persisted model;
// everything else is derived from it.
type Window struct {
	// Count is the number of consumes recorded in the current window,
	// including rejected ones.
	Count int

	// ResetAt is when the current window closes and the counter resets.
	ResetAt time.Time
}

// Decision is the outcome of a consume or peek for one key.
type Decision struct {
	// Allowed indicates whether the request fit the budget.
	Allowed bool

	// Limit is the total number of points in the window.
	Limit int

	// Remaining is the number of points left after this decision.
	// Zero when the budget is exhausted.
	Remaining int

	// RetryAfter is the duration until the next point becomes available.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAt is when the current window closes.
	ResetAt time.Time
}
