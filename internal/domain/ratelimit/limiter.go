package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Limiter applies one named profile to keys backed by a CounterStore.
// Each limiter owns its key namespace via FormatKey(name, key), so several
// limiters can share a store.
//
// A limiter holds no counter state itself; whether decisions survive a
// restart or span instances is entirely a property of the store behind it.
// The in-memory store keeps windows per process and loses them on restart.
type Limiter struct {
	name    string
	profile Profile
	store   CounterStore
	now     func() time.Time
}

// NewLimiter returns a limiter applying profile under the given name.
// The profile is validated up front; a limiter that constructs never
// rejects a consume for configuration reasons.
func NewLimiter(name string, profile Profile, store CounterStore) (*Limiter, error) {
	if name == "" {
		return nil, fmt.Errorf("limiter name is required")
	}
	if store == nil {
		return nil, fmt.Errorf("limiter %q: store is required", name)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("limiter %q: %w", name, err)
	}
	return &Limiter{
		name:    name,
		profile: profile,
		store:   store,
		now:     time.Now,
	}, nil
}

// Name returns the limiter's profile name.
func (l *Limiter) Name() string {
	return l.name
}

// Profile returns the profile this limiter applies.
func (l *Limiter) Profile() Profile {
	return l.profile
}

// Consume spends one point of key's budget and reports the outcome.
// A request over budget still records a hit, so the store sees the
// block transition exactly once.
//
// An error means the store failed, not that the request was rejected;
// rejection is Decision.Allowed == false with a nil error.
func (l *Limiter) Consume(ctx context.Context, key string) (Decision, error) {
	w, err := l.store.Consume(ctx, FormatKey(l.name, key), l.profile)
	if err != nil {
		return Decision{}, fmt.Errorf("consume %q: %w", key, err)
	}
	return l.decide(w), nil
}

// Peek reports the current budget for key without spending a point.
// A key with no live window reports the full budget with a reset of
// now+Duration, the window a consume would open. Peek never creates
// state.
func (l *Limiter) Peek(ctx context.Context, key string) (Decision, error) {
	w, err := l.store.Get(ctx, FormatKey(l.name, key))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Decision{
				Allowed:   true,
				Limit:     l.profile.Points,
				Remaining: l.profile.Points,
				ResetAt:   l.now().Add(l.profile.Duration),
			}, nil
		}
		return Decision{}, fmt.Errorf("peek %q: %w", key, err)
	}
	return l.decide(w), nil
}

// Reset drops the window for key, restoring its full budget.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Reset(ctx, FormatKey(l.name, key)); err != nil {
		return fmt.Errorf("reset %q: %w", key, err)
	}
	return nil
}

// decide derives the externally visible outcome from stored window state.
func (l *Limiter) decide(w Window) Decision {
	d := Decision{
		Limit:     l.profile.Points,
		Remaining: l.profile.Points - w.Count,
		ResetAt:   w.ResetAt,
	}
	if d.Remaining >= 0 {
		d.Allowed = true
		return d
	}
	d.Remaining = 0
	d.RetryAfter = w.ResetAt.Sub(l.now())
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d
}
