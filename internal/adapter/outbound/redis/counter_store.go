// Package redis implements the counter store on a shared Redis instance,
// letting several gateway processes enforce one budget.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
)

// CounterStore implements ratelimit.CounterStore on Redis.
//
// A window is one INCR-maintained integer with a PEXPIRE deadline. INCR is
// atomic, so exactly one caller observes each count; the caller that sees
// count 1 sets the window deadline and the caller that first exceeds the
// budget moves it to the block deadline. No other caller touches the TTL.
type CounterStore struct {
	client *goredis.Client
}

// NewCounterStore connects to Redis and verifies the connection.
func NewCounterStore(addr, password string, db int) (*CounterStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &CounterStore{client: client}, nil
}

// Consume records one hit for key and returns the post-increment window.
func (s *CounterStore) Consume(ctx context.Context, key string, profile ratelimit.Profile) (ratelimit.Window, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("redis incr: %w", err)
	}

	switch {
	case n == 1:
		if err := s.client.PExpire(ctx, key, profile.Duration).Err(); err != nil {
			return ratelimit.Window{}, fmt.Errorf("redis pexpire: %w", err)
		}
	case n == int64(profile.Points)+1:
		if err := s.client.PExpire(ctx, key, profile.EffectiveBlock()).Err(); err != nil {
			return ratelimit.Window{}, fmt.Errorf("redis pexpire: %w", err)
		}
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("redis pttl: %w", err)
	}
	if ttl < 0 {
		// The deadline never landed (a writer died between INCR and
		// PEXPIRE). Repair it so the key cannot live forever.
		ttl = profile.Duration
		if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return ratelimit.Window{}, fmt.Errorf("redis pexpire repair: %w", err)
		}
	}

	return ratelimit.Window{Count: int(n), ResetAt: time.Now().Add(ttl)}, nil
}

// Get returns the live window for key without recording a hit.
func (s *CounterStore) Get(ctx context.Context, key string) (ratelimit.Window, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return ratelimit.Window{}, ratelimit.ErrKeyNotFound
	}
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("redis get: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("redis counter %q is not an integer: %w", key, err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("redis pttl: %w", err)
	}
	if ttl <= 0 {
		// Expired between GET and PTTL, or missing its deadline.
		return ratelimit.Window{}, ratelimit.ErrKeyNotFound
	}

	return ratelimit.Window{Count: count, ResetAt: time.Now().Add(ttl)}, nil
}

// Reset removes the window for key.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *CounterStore) Close() error {
	return s.client.Close()
}

// Compile-time interface verification.
var _ ratelimit.CounterStore = (*CounterStore)(nil)
