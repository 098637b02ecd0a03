// Package backoff computes retry delays using capped exponential growth
// with uniform jitter.
//
// The delay for attempt N (1-based) is:
//
//	exponential = base * 2^(N-1)
//	capped      = min(exponential, max)
//	final       = floor(capped * (1 + uniform(-jitter, +jitter)))
//
// truncated to whole milliseconds and clamped to be non-negative. Large
// attempt numbers saturate at the cap instead of overflowing. The random
// source is injectable so callers can supply a deterministic sequence in
// tests and assert exact values.
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultBase   = 1 * time.Second
	DefaultMax    = 5 * time.Minute
	DefaultJitter = 0.1
)

// Validation errors returned by New.
var (
	ErrInvalidBase   = errors.New("backoff: base delay must be positive")
	ErrInvalidMax    = errors.New("backoff: max delay must be >= base delay")
	ErrInvalidJitter = errors.New("backoff: jitter factor must be in [0, 1)")
)

// Calculator produces retry delays for a fixed configuration.
// It is safe for concurrent use when the configured random source is.
type Calculator struct {
	base   time.Duration
	max    time.Duration
	jitter float64
	rand   func() float64
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithBase sets the delay for the first attempt. Default 1s.
func WithBase(d time.Duration) Option {
	return func(c *Calculator) {
		c.base = d
	}
}

// WithMax sets the cap on exponential growth. Default 5m.
func WithMax(d time.Duration) Option {
	return func(c *Calculator) {
		c.max = d
	}
}

// WithJitter sets the uniform jitter factor in [0, 1). A computed delay d
// becomes a random value in [d*(1-j), d*(1+j)). Zero disables jitter and
// makes delays deterministic. Default 0.1.
func WithJitter(j float64) Option {
	return func(c *Calculator) {
		c.jitter = j
	}
}

// WithRand sets the random source, a function returning a uniform
// float64 in [0, 1). Default is the shared math/rand source. Tests can
// inject a fixed sequence to assert exact jittered values.
func WithRand(fn func() float64) Option {
	return func(c *Calculator) {
		c.rand = fn
	}
}

// New returns a Calculator with the given options applied over the
// defaults. Out-of-range values are rejected rather than clamped: the
// base must be positive, the max at least the base, and the jitter
// factor in [0, 1).
func New(opts ...Option) (*Calculator, error) {
	c := &Calculator{
		base:   DefaultBase,
		max:    DefaultMax,
		jitter: DefaultJitter,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.base <= 0 {
		return nil, ErrInvalidBase
	}
	if c.max < c.base {
		return nil, ErrInvalidMax
	}
	if c.jitter < 0 || c.jitter >= 1 {
		return nil, ErrInvalidJitter
	}
	if c.rand == nil {
		c.rand = rand.Float64
	}

	return c, nil
}

// Delay returns the delay for the given attempt number (1-based).
// Attempt values below 1 are treated as 1. The result is always in
// [0, max*(1+jitter)] and is truncated to whole milliseconds.
func (c *Calculator) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Saturating doubling: stop as soon as the cap is reached so large
	// attempt numbers cannot overflow.
	d := c.base
	for i := 1; i < attempt; i++ {
		if d >= c.max {
			break
		}
		d *= 2
	}
	if d > c.max {
		d = c.max
	}

	ms := d.Milliseconds()
	if c.jitter > 0 {
		u := (c.rand()*2 - 1) * c.jitter // uniform in [-jitter, +jitter)
		ms = int64(math.Floor(float64(ms) * (1 + u)))
	}
	if ms < 0 {
		ms = 0
	}

	return time.Duration(ms) * time.Millisecond
}

// Base returns the configured base delay.
func (c *Calculator) Base() time.Duration { return c.base }

// Max returns the configured maximum delay.
func (c *Calculator) Max() time.Duration { return c.max }

// Jitter returns the configured jitter factor.
func (c *Calculator) Jitter() float64 { return c.jitter }

// Delay computes a delay for the given attempt using the package
// defaults (1s base, 5m cap, 0.1 jitter).
func Delay(attempt int) time.Duration {
	c, err := New()
	if err != nil {
		// Defaults always validate.
		panic(err)
	}
	return c.Delay(attempt)
}
