package throttlegate

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is matched by errors.Is when the gateway kept answering
// 429 until the retry budget ran out.
var ErrRateLimited = errors.New("rate limited")

// RateLimitedError is returned when every attempt was rejected with 429.
// It carries the gateway's last retry hint and budget snapshot.
type RateLimitedError struct {
	// RetryAfter is the server's last Retry-After hint. Zero when the
	// gateway sent none.
	RetryAfter time.Duration

	// Info is the budget reported by the last rejection.
	Info RateLimitInfo

	// Attempts is how many requests were sent before giving up.
	Attempts int
}

// Error returns a human-readable description of the exhausted budget.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited after %d attempts, retry after %s", e.Attempts, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited after %d attempts", e.Attempts)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrRateLimited).
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// GatewayError is returned for non-2xx responses other than 429, such as
// a 502 from a dead upstream or a 404 for an unrouted path.
type GatewayError struct {
	// StatusCode is the HTTP status the gateway answered with.
	StatusCode int

	// Body is the response body, usually the gateway's JSON error.
	Body string
}

// Error returns a human-readable description of the gateway failure.
func (e *GatewayError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}
