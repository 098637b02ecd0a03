package throttlegate

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL sets the gateway base URL.
// If not set, defaults to the THROTTLE_GATE_BASE_URL environment variable.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithAPIKey sets the bearer token attached to outgoing requests.
// If not set, defaults to the THROTTLE_GATE_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
// If not set, defaults to the THROTTLE_GATE_TIMEOUT environment variable
// or 5 seconds. Ignored when WithHTTPClient supplies its own client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets how many times a 429 response is retried before
// giving up. Zero disables retries entirely.
// If not set, defaults to the THROTTLE_GATE_MAX_RETRIES environment
// variable or 3.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoff configures the fallback wait used when a 429 carries no
// Retry-After hint: base*2^(attempt-1) capped at max, spread by a uniform
// jitter factor in [0, 1). Defaults are 1s base, 30s cap, 0.1 jitter.
func WithBackoff(base, max time.Duration, jitter float64) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = max
		c.backoffJitter = jitter
	}
}

// WithLogger sets the logger for retry waits and discarded responses.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
