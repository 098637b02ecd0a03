package throttlegate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default retry behavior when no option or env var overrides it.
const (
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 3
	defaultBackoffBase   = 1 * time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffJitter = 0.1
)

// Client calls upstream services through a Throttle Gate gateway and
// absorbs 429 rejections by waiting and retrying.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client

	backoffBase   time.Duration
	backoffMax    time.Duration
	backoffJitter float64
	randFloat     func() float64

	logger *slog.Logger
}

// NewClient creates a gateway client.
// It reads configuration from THROTTLE_GATE_* environment variables by
// default. Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:       os.Getenv("THROTTLE_GATE_BASE_URL"),
		apiKey:        os.Getenv("THROTTLE_GATE_API_KEY"),
		timeout:       parseDurationEnv("THROTTLE_GATE_TIMEOUT", defaultTimeout),
		maxRetries:    parseIntEnv("THROTTLE_GATE_MAX_RETRIES", defaultMaxRetries),
		backoffBase:   defaultBackoffBase,
		backoffMax:    defaultBackoffMax,
		backoffJitter: defaultBackoffJitter,
		randFloat:     rand.Float64,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// Get issues a GET request for the given path under the base URL.
// The caller must close the response body on success.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post issues a POST request for the given path under the base URL.
// The body should be replayable (bytes.Reader, strings.Reader) for
// retries to work; other readers are sent once and never retried.
// The caller must close the response body on success.
func (c *Client) Post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// Do executes the request through the gateway. Responses with a 2xx
// status are returned as-is, budget headers included. A 429 is drained,
// waited out (server Retry-After hint first, exponential backoff with
// jitter as fallback) and retried up to MaxRetries times; when the
// budget never recovers a *RateLimitedError is returned. Any other
// status becomes a *GatewayError. Context cancellation aborts the wait.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempts := c.maxRetries + 1

	for attempt := 1; ; attempt++ {
		r := req.Clone(ctx)
		if attempt > 1 && req.GetBody != nil {
			// Replay the body for the retry. Requests built via
			// http.NewRequest carry GetBody for the common reader types.
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			r.Body = body
		}
		if c.apiKey != "" && r.Header.Get("Authorization") == "" {
			r.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(r)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &GatewayError{
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(body)),
			}
		}

		// Rejected. Drain the body so the connection can be reused.
		info, _ := ParseRateLimitInfo(resp.Header)
		hint := parseRetryAfter(resp.Header)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		// A request body that cannot be rewound cannot be retried.
		replayable := req.Body == nil || req.GetBody != nil
		if attempt >= attempts || !replayable {
			return nil, &RateLimitedError{
				RetryAfter: hint,
				Info:       info,
				Attempts:   attempt,
			}
		}

		wait := hint
		if wait <= 0 {
			wait = c.backoffDelay(attempt)
		}
		c.logger.Debug("rate limited, waiting before retry",
			"wait", wait,
			"attempt", attempt,
			"limit", info.Limit,
			"reset", info.Reset,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// url joins a request path onto the configured base URL.
func (c *Client) url(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}

// backoffDelay computes the fallback wait for the given attempt
// (1-based): capped exponential growth with uniform jitter, truncated to
// whole milliseconds.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := c.backoffBase
	for i := 1; i < attempt; i++ {
		if d >= c.backoffMax {
			break
		}
		d *= 2
	}
	if d > c.backoffMax {
		d = c.backoffMax
	}

	ms := d.Milliseconds()
	if c.backoffJitter > 0 {
		u := (c.randFloat()*2 - 1) * c.backoffJitter // uniform in [-jitter, +jitter)
		ms = int64(math.Floor(float64(ms) * (1 + u)))
	}
	if ms < 0 {
		ms = 0
	}

	return time.Duration(ms) * time.Millisecond
}

// Helper functions for env var parsing.

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}
