// Package throttlegate provides a Go client for services that call
// upstream APIs through a Throttle Gate gateway.
//
// The client wraps net/http with rate-limit awareness: when the gateway
// answers 429 it reads the Retry-After hint and the X-RateLimit-*
// headers, waits, and retries up to a configurable number of times.
// It uses only the Go standard library with zero external dependencies.
//
// Quick start:
//
//	// Set THROTTLE_GATE_BASE_URL and THROTTLE_GATE_API_KEY env vars, then:
//	client := throttlegate.NewClient()
//
//	resp, err := client.Get(ctx, "/api/orders")
//	if err != nil {
//	    var limited *throttlegate.RateLimitedError
//	    if errors.As(err, &limited) {
//	        fmt.Printf("Budget exhausted after %d attempts, retry in %s\n",
//	            limited.Attempts, limited.RetryAfter)
//	    }
//	    return err
//	}
//	defer resp.Body.Close()
package throttlegate

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitInfo is the client's current budget as reported by the
// gateway's X-RateLimit-* response headers.
type RateLimitInfo struct {
	// Limit is the total budget for the active window.
	Limit int

	// Remaining is how many requests are left in the window.
	Remaining int

	// Reset is when the window closes and the budget refills.
	Reset time.Time
}

// ParseRateLimitInfo extracts the budget from response headers. It
// reports false when no X-RateLimit-* header is present, for example on
// responses that never passed through a gateway.
func ParseRateLimitInfo(h http.Header) (RateLimitInfo, bool) {
	var info RateLimitInfo
	found := false

	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.Limit = n
			found = true
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.Remaining = n
			found = true
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		// The gateway sends RFC 3339; some proxies rewrite to epoch seconds.
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.Reset = t
			found = true
		} else if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.Reset = time.Unix(secs, 0).UTC()
			found = true
		}
	}

	return info, found
}

// parseRetryAfter reads the Retry-After response header, either delay
// seconds or an HTTP date. Zero means no usable hint.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
