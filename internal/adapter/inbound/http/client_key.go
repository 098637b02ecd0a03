package http

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/throttle-gate/throttlegate/internal/ctxkey"
)

// UnknownClient is the rate-limit key applied when no client address can
// be derived. All such requests share one budget, which is the safe
// direction: an unattributable flood throttles itself.
const UnknownClient = "unknown_client"

// ClientKeyContextKey is the context key for the derived client key.
var ClientKeyContextKey = ctxkey.ClientKey{}

// ClientKey derives the rate-limit key for a request.
//
// With trustProxy set, the first comma-separated X-Forwarded-For entry
// wins, then X-Real-IP. The peer address is deliberately not consulted:
// behind an edge proxy it identifies the proxy, not the client, and one
// hot proxy must not exhaust everyone's budget.
//
// Without trustProxy only the peer address is used, since forwarded
// headers are client-controlled when no trusted proxy sits in front.
func ClientKey(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil || host == "" {
			return UnknownClient
		}
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if key := strings.TrimSpace(first); key != "" {
			return key
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return UnknownClient
}

// ClientKeyMiddleware derives the client key once per request and stores
// it in context so the limiter middleware and decision log agree on it.
func ClientKeyMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ClientKeyContextKey, ClientKey(r, trustProxy))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientKeyFromContext retrieves the derived client key, reporting
// whether the middleware ran.
func ClientKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(ClientKeyContextKey).(string)
	return key, ok
}
