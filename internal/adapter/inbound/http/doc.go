// Package http provides the public HTTP transport for ThrottleGate.
//
// This package is the gateway's front door: every client request enters
// here, is rate limited, and is either forwarded to a configured upstream
// or answered with 429 directly.
//
// # Usage
//
// Create and start a transport:
//
//	transport := http.NewHTTPTransport(
//	    http.WithAddr(":8080"),
//	    http.WithDecisionChain(chain),
//	    http.WithAdminHandler(adminHandler),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	/health       - component health, 503 when degraded
//	/metrics      - Prometheus exposition
//	/admin/api/.. - management API (separate handler, own auth)
//	/*            - rate-limit decision chain, then reverse proxy
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - request duration and status counters
//  2. RequestIDMiddleware - X-Request-ID correlation and scoped logger
//  3. ClientKeyMiddleware - client key derivation from proxy headers
//  4. RateLimitMiddleware - profile routing and budget consumption
//  5. ReverseProxy - longest-prefix upstream forwarding
//
// # Rate limit responses
//
// Allowed requests carry X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset headers. Rejected requests additionally carry
// Retry-After and a JSON body:
//
//	{"error":"RateLimitExceeded","message":"...",
//	 "details":{"retryAfterSeconds":37,"limitResetTime":"2026-01-02T15:04:05Z"}}
//
// # Client key derivation
//
// With trust_proxy enabled (the default) the client key is the first
// X-Forwarded-For entry, falling back to X-Real-IP, then to
// "unknown_client". With trust_proxy disabled only the peer address is
// used, since forwarded headers are client-controlled when no trusted
// proxy sits in front.
package http
