package http

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/decision"
	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
	"github.com/throttle-gate/throttlegate/internal/service"
	"github.com/throttle-gate/throttlegate/internal/telemetry"
)

// RateLimitMiddleware consumes one point of the client's budget before
// the request reaches the upstream. It routes the request to a profile,
// consumes, and either passes the request through with X-RateLimit-*
// headers or answers 429 directly.
type RateLimitMiddleware struct {
	routes     route.Engine
	limits     *service.LimitService
	stats      *service.StatsService
	trustProxy bool
	logger     *slog.Logger

	decisions *service.DecisionService
	metrics   *Metrics
	recorder  *telemetry.Recorder
}

// NewRateLimitMiddleware wires the middleware to its required
// collaborators. Optional ones (decision log, metrics, telemetry) attach
// through setters.
func NewRateLimitMiddleware(routes route.Engine, limits *service.LimitService, stats *service.StatsService, trustProxy bool, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		routes:     routes,
		limits:     limits,
		stats:      stats,
		trustProxy: trustProxy,
		logger:     logger,
	}
}

// SetDecisionLog attaches the asynchronous decision log.
func (m *RateLimitMiddleware) SetDecisionLog(d *service.DecisionService) {
	m.decisions = d
}

// SetMetrics attaches the Prometheus decision counters.
func (m *RateLimitMiddleware) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// SetRecorder attaches the OpenTelemetry recorder. A nil recorder is
// fine; spans are then skipped.
func (m *RateLimitMiddleware) SetRecorder(r *telemetry.Recorder) {
	m.recorder = r
}

// Wrap returns a handler that rate limits before invoking next.
func (m *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		logger := LoggerFromContext(ctx)

		clientKey, ok := ClientKeyFromContext(ctx)
		if !ok {
			clientKey = ClientKey(r, m.trustProxy)
		}

		routeDecision, err := m.routes.Evaluate(ctx, route.RequestContext{
			Method:    r.Method,
			Path:      r.URL.Path,
			Host:      r.Host,
			ClientKey: clientKey,
		})
		if err != nil {
			// A rule evaluation hiccup must not take user traffic down;
			// the default budget still applies.
			logger.Error("route evaluation failed, using default profile",
				"error", err, "path", r.URL.Path)
			m.stats.RecordError()
			routeDecision = route.Decision{Profile: route.DefaultProfile, Reason: "route evaluation failed"}
		}

		limiter := m.limits.Limiter(routeDecision.Profile)
		profile := limiter.Name()

		spanCtx, endSpan := m.recorder.ConsumeSpan(ctx, profile)
		d, err := limiter.Consume(spanCtx, clientKey)
		if err != nil {
			endSpan(false)
			logger.Error("rate limit consume failed",
				"error", err, "key", clientKey, "path", r.URL.Path)
			m.stats.RecordError()
			m.countDecision(profile, "error")
			writeJSONError(w, http.StatusInternalServerError, "InternalServerError", "internal server error")
			return
		}
		endSpan(d.Allowed)

		setRateLimitHeaders(w, d)

		if !d.Allowed {
			retrySeconds := retryAfterSeconds(d.RetryAfter)
			w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds, 10))
			m.stats.RecordReject(profile)
			m.countDecision(profile, "rejected")
			m.record(ctx, r, clientKey, profile, routeDecision.RuleID, d, start)
			writeRateLimited(w,
				fmt.Sprintf("rate limit exceeded, retry after %d seconds", retrySeconds),
				retrySeconds,
				d.ResetAt.UTC().Format(time.RFC3339))
			return
		}

		m.stats.RecordAllow(profile)
		m.countDecision(profile, "allowed")
		m.record(ctx, r, clientKey, profile, routeDecision.RuleID, d, start)
		next.ServeHTTP(w, r)
	})
}

// record hands the decision to the async log, when one is attached.
func (m *RateLimitMiddleware) record(ctx context.Context, r *http.Request, clientKey, profile, ruleID string, d ratelimit.Decision, start time.Time) {
	if m.decisions == nil {
		return
	}
	rec := decision.Record{
		Timestamp:     time.Now().UTC(),
		RequestID:     RequestIDFromContext(ctx),
		ClientKey:     clientKey,
		Profile:       profile,
		Method:        r.Method,
		Path:          r.URL.Path,
		Allowed:       d.Allowed,
		Remaining:     d.Remaining,
		RuleID:        ruleID,
		LatencyMicros: time.Since(start).Microseconds(),
	}
	if !d.Allowed {
		rec.RetryAfterMs = d.RetryAfter.Milliseconds()
	}
	m.decisions.Record(rec)
}

func (m *RateLimitMiddleware) countDecision(profile, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RateLimitDecisions.WithLabelValues(profile, result).Inc()
}

// retryAfterSeconds rounds the retry delay up to whole seconds, with a
// floor of 1 so clients never retry immediately into the same window.
func retryAfterSeconds(retryAfter time.Duration) int64 {
	secs := int64(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// setRateLimitHeaders sets the budget headers from a decision.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
}

// AttachHeaders sets the X-RateLimit-* headers from a non-consuming peek
// of the client's budget. Best effort: on store failure it logs and
// leaves the response unmodified.
func AttachHeaders(ctx context.Context, w http.ResponseWriter, limiter *ratelimit.Limiter, clientKey string) {
	d, err := limiter.Peek(ctx, clientKey)
	if err != nil {
		LoggerFromContext(ctx).Warn("rate limit peek failed", "error", err, "key", clientKey)
		return
	}
	setRateLimitHeaders(w, d)
}
