package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/throttle-gate/throttlegate/internal/port/inbound"
)

// HTTPTransport is the inbound adapter serving gateway traffic. It owns
// the listener, the standard endpoints (/health, /metrics, /admin/...),
// and the middleware chain in front of the decision chain.
type HTTPTransport struct {
	server        *http.Server
	addr          string
	trustProxy    bool
	chain         http.Handler // rate-limit middleware wrapping the proxy
	adminHandler  http.Handler
	healthChecker *HealthChecker
	registry      *prometheus.Registry
	metrics       *Metrics
	logger        *slog.Logger
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080"
// (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTrustProxy controls whether client keys are derived from
// forwarded headers. Default is true.
func WithTrustProxy(trust bool) Option {
	return func(t *HTTPTransport) {
		t.trustProxy = trust
	}
}

// WithDecisionChain sets the catch-all handler: the rate-limit
// middleware wrapped around the reverse proxy. Without one, unmatched
// paths answer 404.
func WithDecisionChain(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.chain = h
	}
}

// WithAdminHandler mounts the admin API under /admin.
func WithAdminHandler(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.adminHandler = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics shares a registry and instrument set with the rest of the
// gateway. The registry is served at /metrics; the instruments drive the
// request metrics middleware. Without this option the transport creates
// its own registry with Go and process collectors.
func WithMetrics(reg *prometheus.Registry, metrics *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = metrics
	}
}

// NewHTTPTransport creates the transport. Apply options before Start.
func NewHTTPTransport(opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		addr:       "127.0.0.1:8080",
		trustProxy: true,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins accepting connections. It blocks until the context is
// cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(t.registry)
	}

	chain := t.chain
	if chain == nil {
		chain = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusNotFound, "NotFound", "no upstream configured for this path")
		})
	}

	mux := http.NewServeMux()
	if t.adminHandler != nil {
		mux.Handle("/admin/api/", t.adminHandler)
		mux.Handle("/admin/", t.adminHandler)
		mux.Handle("/admin", t.adminHandler)
	}
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}` + "\n"))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	// Favicon handler to keep browser noise out of the proxy path.
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/", chain)

	// Middleware order (outermost first): metrics capture the full
	// duration, request IDs scope the logger, the client key is derived
	// once for everything downstream.
	var handler http.Handler = mux
	handler = ClientKeyMiddleware(t.trustProxy)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests with a bounded grace period.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

// Compile-time check that HTTPTransport implements the inbound port.
var _ inbound.GatewayService = (*HTTPTransport)(nil)
