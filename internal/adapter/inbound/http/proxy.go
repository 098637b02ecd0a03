package http

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/throttle-gate/throttlegate/internal/service"
)

// hopByHopHeaders lists headers that must be removed when forwarding.
// These are meaningful only for a single transport-level connection and
// must not be forwarded by proxies (RFC 2616 Section 13.5.1).
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// UpstreamTarget is one configured reverse-proxy destination. Requests
// whose path starts with PathPrefix are forwarded to the Upstream base
// URL once the rate limiter has allowed them.
type UpstreamTarget struct {
	// Name is the human-readable display name.
	Name string
	// PathPrefix is the URL path prefix to match (e.g. "/api/").
	PathPrefix string
	// Upstream is the target base URL (e.g. "http://10.0.0.5:9000").
	Upstream string
	// StripPrefix controls whether PathPrefix is removed before
	// forwarding.
	StripPrefix bool
	// Headers are injected into proxied requests, overwriting any
	// client-supplied value.
	Headers map[string]string
}

// ReverseProxy forwards allowed requests to the upstream with the
// longest matching path prefix. The target table sits behind an atomic
// pointer for lock-free reads on the request path.
type ReverseProxy struct {
	targets atomic.Pointer[[]UpstreamTarget]
	client  *http.Client
	logger  *slog.Logger

	stats   *service.StatsService
	metrics *Metrics
}

// NewReverseProxy creates a ReverseProxy with client defaults: a 30s
// timeout, and redirects passed through to the caller rather than
// followed.
func NewReverseProxy(logger *slog.Logger) *ReverseProxy {
	rp := &ReverseProxy{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
	empty := make([]UpstreamTarget, 0)
	rp.targets.Store(&empty)
	return rp
}

// SetTargets swaps in a new target table.
func (rp *ReverseProxy) SetTargets(targets []UpstreamTarget) {
	rp.targets.Store(&targets)
}

// Targets returns a copy of the current target table.
func (rp *ReverseProxy) Targets() []UpstreamTarget {
	ptr := rp.targets.Load()
	if ptr == nil {
		return nil
	}
	orig := *ptr
	out := make([]UpstreamTarget, len(orig))
	copy(out, orig)
	return out
}

// SetTimeout updates the HTTP client timeout for upstream requests.
func (rp *ReverseProxy) SetTimeout(d time.Duration) {
	rp.client.Timeout = d
}

// SetStats attaches the stats service for the proxied-request counter.
func (rp *ReverseProxy) SetStats(stats *service.StatsService) {
	rp.stats = stats
}

// SetMetrics attaches the upstream error counter.
func (rp *ReverseProxy) SetMetrics(metrics *Metrics) {
	rp.metrics = metrics
}

// Match finds the most specific (longest PathPrefix) target for the
// given path. Returns nil if no target matches.
func (rp *ReverseProxy) Match(path string) *UpstreamTarget {
	targetsPtr := rp.targets.Load()
	if targetsPtr == nil {
		return nil
	}
	targets := *targetsPtr

	var best *UpstreamTarget
	bestLen := 0
	for i := range targets {
		t := &targets[i]
		if strings.HasPrefix(path, t.PathPrefix) && len(t.PathPrefix) > bestLen {
			best = t
			bestLen = len(t.PathPrefix)
		}
	}
	return best
}

// ServeHTTP routes the request to its upstream, answering 404 when no
// target's prefix matches.
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := rp.Match(r.URL.Path)
	if target == nil {
		writeJSONError(w, http.StatusNotFound, "NotFound", "no upstream configured for this path")
		return
	}
	rp.Forward(w, r, target)
}

// Forward sends the request to the upstream target and copies the
// response back to the client. On transport failure it answers 502.
func (rp *ReverseProxy) Forward(w http.ResponseWriter, r *http.Request, target *UpstreamTarget) {
	upstreamURL := buildUpstreamURL(target, r.URL.Path)
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		rp.countUpstreamError()
		LoggerFromContext(r.Context()).Error("failed to create upstream request",
			"error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "BadGateway", "failed to create upstream request")
		return
	}

	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}

	// Target-configured headers overwrite whatever the client sent.
	for key, value := range target.Headers {
		outReq.Header.Set(key, value)
	}

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := rp.client.Do(outReq)
	if err != nil {
		rp.countUpstreamError()
		LoggerFromContext(r.Context()).Error("upstream request failed",
			"error", err, "target", target.Name, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "BadGateway", "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		rp.logger.Debug("error copying upstream response body", "error", err)
	}

	if rp.stats != nil {
		rp.stats.RecordProxied()
	}
}

func (rp *ReverseProxy) countUpstreamError() {
	if rp.metrics != nil {
		rp.metrics.ProxyUpstreamErrors.Inc()
	}
}

// buildUpstreamURL joins the target base URL with the forwarded path,
// honoring StripPrefix.
func buildUpstreamURL(target *UpstreamTarget, path string) string {
	forwardPath := path
	if target.StripPrefix {
		forwardPath = strings.TrimPrefix(forwardPath, target.PathPrefix)
		if !strings.HasPrefix(forwardPath, "/") {
			forwardPath = "/" + forwardPath
		}
	}
	return strings.TrimRight(target.Upstream, "/") + forwardPath
}
