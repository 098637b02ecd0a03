// Package admin provides the JSON management API for Throttle Gate,
// served under /admin/api/.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/throttle-gate/throttlegate/internal/config"
	"github.com/throttle-gate/throttlegate/internal/domain/auth"
	"github.com/throttle-gate/throttlegate/internal/domain/decision"
	"github.com/throttle-gate/throttlegate/internal/service"
)

// AdminAPIHandler provides JSON API endpoints for the admin interface.
type AdminAPIHandler struct {
	limits     *service.LimitService
	routes     *service.RouteService
	ruleAdmin  *service.RuleAdminService
	stats      *service.StatsService
	keyService *service.KeyService
	apiKeys    *auth.APIKeyService
	decisions  decision.QueryStore
	cfg        *config.Config
	buildInfo  *BuildInfo
	logger     *slog.Logger
	startTime  time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithLimitService sets the rate limit profile registry.
func WithLimitService(s *service.LimitService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.limits = s }
}

// WithRouteService sets the route evaluation service.
func WithRouteService(s *service.RouteService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.routes = s }
}

// WithRuleAdminService sets the rule replacement service.
func WithRuleAdminService(s *service.RuleAdminService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.ruleAdmin = s }
}

// WithStatsService sets the stats service for gateway counters.
func WithStatsService(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.stats = s }
}

// WithKeyService sets the admin API key lifecycle service.
func WithKeyService(s *service.KeyService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.keyService = s }
}

// WithAPIKeyService sets the key validation service used by the auth
// middleware for non-localhost requests.
func WithAPIKeyService(s *auth.APIKeyService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.apiKeys = s }
}

// WithDecisionQuery sets the read side of the decision log.
func WithDecisionQuery(q decision.QueryStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.decisions = q }
}

// WithConfig sets the running configuration for the export endpoint.
func WithConfig(c *config.Config) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.cfg = c }
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
// The auth status endpoint is accessible without authentication; every
// other route requires localhost or a valid bearer key.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Auth status - NOT protected by auth middleware (informational).
	mux.HandleFunc("GET /admin/api/auth/status", h.handleAuthStatus)

	// All other routes are registered on a separate mux wrapped with auth middleware.
	protectedMux := http.NewServeMux()

	// Status and system info.
	protectedMux.HandleFunc("GET /admin/api/status", h.handleStatus)
	protectedMux.HandleFunc("GET /admin/api/system", h.handleSystemInfo)

	// Gateway counters.
	protectedMux.HandleFunc("GET /admin/api/stats", h.handleGetStats)
	protectedMux.HandleFunc("POST /admin/api/stats/reset", h.handleResetStats)

	// Rate limit profiles and per-key budget inspection.
	protectedMux.HandleFunc("GET /admin/api/profiles", h.handleListProfiles)
	protectedMux.HandleFunc("GET /admin/api/profiles/{name}", h.handleGetProfile)
	protectedMux.HandleFunc("GET /admin/api/profiles/{name}/keys/{key}", h.handlePeekKey)
	protectedMux.HandleFunc("DELETE /admin/api/profiles/{name}/keys/{key}", h.handleResetKey)

	// Routing rules.
	protectedMux.HandleFunc("GET /admin/api/rules", h.handleListRules)
	protectedMux.HandleFunc("PUT /admin/api/rules", h.handleReplaceRules)

	// API key management.
	protectedMux.HandleFunc("GET /admin/api/keys", h.handleListKeys)
	protectedMux.HandleFunc("POST /admin/api/keys", h.handleGenerateKey)
	protectedMux.HandleFunc("DELETE /admin/api/keys/{id}", h.handleRevokeKey)

	// Decision log.
	protectedMux.HandleFunc("GET /admin/api/decisions", h.handleListDecisions)

	// Config export.
	protectedMux.HandleFunc("GET /admin/api/config/export", h.handleConfigExport)

	// Wrap protected routes with auth middleware.
	mux.Handle("/admin/api/", h.adminAuthMiddleware(protectedMux))

	// Wrap with API rate limiter (default 60 req/min/IP, localhost exempt).
	maxRequests, window := h.rateLimitParams()
	rateLimited := apiRateLimitMiddleware(maxRequests, window, mux)
	// Wrap with security headers.
	return securityHeadersMiddleware(rateLimited)
}

// rateLimitParams resolves the admin rate-limit budget from config,
// falling back to 60 requests per minute.
func (h *AdminAPIHandler) rateLimitParams() (int, time.Duration) {
	maxRequests := 60
	window := 1 * time.Minute
	if h.cfg == nil {
		return maxRequests, window
	}
	if h.cfg.Admin.RateLimit.MaxRequests > 0 {
		maxRequests = h.cfg.Admin.RateLimit.MaxRequests
	}
	if w, err := time.ParseDuration(h.cfg.Admin.RateLimit.Window); err == nil && w > 0 {
		window = w
	}
	return maxRequests, window
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
// Returns an error if the body cannot be decoded as JSON.
func (h *AdminAPIHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
// Uses Go 1.22+ PathValue.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
