package admin

import (
	"net/http"
	"time"

	gwhttp "github.com/throttle-gate/throttlegate/internal/adapter/inbound/http"
	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// profileResponse is the JSON representation of a rate limit profile.
type profileResponse struct {
	Name          string `json:"name"`
	Points        int    `json:"points"`
	Duration      string `json:"duration"`
	BlockDuration string `json:"block_duration,omitempty"`
	Default       bool   `json:"default"`
}

// keyBudgetResponse is the JSON response for a per-key budget peek.
type keyBudgetResponse struct {
	Profile   string `json:"profile"`
	Key       string `json:"key"`
	Allowed   bool   `json:"allowed"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

// handleListProfiles returns all configured rate limit profiles.
// GET /admin/api/profiles
func (h *AdminAPIHandler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rate limiting not available")
		return
	}

	names := h.limits.Names()
	result := make([]profileResponse, 0, len(names))
	for _, name := range names {
		l, ok := h.limits.Lookup(name)
		if !ok {
			continue
		}
		result = append(result, toProfileResponse(name, l.Profile()))
	}

	h.respondJSON(w, http.StatusOK, result)
}

// handleGetProfile returns a single rate limit profile by name.
// GET /admin/api/profiles/{name}
func (h *AdminAPIHandler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rate limiting not available")
		return
	}

	name := h.pathParam(r, "name")
	l, ok := h.limits.Lookup(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	h.respondJSON(w, http.StatusOK, toProfileResponse(name, l.Profile()))
}

// handlePeekKey reports the current budget of one client key under a
// profile without spending a point. A key with no live window reports
// the full budget.
// GET /admin/api/profiles/{name}/keys/{key}
func (h *AdminAPIHandler) handlePeekKey(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rate limiting not available")
		return
	}

	name := h.pathParam(r, "name")
	key := h.pathParam(r, "key")

	l, ok := h.limits.Lookup(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	d, err := l.Peek(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to peek key budget", "profile", name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read key budget")
		return
	}

	// Carry the same X-RateLimit-* headers the gateway would attach.
	gwhttp.AttachHeaders(r.Context(), w, l, key)

	h.respondJSON(w, http.StatusOK, keyBudgetResponse{
		Profile:   name,
		Key:       key,
		Allowed:   d.Allowed,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.UTC().Format(time.RFC3339),
	})
}

// handleResetKey clears the live window of one client key under a
// profile, restoring its full budget immediately.
// DELETE /admin/api/profiles/{name}/keys/{key}
func (h *AdminAPIHandler) handleResetKey(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rate limiting not available")
		return
	}

	name := h.pathParam(r, "name")
	key := h.pathParam(r, "key")

	l, ok := h.limits.Lookup(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	if err := l.Reset(r.Context(), key); err != nil {
		h.logger.Error("failed to reset key budget", "profile", name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to reset key budget")
		return
	}

	h.logger.Info("key budget reset", "profile", name)
	w.WriteHeader(http.StatusNoContent)
}

// toProfileResponse flattens a named profile into its JSON form.
func toProfileResponse(name string, p ratelimit.Profile) profileResponse {
	resp := profileResponse{
		Name:     name,
		Points:   p.Points,
		Duration: p.Duration.String(),
		Default:  name == route.DefaultProfile,
	}
	if p.BlockDuration > 0 {
		resp.BlockDuration = p.BlockDuration.String()
	}
	return resp
}
