package admin

import (
	"net/http"
)

// StatsResponse is the JSON response for GET /admin/api/stats.
type StatsResponse struct {
	Profiles        int              `json:"profiles"`
	Rules           int              `json:"rules"`
	Allowed         int64            `json:"allowed"`
	Rejected        int64            `json:"rejected"`
	Errors          int64            `json:"errors"`
	Proxied         int64            `json:"proxied"`
	ProfileAllowed  map[string]int64 `json:"profile_allowed"`
	ProfileRejected map[string]int64 `json:"profile_rejected"`
}

// handleGetStats returns gateway counters: decision totals, per-profile
// breakdowns, and the number of live profiles and rules.
func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{}

	if h.limits != nil {
		resp.Profiles = len(h.limits.Names())
	}

	if h.routes != nil {
		resp.Rules = len(h.routes.Rules())
	}

	if h.stats != nil {
		stats := h.stats.GetStats()
		resp.Allowed = stats.Allowed
		resp.Rejected = stats.Rejected
		resp.Errors = stats.Errors
		resp.Proxied = stats.Proxied
		resp.ProfileAllowed = stats.ProfileAllowed
		resp.ProfileRejected = stats.ProfileRejected
	}

	// Ensure maps are never null in JSON output.
	if resp.ProfileAllowed == nil {
		resp.ProfileAllowed = make(map[string]int64)
	}
	if resp.ProfileRejected == nil {
		resp.ProfileRejected = make(map[string]int64)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// handleResetStats zeroes all gateway counters.
// POST /admin/api/stats/reset
func (h *AdminAPIHandler) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.respondError(w, http.StatusServiceUnavailable, "stats not available")
		return
	}

	h.stats.Reset()
	h.logger.Info("gateway stats reset")
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
