package admin

import (
	"errors"
	"net/http"

	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/state"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
	"github.com/throttle-gate/throttlegate/internal/service"
)

// ruleRequest is one rule in a PUT /admin/api/rules payload.
// Enabled is a pointer so a rule silently defaulting to disabled is a
// client error, not a surprise.
type ruleRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	PathMatch string `json:"path_match"`
	Condition string `json:"condition,omitempty"`
	Profile   string `json:"profile"`
	Enabled   *bool  `json:"enabled"`
}

// ruleResponse is the JSON representation of a routing rule.
type ruleResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	PathMatch string `json:"path_match"`
	Condition string `json:"condition,omitempty"`
	Profile   string `json:"profile"`
	Enabled   bool   `json:"enabled"`
	ReadOnly  bool   `json:"read_only"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// handleListRules returns all routing rules, config-sourced first.
// GET /admin/api/rules
func (h *AdminAPIHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleAdmin == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule management not available")
		return
	}

	entries, err := h.ruleAdmin.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	result := make([]ruleResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, toRuleResponse(e))
	}

	h.respondJSON(w, http.StatusOK, result)
}

// handleReplaceRules swaps the full admin-managed rule set. The payload
// is the complete desired collection; rules absent from it are removed.
// Replacement is validated, persisted, and hot-reloaded atomically.
// PUT /admin/api/rules
func (h *AdminAPIHandler) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleAdmin == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule management not available")
		return
	}

	var req []ruleRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rules := make([]route.Rule, 0, len(req))
	for _, rr := range req {
		if rr.Enabled == nil {
			h.respondError(w, http.StatusBadRequest, "enabled is required on every rule")
			return
		}
		rules = append(rules, route.Rule{
			ID:        rr.ID,
			Name:      rr.Name,
			Priority:  rr.Priority,
			PathMatch: rr.PathMatch,
			Condition: rr.Condition,
			Profile:   rr.Profile,
			Enabled:   *rr.Enabled,
		})
	}

	if err := h.ruleAdmin.Replace(r.Context(), rules); err != nil {
		if errors.Is(err, service.ErrReadOnly) {
			h.respondError(w, http.StatusForbidden, err.Error())
			return
		}
		h.logger.Error("failed to replace rules", "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ruleAdmin.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules after replace", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	result := make([]ruleResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, toRuleResponse(e))
	}

	h.respondJSON(w, http.StatusOK, result)
}

// toRuleResponse converts a state entry to its JSON form.
func toRuleResponse(e state.RuleEntry) ruleResponse {
	return ruleResponse{
		ID:        e.ID,
		Name:      e.Name,
		Priority:  e.Priority,
		PathMatch: e.PathMatch,
		Condition: e.Condition,
		Profile:   e.Profile,
		Enabled:   e.Enabled,
		ReadOnly:  e.ReadOnly,
		CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt: e.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
