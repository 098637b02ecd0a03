package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/decision"
)

// decisionsResponse is the JSON response for GET /admin/api/decisions.
type decisionsResponse struct {
	Decisions []decision.Record `json:"decisions"`
	Count     int               `json:"count"`
}

// handleListDecisions returns recent rate limit decisions, newest first.
// GET /admin/api/decisions?limit=N
//
// Optional filters narrow the result: profile, client_key,
// allowed=true|false, and since (RFC 3339). Without filters the recent
// ring is returned directly.
func (h *AdminAPIHandler) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		h.respondError(w, http.StatusServiceUnavailable, "decision log not available")
		return
	}

	q := r.URL.Query()

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	filter := decision.Filter{
		Profile:   q.Get("profile"),
		ClientKey: q.Get("client_key"),
		Limit:     limit,
	}
	filtered := filter.Profile != "" || filter.ClientKey != ""

	if raw := q.Get("allowed"); raw != "" {
		allowed, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "allowed must be true or false")
			return
		}
		filter.Allowed = &allowed
		filtered = true
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = since
		filtered = true
	}

	var (
		records []decision.Record
		err     error
	)
	if filtered {
		records, err = h.decisions.Query(r.Context(), filter)
	} else {
		records, err = h.decisions.GetRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("failed to query decisions", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to query decisions")
		return
	}

	if records == nil {
		records = []decision.Record{}
	}
	h.respondJSON(w, http.StatusOK, decisionsResponse{
		Decisions: records,
		Count:     len(records),
	})
}
