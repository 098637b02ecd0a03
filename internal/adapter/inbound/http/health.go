package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
	"github.com/throttle-gate/throttlegate/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health. Components may be nil; they
// then report "not configured" without affecting overall status.
type HealthChecker struct {
	store     ratelimit.CounterStore
	decisions *service.DecisionService
	version   string
}

// NewHealthChecker creates a HealthChecker over the counter store and
// decision log.
func NewHealthChecker(store ratelimit.CounterStore, decisions *service.DecisionService, version string) *HealthChecker {
	return &HealthChecker{
		store:     store,
		decisions: decisions,
		version:   version,
	}
}

// Check probes each component. The store probe reads a key that never
// exists; any answer, including not-found, proves the backend is
// reachable.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := h.store.Get(probeCtx, "health:probe")
		cancel()
		if err != nil && !errors.Is(err, ratelimit.ErrKeyNotFound) {
			checks["store"] = fmt.Sprintf("error: %v", err)
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not configured"
	}

	if h.decisions != nil {
		depth := h.decisions.ChannelDepth()
		capacity := h.decisions.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// The log is under backpressure and about to drop records.
			checks["decision_log"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["decision_log"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.decisions.DroppedRecords(); drops > 0 {
			checks["decision_log_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["decision_log"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns the /health endpoint handler, answering 503 when any
// component is unhealthy.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
