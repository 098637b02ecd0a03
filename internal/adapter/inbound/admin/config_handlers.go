package admin

import (
	"net/http"

	"gopkg.in/yaml.v3"
)

// handleConfigExport returns the running configuration as YAML with
// secrets redacted. The export is suitable as a starting config file,
// minus the redacted values.
// GET /admin/api/config/export
func (h *AdminAPIHandler) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		h.respondError(w, http.StatusServiceUnavailable, "config not available")
		return
	}

	redacted := h.cfg.Redacted()
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		h.logger.Error("failed to marshal config", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to export config")
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.Error("failed to write config export", "error", err)
	}
}
