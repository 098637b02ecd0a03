package admin

import (
	"net/http"
)

// authStatusResponse is the JSON response for GET /admin/api/auth/status.
type authStatusResponse struct {
	AuthRequired   bool `json:"auth_required"`
	KeysConfigured bool `json:"keys_configured"`
	Localhost      bool `json:"localhost"`
}

// handleAuthStatus returns authentication status information.
// GET /admin/api/auth/status
//
// Response: {"auth_required": bool, "keys_configured": bool, "localhost": bool}
//   - auth_required: true if the request is NOT from localhost (remote access
//     needs a bearer key)
//   - keys_configured: true if any admin API keys exist, so a remote caller
//     can tell whether bearer auth is possible at all
//   - localhost: true if the request originates from a loopback address
func (h *AdminAPIHandler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	keysConfigured := false
	if h.keyService != nil {
		if keys, err := h.keyService.List(r.Context()); err == nil {
			for _, k := range keys {
				if !k.Revoked {
					keysConfigured = true
					break
				}
			}
		}
	}

	h.respondJSON(w, http.StatusOK, authStatusResponse{
		AuthRequired:   !isLocalhost(r),
		KeysConfigured: keysConfigured,
		Localhost:      isLocalhost(r),
	})
}
