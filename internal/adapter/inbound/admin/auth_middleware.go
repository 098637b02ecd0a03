package admin

import (
	"net"
	"net/http"
	"strings"
)

// isLocalhost checks if the request originates from a loopback address.
// It parses the host portion from r.RemoteAddr and checks for 127.0.0.1,
// ::1, or localhost. X-Forwarded-For is intentionally NOT trusted for
// security (an attacker could spoof it).
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port (unlikely with net/http, but be safe).
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// bearerToken extracts the credential from an "Authorization: Bearer x"
// header. Returns "" when the header is absent or not a bearer scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// adminAuthMiddleware wraps an http.Handler and enforces admin access.
// Localhost requests bypass auth entirely. Remote requests must present
// a valid admin API key as a bearer token; without any key service
// configured, remote access is rejected outright.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}

		if h.apiKeys == nil {
			h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
			return
		}

		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			h.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if _, err := h.apiKeys.Validate(r.Context(), token); err != nil {
			// Never log the presented credential.
			h.logger.Warn("admin auth rejected", "remote_addr", r.RemoteAddr)
			h.respondError(w, http.StatusForbidden, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
