package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/throttle-gate/throttlegate/internal/service"
)

// generateKeyRequest is the JSON body for the generate key endpoint.
type generateKeyRequest struct {
	Name      string `json:"name"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// generateKeyResponse is the JSON response for key generation.
// The CleartextKey is returned exactly once and never stored.
type generateKeyResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CleartextKey string `json:"cleartext_key"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// keyResponse is the JSON representation of an API key (without cleartext).
type keyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Revoked   bool   `json:"revoked"`
	ReadOnly  bool   `json:"read_only"`
	ExpiresAt string `json:"expires_at,omitempty"`
	CreatedAt string `json:"created_at"`
}

// handleListKeys returns all admin API keys, config-sourced first.
// GET /admin/api/keys
func (h *AdminAPIHandler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if h.keyService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "key management not available")
		return
	}

	keys, err := h.keyService.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}

	result := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		resp := keyResponse{
			ID:        k.ID,
			Name:      k.Name,
			Revoked:   k.Revoked,
			ReadOnly:  k.ReadOnly,
			CreatedAt: k.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if k.ExpiresAt != nil {
			resp.ExpiresAt = k.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		result = append(result, resp)
	}

	h.respondJSON(w, http.StatusOK, result)
}

// handleGenerateKey generates a new admin API key.
// POST /admin/api/keys
func (h *AdminAPIHandler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	if h.keyService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "key management not available")
		return
	}

	var req generateKeyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	input := service.GenerateKeyInput{Name: req.Name}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		if !t.After(time.Now()) {
			h.respondError(w, http.StatusBadRequest, "expires_at must be in the future")
			return
		}
		input.ExpiresAt = &t
	}

	result, err := h.keyService.Generate(r.Context(), input)
	if err != nil {
		// Only log the error, never the cleartext key.
		h.logger.Error("failed to generate key", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to generate key")
		return
	}

	// Cleartext key is returned in this response only, never logged.
	resp := generateKeyResponse{
		ID:           result.KeyEntry.ID,
		Name:         result.KeyEntry.Name,
		CleartextKey: result.CleartextKey,
		CreatedAt:    result.KeyEntry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if result.KeyEntry.ExpiresAt != nil {
		resp.ExpiresAt = result.KeyEntry.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

// handleRevokeKey revokes an admin API key. Revocation takes effect
// immediately; the key service syncs the live auth store itself.
// DELETE /admin/api/keys/{id}
func (h *AdminAPIHandler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if h.keyService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "key management not available")
		return
	}

	id := h.pathParam(r, "id")

	if err := h.keyService.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrAPIKeyNotFound) {
			h.respondError(w, http.StatusNotFound, "api key not found")
			return
		}
		if errors.Is(err, service.ErrReadOnly) {
			h.respondError(w, http.StatusForbidden, "cannot revoke config-sourced key")
			return
		}
		h.logger.Error("failed to revoke key", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
