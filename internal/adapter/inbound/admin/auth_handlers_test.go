package admin

import (
	"context"
	"net/http"
	"testing"

	"github.com/throttle-gate/throttlegate/internal/service"
)

func TestHandleAuthStatus_Localhost(t *testing.T) {
	env := setupAdminTestEnv(t)

	rec := env.doRequest(t, "GET", "/admin/api/auth/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp authStatusResponse
	decodeAdminJSON(t, rec, &resp)

	if resp.AuthRequired {
		t.Error("auth_required should be false for localhost")
	}
	if !resp.Localhost {
		t.Error("localhost should be true")
	}
	if resp.KeysConfigured {
		t.Error("keys_configured should be false before any key exists")
	}
}

func TestHandleAuthStatus_Remote(t *testing.T) {
	env := setupAdminTestEnv(t)

	rec := env.doRemoteRequest(t, "GET", "/admin/api/auth/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp authStatusResponse
	decodeAdminJSON(t, rec, &resp)

	if !resp.AuthRequired {
		t.Error("auth_required should be true for remote callers")
	}
	if resp.Localhost {
		t.Error("localhost should be false")
	}
}

func TestHandleAuthStatus_KeysConfigured(t *testing.T) {
	env := setupAdminTestEnv(t)

	_, err := env.keyService.Generate(context.Background(), service.GenerateKeyInput{Name: "ops"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	rec := env.doRequest(t, "GET", "/admin/api/auth/status", nil)
	var resp authStatusResponse
	decodeAdminJSON(t, rec, &resp)

	if !resp.KeysConfigured {
		t.Error("keys_configured should be true after generating a key")
	}
}
