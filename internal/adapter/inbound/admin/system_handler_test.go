package admin

import (
	"net/http"
	"runtime"
	"testing"
)

func TestHandleStatus(t *testing.T) {
	env := setupAdminTestEnv(t)

	rec := env.doRequest(t, "GET", "/admin/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp statusResponse
	decodeAdminJSON(t, rec, &resp)

	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", resp.Version)
	}
	if resp.AuthMode != "localhost-or-key" {
		t.Errorf("AuthMode = %q, want localhost-or-key", resp.AuthMode)
	}
	if resp.Uptime == "" {
		t.Error("missing uptime")
	}
}

func TestHandleStatus_NoKeyService(t *testing.T) {
	h := NewAdminAPIHandler()

	rec := doBareRequest(t, h, "GET", "/admin/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp statusResponse
	decodeAdminJSON(t, rec, &resp)

	if resp.AuthMode != "localhost-only" {
		t.Errorf("AuthMode = %q, want localhost-only", resp.AuthMode)
	}
	if resp.Version != "dev" {
		t.Errorf("Version = %q, want dev", resp.Version)
	}
}

func TestHandleSystemInfo(t *testing.T) {
	env := setupAdminTestEnv(t)

	rec := env.doRequest(t, "GET", "/admin/api/system", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp SystemInfoResponse
	decodeAdminJSON(t, rec, &resp)

	if resp.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("Commit = %q, want abc1234", resp.Commit)
	}
	if resp.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", resp.GoVersion, runtime.Version())
	}
	if resp.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", resp.OS, runtime.GOOS)
	}
	if resp.Arch != runtime.GOARCH {
		t.Errorf("Arch = %q, want %q", resp.Arch, runtime.GOARCH)
	}
	if resp.Goroutines < 1 {
		t.Errorf("Goroutines = %d, want >= 1", resp.Goroutines)
	}
	if resp.Uptime == "" {
		t.Error("missing uptime")
	}
}

func TestHandleSystemInfo_DefaultBuildInfo(t *testing.T) {
	h := NewAdminAPIHandler()

	rec := doBareRequest(t, h, "GET", "/admin/api/system")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp SystemInfoResponse
	decodeAdminJSON(t, rec, &resp)

	if resp.Version != "dev" {
		t.Errorf("Version = %q, want dev", resp.Version)
	}
	if resp.Commit != "none" {
		t.Errorf("Commit = %q, want none", resp.Commit)
	}
	if resp.BuildDate != "unknown" {
		t.Errorf("BuildDate = %q, want unknown", resp.BuildDate)
	}
}
