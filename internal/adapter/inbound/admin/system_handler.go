package admin

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo holds build-time version information.
// Injected via WithBuildInfo option to avoid import cycles with cmd package.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// statusResponse is the JSON response for GET /admin/api/status.
type statusResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	AuthMode  string `json:"auth_mode"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`
}

// SystemInfoResponse is the JSON response for GET /admin/api/system.
type SystemInfoResponse struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
	UptimeSec  int64  `json:"uptime_seconds"`
}

// handleStatus returns a condensed liveness summary for the admin plane.
func (h *AdminAPIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	version := "dev"
	if h.buildInfo != nil {
		version = h.buildInfo.Version
	}

	authMode := "localhost-only"
	if h.apiKeys != nil {
		authMode = "localhost-or-key"
	}

	h.respondJSON(w, http.StatusOK, statusResponse{
		Status:    "ok",
		Version:   version,
		AuthMode:  authMode,
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	})
}

// handleSystemInfo returns system information including version, uptime,
// Go version, OS, and architecture.
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	version := "dev"
	commit := "none"
	buildDate := "unknown"

	if h.buildInfo != nil {
		version = h.buildInfo.Version
		commit = h.buildInfo.Commit
		buildDate = h.buildInfo.BuildDate
	}

	resp := SystemInfoResponse{
		Version:    version,
		Commit:     commit,
		BuildDate:  buildDate,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     uptime.Truncate(time.Second).String(),
		UptimeSec:  int64(uptime.Seconds()),
	}

	h.respondJSON(w, http.StatusOK, resp)
}
