package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/throttle-gate/throttlegate/internal/config"
)

func TestCommands_Registered(t *testing.T) {
	// Verify every subcommand is registered with rootCmd.
	want := []string{"start", "stop", "reset", "check-config", "hash-key", "version"}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartCmd_DevFlag(t *testing.T) {
	flag := startCmd.Flags().Lookup("dev")
	if flag == nil {
		t.Fatal("dev flag not registered on startCmd")
	}
	if flag.DefValue != "false" {
		t.Errorf("dev default = %q, want %q", flag.DefValue, "false")
	}
	if flag.Usage == "" {
		t.Error("dev flag missing usage description")
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "state"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("%s persistent flag not registered on rootCmd", name)
		}
	}
}

func TestStartCmd_Description(t *testing.T) {
	if startCmd.Short == "" {
		t.Error("start command missing Short description")
	}
	if !strings.Contains(startCmd.Long, "--dev") {
		t.Error("startCmd.Long should mention the --dev flag")
	}
	if !strings.Contains(startCmd.Long, "429") {
		t.Error("startCmd.Long should mention the 429 rejection behavior")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestProfilesFromConfig(t *testing.T) {
	profiles, err := profilesFromConfig([]config.ProfileConfig{
		{Name: "general", Points: 100, Duration: "15m"},
		{Name: "auth", Points: 20, Duration: "15m", BlockDuration: "1h"},
	})
	if err != nil {
		t.Fatalf("profilesFromConfig: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}

	general := profiles["general"]
	if general.Points != 100 || general.Duration != 15*time.Minute {
		t.Errorf("general = %+v, want 100 points / 15m", general)
	}
	if general.BlockDuration != 0 {
		t.Errorf("general.BlockDuration = %v, want 0", general.BlockDuration)
	}

	auth := profiles["auth"]
	if auth.BlockDuration != time.Hour {
		t.Errorf("auth.BlockDuration = %v, want 1h", auth.BlockDuration)
	}
}

func TestProfilesFromConfig_InvalidDuration(t *testing.T) {
	_, err := profilesFromConfig([]config.ProfileConfig{
		{Name: "broken", Points: 10, Duration: "fifteen minutes"},
	})
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %q, want to name the profile", err.Error())
	}
}

func TestRulesFromConfig(t *testing.T) {
	rules := rulesFromConfig([]config.RuleConfig{
		{ID: "r1", Name: "login", Priority: 50, PathMatch: "/login", Profile: "auth", Enabled: true},
		{ID: "r2", Name: "api", Condition: `method == "POST"`, Profile: "general"},
	})
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].ID != "r1" || rules[0].PathMatch != "/login" || !rules[0].Enabled {
		t.Errorf("rules[0] = %+v, fields not carried over", rules[0])
	}
	if rules[1].Condition != `method == "POST"` || rules[1].Enabled {
		t.Errorf("rules[1] = %+v, fields not carried over", rules[1])
	}
}

func TestAdminKeysFromConfig(t *testing.T) {
	entries := adminKeysFromConfig([]config.AdminKeyConfig{
		{ID: "k1", Name: "ops", Hash: "sha256:" + strings.Repeat("ab", 32)},
		{ID: "k2", Name: "ci", Hash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA"},
	})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	// sha256: prefix is stripped so the hash-lookup fast path matches.
	if entries[0].KeyHash != strings.Repeat("ab", 32) {
		t.Errorf("KeyHash = %q, want bare hex without sha256: prefix", entries[0].KeyHash)
	}

	// Argon2id PHC strings pass through untouched.
	if !strings.HasPrefix(entries[1].KeyHash, "$argon2id$") {
		t.Errorf("KeyHash = %q, argon2id hash should be unchanged", entries[1].KeyHash)
	}

	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			t.Errorf("entry %s has zero CreatedAt", e.ID)
		}
	}
}

func TestUpstreamTargets(t *testing.T) {
	targets := upstreamTargets([]config.UpstreamConfig{
		{
			Name:        "api",
			PathPrefix:  "/api/",
			URL:         "http://backend:9000",
			StripPrefix: true,
			Headers:     map[string]string{"X-Gateway": "throttle-gate"},
		},
	})
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}
	tg := targets[0]
	if tg.Name != "api" || tg.PathPrefix != "/api/" || tg.Upstream != "http://backend:9000" {
		t.Errorf("target = %+v, fields not carried over", tg)
	}
	if !tg.StripPrefix {
		t.Error("StripPrefix not carried over")
	}
	if tg.Headers["X-Gateway"] != "throttle-gate" {
		t.Error("Headers not carried over")
	}
}

func TestResolveStatePath_Precedence(t *testing.T) {
	oldFlag := stateFilePath
	defer func() { stateFilePath = oldFlag }()

	// Default when nothing is set.
	stateFilePath = ""
	t.Setenv("THROTTLE_GATE_STATE_PATH", "")
	if got := resolveStatePath(""); got != "./state.json" {
		t.Errorf("default = %q, want ./state.json", got)
	}

	// Config value beats the default.
	if got := resolveStatePath("/data/state.json"); got != "/data/state.json" {
		t.Errorf("config path = %q, want /data/state.json", got)
	}

	// Env var beats config.
	t.Setenv("THROTTLE_GATE_STATE_PATH", "/env/state.json")
	if got := resolveStatePath("/data/state.json"); got != "/env/state.json" {
		t.Errorf("env path = %q, want /env/state.json", got)
	}

	// CLI flag beats everything.
	stateFilePath = "/flag/state.json"
	if got := resolveStatePath("/data/state.json"); got != "/flag/state.json" {
		t.Errorf("flag path = %q, want /flag/state.json", got)
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFile_Missing(t *testing.T) {
	if got := readPIDFile(filepath.Join(t.TempDir(), "absent.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
}

func TestNewCounterStore_Memory(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()

	store, keyCount, err := newCounterStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newCounterStore: %v", err)
	}
	defer store.Close()

	if keyCount == nil {
		t.Fatal("memory backend should report a key count func")
	}
	if n := keyCount(); n != 0 {
		t.Errorf("fresh store key count = %d, want 0", n)
	}
}

func TestNewCounterStore_UnsupportedBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Store.Backend = "etcd"

	_, _, err := newCounterStore(context.Background(), cfg, discardLogger())
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
	if !strings.Contains(err.Error(), "etcd") {
		t.Errorf("error = %q, want to name the backend", err.Error())
	}
}

func TestNewDecisionStore_Stdout(t *testing.T) {
	cfg := &config.Config{}
	cfg.DecisionLog.Output = "stdout"

	store, query, err := newDecisionStore(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newDecisionStore: %v", err)
	}
	defer store.Close()
	if query == nil {
		t.Error("stdout store should also serve queries")
	}
}

func TestNewDecisionStore_FileURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.log")
	cfg := &config.Config{}
	cfg.DecisionLog.Output = "file://" + path

	store, _, err := newDecisionStore(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newDecisionStore: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("decision log file not created: %v", err)
	}
}

func TestNewDecisionStore_RotatingDir(t *testing.T) {
	cfg := &config.Config{}
	cfg.DecisionLog.File.Dir = t.TempDir()
	cfg.DecisionLog.File.RetentionDays = 1
	cfg.DecisionLog.File.MaxFileSizeMB = 1
	cfg.DecisionLog.File.CacheSize = 10

	store, query, err := newDecisionStore(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newDecisionStore: %v", err)
	}
	defer store.Close()
	if query == nil {
		t.Error("file store should also serve queries")
	}
}

func TestNewDecisionStore_InvalidOutput(t *testing.T) {
	cfg := &config.Config{}
	cfg.DecisionLog.Output = "syslog://localhost"

	_, _, err := newDecisionStore(cfg, discardLogger())
	if err == nil {
		t.Fatal("expected error for invalid decision log output")
	}
}

func TestParseFileURI(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"file:///var/log/decisions.log", "/var/log/decisions.log"},
		{"file://C:/logs/decisions.log", "C:/logs/decisions.log"},
		{"stdout", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseFileURI(tt.input); got != tt.want {
			t.Errorf("parseFileURI(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
