package cmd

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/throttle-gate/throttlegate/internal/adapter/inbound/admin"
	"github.com/throttle-gate/throttlegate/internal/adapter/inbound/http"
	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/decisionlog"
	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/memory"
	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/postgres"
	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/redis"
	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/sqlite"
	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/state"
	"github.com/throttle-gate/throttlegate/internal/config"
	"github.com/throttle-gate/throttlegate/internal/domain/auth"
	"github.com/throttle-gate/throttlegate/internal/domain/decision"
	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
	"github.com/throttle-gate/throttlegate/internal/service"
	"github.com/throttle-gate/throttlegate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the Throttle Gate rate-limiting gateway.

The gateway listens on server.addr, matches each request to a rate-limit
profile via the routing rules, consumes one point from the client's
budget, and either forwards the request to the configured upstream or
answers 429 with Retry-After.

Examples:
  # Start with config file settings
  throttle-gate start

  # Start with a specific config file
  throttle-gate --config /path/to/config.yaml start

  # Start in development mode (debug logging, well-known admin key)
  throttle-gate start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, seeded admin key)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply defaults, then dev conveniences (seeded admin key in dev mode)
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Resolve state file path: CLI flag > env var > config > default
	statePath := resolveStatePath(cfg.StatePath)

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr (stdout is reserved for the decision log)
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug // DevMode always forces debug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "throttle-gate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	// Run the gateway
	if err := run(ctx, cfg, statePath, logger); err != nil {
		return err
	}

	logger.Info("throttle-gate stopped")
	return nil
}

// run is the main orchestration function that wires all components together.
// It implements the boot sequence: BOOT-01 through BOOT-12.
func run(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) error {
	// Record start time for uptime calculation (used by admin API system info).
	startTime := time.Now().UTC()

	// ===== BOOT-01: DevMode check =====
	if cfg.DevMode {
		logger.Warn("development mode enabled: a well-known admin key is active; never use in production")
	}

	// ===== BOOT-02: YAML config already loaded by runStart =====
	// YAML provides: server, upstreams, profiles, rules, store, admin, decision_log.

	// ===== BOOT-03: Load/create state.json =====
	stateStore := state.NewFileStateStore(statePath, logger)
	appState, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	// Save immediately to create the file if it didn't exist.
	if err := stateStore.Save(appState); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}
	logger.Info("state loaded",
		"path", statePath,
		"rules", len(appState.Rules),
		"api_keys", len(appState.APIKeys),
	)

	// ===== BOOT-04: Counter store backend =====
	store, keyCount, err := newCounterStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create counter store: %w", err)
	}
	defer func() { _ = store.Close() }()

	// ===== BOOT-05: Limiters =====
	profiles, err := profilesFromConfig(cfg.Profiles)
	if err != nil {
		return fmt.Errorf("failed to build profiles: %w", err)
	}
	limits, err := service.NewLimitService(store, profiles, logger)
	if err != nil {
		return fmt.Errorf("failed to create limit service: %w", err)
	}

	// ===== BOOT-06: Routing rules (config + state merge, CEL compile) =====
	configRules := rulesFromConfig(cfg.Rules)
	if len(configRules) == 0 {
		// No rules configured: ship the built-in set so authentication
		// endpoints land on the stricter auth profile.
		configRules = service.DefaultRules()
		logger.Debug("no rules configured, using built-in defaults", "rules", len(configRules))
	}

	ruleStore := memory.NewRuleStore()
	ruleAdmin := service.NewRuleAdminService(ruleStore, stateStore, limits, logger)
	if err := ruleAdmin.Init(ctx, configRules); err != nil {
		return fmt.Errorf("failed to load routing rules: %w", err)
	}

	routes, err := service.NewRouteService(ctx, ruleStore, logger)
	if err != nil {
		return fmt.Errorf("failed to create route service: %w", err)
	}
	// The rule admin service triggers recompilation on admin replacements.
	// It is wired after construction because the route service compiles
	// from the rule store the admin service populates.
	ruleAdmin.SetRouteService(routes)
	logger.Info("routing configured", "rules", len(routes.Rules()), "profiles", len(profiles))

	// ===== BOOT-07: Admin auth keys =====
	keyStore := memory.NewKeyStore()
	apiKeys := auth.NewAPIKeyService(keyStore)
	keySvc := service.NewKeyService(stateStore, keyStore, logger)
	if err := keySvc.Init(ctx, adminKeysFromConfig(cfg.Admin.APIKeys)); err != nil {
		return fmt.Errorf("failed to load admin keys: %w", err)
	}

	// ===== BOOT-08: Decision log =====
	var decisions *service.DecisionService
	var decisionQuery decision.QueryStore
	if cfg.DecisionLog.Enabled {
		decStore, query, err := newDecisionStore(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create decision store: %w", err)
		}
		defer func() { _ = decStore.Close() }()
		decisionQuery = query

		flushInterval, err := time.ParseDuration(cfg.DecisionLog.FlushInterval)
		if err != nil {
			flushInterval = time.Second
			logger.Warn("invalid decision_log.flush_interval, using default",
				"value", cfg.DecisionLog.FlushInterval, "default", "1s")
		}
		sendTimeout, err := time.ParseDuration(cfg.DecisionLog.SendTimeout)
		if err != nil {
			sendTimeout = 100 * time.Millisecond
			logger.Warn("invalid decision_log.send_timeout, using default",
				"value", cfg.DecisionLog.SendTimeout, "default", "100ms")
		}

		decisions = service.NewDecisionService(decStore, logger,
			service.WithChannelSize(cfg.DecisionLog.ChannelSize),
			service.WithBatchSize(cfg.DecisionLog.BatchSize),
			service.WithFlushInterval(flushInterval),
			service.WithSendTimeout(sendTimeout),
			service.WithWarningThreshold(cfg.DecisionLog.WarningThreshold),
		)
		decisions.Start(ctx)
		defer decisions.Stop()
	}

	// ===== BOOT-09: Stats, telemetry, metrics =====
	statsService := service.NewStatsService()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.NewRecorder()
		if err != nil {
			return fmt.Errorf("failed to create telemetry recorder: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(registry)
	if keyCount != nil {
		http.RegisterKeyCount(registry, keyCount)
	}
	if decisions != nil {
		http.RegisterDecisionDrops(registry, decisions.DroppedRecords)
	}

	// ===== BOOT-10: Admin API handler =====
	var adminHandler stdhttp.Handler
	if cfg.Admin.Enabled {
		adminOpts := []admin.AdminAPIOption{
			admin.WithLimitService(limits),
			admin.WithRouteService(routes),
			admin.WithRuleAdminService(ruleAdmin),
			admin.WithStatsService(statsService),
			admin.WithKeyService(keySvc),
			admin.WithAPIKeyService(apiKeys),
			admin.WithConfig(cfg),
			admin.WithAPILogger(logger),
			admin.WithBuildInfo(&admin.BuildInfo{
				Version:   Version,
				Commit:    Commit,
				BuildDate: BuildDate,
			}),
			admin.WithStartTime(startTime),
		}
		if decisionQuery != nil {
			adminOpts = append(adminOpts, admin.WithDecisionQuery(decisionQuery))
		}
		adminHandler = admin.NewAdminAPIHandler(adminOpts...).Routes()
		logger.Info("admin API enabled", "path", "/admin/api/")
	}

	// ===== BOOT-11: Decision chain (middleware wrapping reverse proxy) =====
	middleware := http.NewRateLimitMiddleware(routes, limits, statsService, cfg.Server.TrustProxy, logger)
	if decisions != nil {
		middleware.SetDecisionLog(decisions)
	}
	middleware.SetMetrics(metrics)
	if recorder != nil {
		middleware.SetRecorder(recorder)
	}

	proxy := http.NewReverseProxy(logger)
	proxy.SetStats(statsService)
	proxy.SetMetrics(metrics)
	targets := upstreamTargets(cfg.Upstreams)
	if len(targets) > 0 {
		proxy.SetTargets(targets)
		logger.Info("reverse proxy configured", "targets", len(targets))
	} else {
		logger.Warn("no upstreams configured; unmatched paths answer 404")
	}

	chain := middleware.Wrap(proxy)

	healthChecker := http.NewHealthChecker(store, decisions, Version)

	// ===== BOOT-12: Startup banner + HTTP transport =====
	logger.Info("throttle-gate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"addr", cfg.Server.Addr,
		"backend", cfg.Store.Backend,
		"profiles", len(profiles),
		"rules", len(routes.Rules()),
		"upstreams", len(targets),
		"admin", cfg.Admin.Enabled,
		"decision_log", cfg.DecisionLog.Enabled,
		"state_file", statePath,
	)

	printBanner(Version, cfg.Server.Addr, cfg.DevMode, cfg.Admin.Enabled,
		cfg.Store.Backend, len(profiles), len(routes.Rules()), len(targets))

	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.Addr),
		http.WithTrustProxy(cfg.Server.TrustProxy),
		http.WithLogger(logger),
		http.WithHealthChecker(healthChecker),
		http.WithMetrics(registry, metrics),
		http.WithDecisionChain(chain),
	}
	if adminHandler != nil {
		transportOpts = append(transportOpts, http.WithAdminHandler(adminHandler))
	}

	transport := http.NewHTTPTransport(transportOpts...)
	logger.Info("transport mode: HTTP", "addr", cfg.Server.Addr)
	return transport.Start(ctx)
}

// resolveStatePath picks the state file location: CLI flag, then env,
// then config, then the default next to the working directory.
func resolveStatePath(cfgStatePath string) string {
	if stateFilePath != "" {
		return stateFilePath
	}
	if env := os.Getenv("THROTTLE_GATE_STATE_PATH"); env != "" {
		return env
	}
	if cfgStatePath != "" {
		return cfgStatePath
	}
	return "./state.json"
}

// newCounterStore builds the counter store selected by store.backend.
// The second return value reports the live key count for the metrics
// gauge; it is nil for backends that cannot count cheaply.
func newCounterStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.CounterStore, func() int, error) {
	cleanupInterval, err := time.ParseDuration(cfg.Store.CleanupInterval)
	if err != nil {
		cleanupInterval = 5 * time.Minute
		logger.Warn("invalid store.cleanup_interval, using default",
			"value", cfg.Store.CleanupInterval, "default", "5m")
	}

	switch cfg.Store.Backend {
	case "", "memory":
		s := memory.NewCounterStoreWithCleanup(cleanupInterval)
		s.StartCleanup(ctx)
		logger.Debug("counter store: memory", "cleanup_interval", cleanupInterval)
		return s, s.Size, nil

	case "redis":
		s, err := redis.NewCounterStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		logger.Info("counter store: redis", "addr", cfg.Store.Redis.Addr, "db", cfg.Store.Redis.DB)
		return s, nil, nil

	case "postgres":
		s, err := postgres.NewCounterStoreWithCleanup(cfg.Store.Postgres.DSN, cleanupInterval)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		s.StartCleanup(ctx)
		logger.Info("counter store: postgres", "cleanup_interval", cleanupInterval)
		return s, nil, nil

	case "sqlite":
		s, err := sqlite.NewCounterStoreWithCleanup(cfg.Store.SQLite.Path, cleanupInterval)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		s.StartCleanup(ctx)
		logger.Info("counter store: sqlite", "path", cfg.Store.SQLite.Path, "cleanup_interval", cleanupInterval)
		return s, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// newDecisionStore builds the decision sink selected by decision_log:
// a rotating file store when file.dir is set, otherwise stdout or a
// single append-only file. The query store serves the admin API.
func newDecisionStore(cfg *config.Config, logger *slog.Logger) (decision.Store, decision.QueryStore, error) {
	if dir := cfg.DecisionLog.File.Dir; dir != "" {
		fs, err := decisionlog.NewFileStore(decisionlog.FileConfig{
			Dir:           dir,
			RetentionDays: cfg.DecisionLog.File.RetentionDays,
			MaxFileSizeMB: cfg.DecisionLog.File.MaxFileSizeMB,
			CacheSize:     cfg.DecisionLog.File.CacheSize,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("decision file store: %w", err)
		}
		logger.Debug("decision log: rotating files", "dir", dir)
		return fs, fs, nil
	}

	switch {
	case cfg.DecisionLog.Output == "stdout":
		s := memory.NewDecisionStore()
		logger.Debug("decision log: stdout")
		return s, s, nil

	case strings.HasPrefix(cfg.DecisionLog.Output, "file://"):
		path := parseFileURI(cfg.DecisionLog.Output)
		if path == "" {
			return nil, nil, fmt.Errorf("invalid decision log URI: %s", cfg.DecisionLog.Output)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open decision log %s: %w", path, err)
		}
		s := memory.NewDecisionStoreWithWriter(f)
		logger.Debug("decision log: file", "path", path)
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("invalid decision log output: %s (must be 'stdout' or 'file://path')", cfg.DecisionLog.Output)
	}
}

// profilesFromConfig converts the declared profiles to domain budgets,
// parsing the duration strings.
func profilesFromConfig(configs []config.ProfileConfig) (map[string]ratelimit.Profile, error) {
	profiles := make(map[string]ratelimit.Profile, len(configs))
	for _, pc := range configs {
		duration, err := time.ParseDuration(pc.Duration)
		if err != nil {
			return nil, fmt.Errorf("profile %q: invalid duration %q: %w", pc.Name, pc.Duration, err)
		}

		var blockDuration time.Duration
		if pc.BlockDuration != "" {
			blockDuration, err = time.ParseDuration(pc.BlockDuration)
			if err != nil {
				return nil, fmt.Errorf("profile %q: invalid block_duration %q: %w", pc.Name, pc.BlockDuration, err)
			}
		}

		profiles[pc.Name] = ratelimit.Profile{
			Points:        pc.Points,
			Duration:      duration,
			BlockDuration: blockDuration,
		}
	}
	return profiles, nil
}

// rulesFromConfig converts config-file rules to the domain type.
func rulesFromConfig(configs []config.RuleConfig) []route.Rule {
	rules := make([]route.Rule, 0, len(configs))
	for _, rc := range configs {
		rules = append(rules, route.Rule{
			ID:        rc.ID,
			Name:      rc.Name,
			Priority:  rc.Priority,
			PathMatch: rc.PathMatch,
			Condition: rc.Condition,
			Profile:   rc.Profile,
			Enabled:   rc.Enabled,
		})
	}
	return rules
}

// adminKeysFromConfig converts pre-provisioned admin keys to state
// entries for the key service. The "sha256:" prefix is stripped so the
// validator's hash-lookup fast path works.
func adminKeysFromConfig(configs []config.AdminKeyConfig) []state.KeyEntry {
	now := time.Now().UTC()
	entries := make([]state.KeyEntry, 0, len(configs))
	for _, kc := range configs {
		entries = append(entries, state.KeyEntry{
			ID:        kc.ID,
			Name:      kc.Name,
			KeyHash:   strings.TrimPrefix(kc.Hash, "sha256:"),
			CreatedAt: now,
		})
	}
	return entries
}

// upstreamTargets converts configured upstreams to proxy targets.
func upstreamTargets(configs []config.UpstreamConfig) []http.UpstreamTarget {
	targets := make([]http.UpstreamTarget, 0, len(configs))
	for _, uc := range configs {
		targets = append(targets, http.UpstreamTarget{
			Name:        uc.Name,
			PathPrefix:  uc.PathPrefix,
			Upstream:    uc.URL,
			StripPrefix: uc.StripPrefix,
			Headers:     uc.Headers,
		})
	}
	return targets
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// addresses, mode, and resource counts.
func printBanner(version, addr string, devMode, adminEnabled bool, backend string, profileCount, ruleCount, upstreamCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	gatewayURL := fmt.Sprintf("http://localhost%s/", addr)
	adminURL := fmt.Sprintf("http://localhost%s/admin/api/", addr)
	if !strings.HasPrefix(addr, ":") {
		gatewayURL = fmt.Sprintf("http://%s/", addr)
		adminURL = fmt.Sprintf("http://%s/admin/api/", addr)
	}
	if !adminEnabled {
		adminURL = "disabled"
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset + dim + " (seeded admin key)" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s ThrottleGate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Gateway:", gatewayURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Admin API:", adminURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Backend:", backend)
	fmt.Fprintf(os.Stderr, "  %-14s %d configured\n", "Profiles:", profileCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d configured\n", "Upstreams:", upstreamCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the Throttle Gate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".throttlegate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "throttlegate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
