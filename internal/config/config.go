// Package config provides configuration loading and validation for
// ThrottleGate. Configuration is read from a YAML file discovered in the
// usual locations (working directory, ~/.throttle-gate, /etc/throttle-gate),
// with scalar values overridable through THROTTLE_GATE_* environment
// variables. List-valued sections (upstreams, profiles, rules, admin keys)
// are config-file only.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Upstreams   []UpstreamConfig  `yaml:"upstreams" mapstructure:"upstreams" validate:"dive"`
	Profiles    []ProfileConfig   `yaml:"profiles" mapstructure:"profiles" validate:"dive"`
	Rules       []RuleConfig      `yaml:"rules" mapstructure:"rules" validate:"dive"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Admin       AdminConfig       `yaml:"admin" mapstructure:"admin"`
	DecisionLog DecisionLogConfig `yaml:"decision_log" mapstructure:"decision_log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`

	// StatePath is where admin-managed rules and API keys are persisted
	// between restarts.
	StatePath string `yaml:"state_path" mapstructure:"state_path"`

	// DevMode relaxes the configuration for local development: a
	// well-known admin key is seeded and the log level is forced to
	// debug at startup.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// TrustProxy controls whether X-Forwarded-For / X-Real-IP headers
	// are honored when deriving the client key. Enabled by default;
	// disable when the gateway is directly exposed to clients.
	TrustProxy bool `yaml:"trust_proxy" mapstructure:"trust_proxy"`

	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// UpstreamConfig describes one reverse-proxy target. Requests are routed
// to the upstream with the longest matching path prefix.
type UpstreamConfig struct {
	Name        string            `yaml:"name" mapstructure:"name"`
	PathPrefix  string            `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,startswith=/"`
	URL         string            `yaml:"url" mapstructure:"url" validate:"required,url"`
	StripPrefix bool              `yaml:"strip_prefix" mapstructure:"strip_prefix"`
	Headers     map[string]string `yaml:"headers" mapstructure:"headers"`
}

// ProfileConfig declares a named rate-limit budget. Durations are Go
// duration strings ("15m", "1h30m").
type ProfileConfig struct {
	Name     string `yaml:"name" mapstructure:"name" validate:"required"`
	Points   int    `yaml:"points" mapstructure:"points" validate:"min=1"`
	Duration string `yaml:"duration" mapstructure:"duration" validate:"required,duration_string"`

	// BlockDuration extends the penalty applied once a window is
	// exhausted. Empty means no extension beyond the window itself.
	BlockDuration string `yaml:"block_duration" mapstructure:"block_duration" validate:"omitempty,duration_string"`
}

// RuleConfig declares a routing rule binding matching requests to a
// profile. Config-file rules are read-only at runtime; rules managed
// through the admin API live in the state file instead.
type RuleConfig struct {
	ID        string `yaml:"id" mapstructure:"id" validate:"required"`
	Name      string `yaml:"name" mapstructure:"name" validate:"required"`
	Priority  int    `yaml:"priority" mapstructure:"priority"`
	PathMatch string `yaml:"path_match" mapstructure:"path_match"`
	Condition string `yaml:"condition" mapstructure:"condition"`
	Profile   string `yaml:"profile" mapstructure:"profile" validate:"required"`

	// Enabled must be set explicitly; a rule without enabled: true is
	// loaded but never matched.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// StoreConfig selects the counter-store backend. Only the block matching
// the chosen backend is consulted.
type StoreConfig struct {
	Backend  string         `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis postgres sqlite"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`

	// CleanupInterval is how often expired windows are swept from
	// backends that need eager cleanup. Expired windows carry their
	// own deadline, so there is no separate TTL knob.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration_string"`
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`
}

// PostgresConfig holds the Postgres connection string.
type PostgresConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// SQLiteConfig holds the SQLite database path.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AdminConfig configures the admin API surface.
type AdminConfig struct {
	Enabled bool             `yaml:"enabled" mapstructure:"enabled"`
	APIKeys []AdminKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"dive"`

	// RateLimit throttles remote admin requests per client IP.
	// Loopback callers are exempt.
	RateLimit AdminRateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AdminKeyConfig is a pre-provisioned admin API key. Only the hash is
// stored; accepted formats are "sha256:<hex>", bare 64-char hex, or a
// PHC argon2id string.
type AdminKeyConfig struct {
	ID   string `yaml:"id" mapstructure:"id" validate:"required"`
	Name string `yaml:"name" mapstructure:"name"`
	Hash string `yaml:"hash" mapstructure:"hash" validate:"required,key_hash"`
}

// AdminRateLimitConfig bounds admin API usage per remote IP.
type AdminRateLimitConfig struct {
	MaxRequests int    `yaml:"max_requests" mapstructure:"max_requests" validate:"omitempty,min=1"`
	Window      string `yaml:"window" mapstructure:"window" validate:"omitempty,duration_string"`
}

// DecisionLogConfig configures the asynchronous decision log.
type DecisionLogConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output selects the sink when File.Dir is unset: "stdout" or
	// "file:///absolute/path.log" for a single append-only file.
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,decision_output"`

	// File enables the rotating, retained JSONL store when Dir is set.
	// It takes precedence over Output.
	File DecisionFileConfig `yaml:"file" mapstructure:"file"`

	ChannelSize      int    `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`
	FlushInterval    string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration_string"`
	SendTimeout      string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration_string"`
	WarningThreshold int    `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"min=0,max=100"`
}

// DecisionFileConfig configures the rotating file store.
type DecisionFileConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days" validate:"min=0"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"min=0"`
	CacheSize     int    `yaml:"cache_size" mapstructure:"cache_size" validate:"min=0"`
}

// TelemetryConfig toggles OpenTelemetry trace and metric export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultProfiles returns the budgets shipped when the config declares
// none: a general browsing budget and a stricter one for authentication
// endpoints.
func DefaultProfiles() []ProfileConfig {
	return []ProfileConfig{
		{Name: "general", Points: 100, Duration: "15m"},
		{Name: "auth", Points: 20, Duration: "15m"},
	}
}

// SetDefaults fills in defaults for any values not provided. Booleans
// that default to true are only forced when the config left them unset;
// viper cannot distinguish an explicit false from a missing key without
// consulting IsSet.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if !viper.IsSet("server.trust_proxy") {
		c.Server.TrustProxy = true
	}

	if len(c.Profiles) == 0 {
		c.Profiles = DefaultProfiles()
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.CleanupInterval == "" {
		c.Store.CleanupInterval = "5m"
	}

	if !viper.IsSet("admin.enabled") {
		c.Admin.Enabled = true
	}
	if c.Admin.RateLimit.MaxRequests == 0 {
		c.Admin.RateLimit.MaxRequests = 60
	}
	if c.Admin.RateLimit.Window == "" {
		c.Admin.RateLimit.Window = "1m"
	}

	if !viper.IsSet("decision_log.enabled") {
		c.DecisionLog.Enabled = true
	}
	if c.DecisionLog.Output == "" {
		c.DecisionLog.Output = "stdout"
	}
	if c.DecisionLog.ChannelSize == 0 {
		c.DecisionLog.ChannelSize = 1000
	}
	if c.DecisionLog.BatchSize == 0 {
		c.DecisionLog.BatchSize = 100
	}
	if c.DecisionLog.FlushInterval == "" {
		c.DecisionLog.FlushInterval = "1s"
	}
	if c.DecisionLog.SendTimeout == "" {
		c.DecisionLog.SendTimeout = "100ms"
	}
	if c.DecisionLog.WarningThreshold == 0 {
		c.DecisionLog.WarningThreshold = 80
	}

	if c.StatePath == "" {
		c.StatePath = "./state.json"
	}
}

// devAdminKeyHash is the SHA-256 of "dev-api-key", the well-known admin
// credential seeded in dev mode.
const devAdminKeyHash = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"

// SetDevDefaults seeds development conveniences when DevMode is on. It
// runs after SetDefaults, so it only fills gaps the operator left open.
// Never enable dev mode outside local development.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if len(c.Admin.APIKeys) == 0 {
		c.Admin.APIKeys = []AdminKeyConfig{
			{
				ID:   "dev-admin",
				Name: "Development Admin Key (dev mode)",
				Hash: devAdminKeyHash,
			},
		}
	}
}

// ProfileNames returns the declared profile names in config order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		names = append(names, p.Name)
	}
	return names
}

// Redacted returns a copy of the configuration safe for export: secrets
// are masked, key hashes are kept (they are already one-way).
func (c *Config) Redacted() Config {
	out := *c
	if out.Store.Redis.Password != "" {
		out.Store.Redis.Password = "[REDACTED]"
	}
	if out.Store.Postgres.DSN != "" {
		out.Store.Postgres.DSN = "[REDACTED]"
	}
	out.Admin.APIKeys = make([]AdminKeyConfig, len(c.Admin.APIKeys))
	copy(out.Admin.APIKeys, c.Admin.APIKeys)
	out.Upstreams = make([]UpstreamConfig, len(c.Upstreams))
	copy(out.Upstreams, c.Upstreams)
	for i := range out.Upstreams {
		if len(c.Upstreams[i].Headers) == 0 {
			continue
		}
		redacted := make(map[string]string, len(c.Upstreams[i].Headers))
		for k := range c.Upstreams[i].Headers {
			redacted[k] = "[REDACTED]"
		}
		out.Upstreams[i].Headers = redacted
	}
	return out
}

// String implements fmt.Stringer without leaking secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server:%s Backend:%s Profiles:%d Rules:%d Upstreams:%d}",
		c.Server.Addr, c.Store.Backend, len(c.Profiles), len(c.Rules), len(c.Upstreams))
}
