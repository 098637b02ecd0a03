package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "throttle-gate"
	envPrefix  = "THROTTLE_GATE"
)

// InitViper configures viper with the config file location and
// environment variable handling. When configFile is empty the standard
// search paths are probed instead.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file anywhere; defaults plus env vars still apply.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile probes the standard locations for throttle-gate.yaml
// (or .yml) and returns the first match.
func findConfigFile() string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+configName))
	}

	if runtime.GOOS == "windows" {
		if programData := os.Getenv("ProgramData"); programData != "" {
			paths = append(paths, filepath.Join(programData, configName))
		}
	} else {
		paths = append(paths, filepath.Join("/etc", configName))
	}

	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths checks each directory for throttle-gate.yaml or
// throttle-gate.yml. Extensions are matched explicitly so that a
// sibling binary named "throttle-gate" is never mistaken for config.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(dir, configName+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds each scalar config key to its environment
// variable. AutomaticEnv alone does not surface nested keys that are
// absent from the config file, so every overridable scalar is bound
// explicitly. List-valued sections (upstreams, profiles, rules,
// admin.api_keys) cannot be expressed as single variables and remain
// config-file only.
func bindNestedEnvKeys() {
	keys := []string{
		"server.addr",
		"server.trust_proxy",
		"server.log_level",
		"store.backend",
		"store.redis.addr",
		"store.redis.password",
		"store.redis.db",
		"store.postgres.dsn",
		"store.sqlite.path",
		"store.cleanup_interval",
		"admin.enabled",
		"admin.rate_limit.max_requests",
		"admin.rate_limit.window",
		"decision_log.enabled",
		"decision_log.output",
		"decision_log.file.dir",
		"decision_log.file.retention_days",
		"decision_log.file.max_file_size_mb",
		"decision_log.file.cache_size",
		"decision_log.channel_size",
		"decision_log.batch_size",
		"decision_log.flush_interval",
		"decision_log.send_timeout",
		"decision_log.warning_threshold",
		"telemetry.enabled",
		"state_path",
		"dev_mode",
	}
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads, defaults, and validates the full configuration. A
// missing config file is not an error; everything then comes from
// defaults and environment variables.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigRaw reads and unmarshals the configuration without applying
// defaults or validation. Callers that layer CLI flag overrides on top
// (like start --dev) use this, then default and validate themselves.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed reports the config file viper settled on, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
