package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/throttle-gate/throttlegate/internal/domain/auth"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// RegisterCustomValidators installs the validators used by struct tags
// beyond the built-in set.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration_string", validateDurationString); err != nil {
		return fmt.Errorf("registering duration_string validator: %w", err)
	}
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("registering key_hash validator: %w", err)
	}
	if err := v.RegisterValidation("decision_output", validateDecisionOutput); err != nil {
		return fmt.Errorf("registering decision_output validator: %w", err)
	}
	return nil
}

// validateDurationString accepts positive Go duration strings ("15m",
// "1h30m").
func validateDurationString(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validateKeyHash accepts the stored-hash formats the key verifier
// understands: sha256:-prefixed hex, bare 64-char hex, or PHC argon2id.
func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != "unknown"
}

// validateDecisionOutput accepts "stdout" or a file:// URL with an
// absolute path.
func validateDecisionOutput(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "stdout" {
		return true
	}
	if path, ok := strings.CutPrefix(value, "file://"); ok {
		return filepath.IsAbs(path)
	}
	return false
}

// Validate checks the configuration for structural and referential
// errors. Structural checks come from struct tags; cross-field checks
// that tags cannot express run afterwards.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateProfileNames(); err != nil {
		return err
	}
	if err := c.validateRuleReferences(); err != nil {
		return err
	}
	if err := c.validateUpstreamPrefixes(); err != nil {
		return err
	}
	if err := c.validateStoreBackend(); err != nil {
		return err
	}
	return nil
}

// validateProfileNames rejects duplicate profile names and requires the
// default profile to exist, since unmatched requests fall back to it.
func (c *Config) validateProfileNames() error {
	seen := make(map[string]bool, len(c.Profiles))
	hasDefault := false
	for i, p := range c.Profiles {
		if seen[p.Name] {
			return fmt.Errorf("profiles[%d]: duplicate profile name: %s", i, p.Name)
		}
		seen[p.Name] = true
		if p.Name == route.DefaultProfile {
			hasDefault = true
		}
	}
	if len(c.Profiles) > 0 && !hasDefault {
		return fmt.Errorf("profiles: missing %q profile; unmatched requests fall back to it", route.DefaultProfile)
	}
	return nil
}

// validateRuleReferences requires every rule to name a configured
// profile and rejects duplicate rule IDs.
func (c *Config) validateRuleReferences() error {
	profiles := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		profiles[p.Name] = true
	}

	ids := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if ids[r.ID] {
			return fmt.Errorf("rules[%d]: duplicate rule id: %s", i, r.ID)
		}
		ids[r.ID] = true
		if !profiles[r.Profile] {
			return fmt.Errorf("rules[%d]: references unknown profile: %s", i, r.Profile)
		}
	}
	return nil
}

// validateUpstreamPrefixes rejects duplicate path prefixes. Overlapping
// prefixes are fine (longest match wins); exact duplicates are
// ambiguous.
func (c *Config) validateUpstreamPrefixes() error {
	seen := make(map[string]bool, len(c.Upstreams))
	for i, u := range c.Upstreams {
		if seen[u.PathPrefix] {
			return fmt.Errorf("upstreams[%d]: duplicate path_prefix: %s", i, u.PathPrefix)
		}
		seen[u.PathPrefix] = true
	}
	return nil
}

// validateStoreBackend requires the connection settings of the selected
// backend to be present.
func (c *Config) validateStoreBackend() error {
	switch c.Store.Backend {
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required when backend is redis")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required when backend is postgres")
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path is required when backend is sqlite")
		}
	}
	return nil
}

// formatValidationErrors converts validator errors into messages an
// operator can act on without knowing struct internals.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatSingleValidationError(e))
	}
	return fmt.Errorf("config validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s: required field is missing", field)
	case "min":
		return fmt.Sprintf("%s: must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s: must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s: must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s: must be a host:port address", field)
	case "duration_string":
		return fmt.Sprintf("%s: must be a positive duration like \"15m\" or \"1h30m\"", field)
	case "key_hash":
		return fmt.Sprintf("%s: must be sha256:<hex>, bare 64-char hex, or a $argon2id$ hash", field)
	case "decision_output":
		return fmt.Sprintf("%s: must be \"stdout\" or \"file://\" with an absolute path", field)
	default:
		return fmt.Sprintf("%s: failed %s validation", field, e.Tag())
	}
}
