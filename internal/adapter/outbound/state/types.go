// Package state provides file-based persistence for ThrottleGate runtime
// state.
//
// The state.json file stores runtime configuration that the admin API can
// change while the gateway runs: routing rules and admin API keys. This
// package provides atomic writes, file locking, and backup functionality.
package state

import "time"

// AppState is the top-level structure persisted in state.json.
// It holds all runtime configuration that survives restarts.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Rules are the routing rules mapping requests to rate limit profiles.
	Rules []RuleEntry `json:"rules"`

	// APIKeys are the admin API authentication keys.
	APIKeys []KeyEntry `json:"api_keys"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleEntry represents a single routing rule.
type RuleEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// Priority determines evaluation order (higher number = evaluated first).
	Priority int `json:"priority"`

	// PathMatch is a glob pattern matching request paths (e.g. "/auth/*").
	PathMatch string `json:"path_match"`

	// Condition is a CEL expression that must evaluate to true for this
	// rule to apply. Empty means the path match alone decides.
	Condition string `json:"condition,omitempty"`

	// Profile is the rate limit profile applied when this rule matches.
	Profile string `json:"profile"`

	// Enabled indicates whether this rule is active.
	Enabled bool `json:"enabled"`

	// ReadOnly is true for rules sourced from YAML config (not editable via API).
	ReadOnly bool `json:"read_only"`

	// CreatedAt is when this rule was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this rule was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyEntry represents an admin API authentication key.
type KeyEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// Name is a human-readable display name for this key.
	Name string `json:"name"`

	// KeyHash is the Argon2id (or SHA-256) hash of the API key.
	KeyHash string `json:"key_hash"`

	// CreatedAt is when this key was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when this key expires. Nil means it never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Revoked indicates whether this key has been revoked.
	Revoked bool `json:"revoked"`

	// ReadOnly is true for keys sourced from YAML config.
	ReadOnly bool `json:"read_only"`
}
