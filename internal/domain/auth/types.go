// Package auth contains the domain types and logic for admin API key
// authentication.
package auth

import (
	"time"
)

// APIKey represents an admin API key.
// Only the hash is ever stored; the cleartext exists once, at generation.
type APIKey struct {
	// ID is the unique identifier for this key.
	ID string
	// Name is a human-readable label for this key.
	Name string
	// Hash is the hashed key value (SHA-256 hex or Argon2id PHC format).
	Hash string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the API key has expired.
// A key with nil ExpiresAt never expires.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}
