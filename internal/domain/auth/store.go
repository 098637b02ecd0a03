package auth

import (
	"context"
	"errors"
)

// ErrAPIKeyNotFound is returned when a key lookup misses.
var ErrAPIKeyNotFound = errors.New("api key not found")

// KeyStore provides credential lookup and lifecycle for admin API keys.
// This interface is defined in the domain to avoid circular imports.
type KeyStore interface {
	// Get retrieves an API key by its stored hash.
	// Returns ErrAPIKeyNotFound if no key carries that hash.
	Get(ctx context.Context, hash string) (*APIKey, error)

	// List returns all stored API keys, revoked ones included.
	List(ctx context.Context) ([]*APIKey, error)

	// Add inserts or replaces a key, matched by ID.
	Add(ctx context.Context, key *APIKey) error

	// Revoke marks a key as revoked, keeping it listed.
	// Returns ErrAPIKeyNotFound if the ID is unknown.
	Revoke(ctx context.Context, id string) error
}
