package memory

import (
	"context"
	"sync"

	"github.com/throttle-gate/throttlegate/internal/domain/auth"
)

// KeyStore implements auth.KeyStore with in-memory maps.
// Thread-safe for concurrent access. Durability comes from the state
// store, which seeds this at boot and persists every change.
type KeyStore struct {
	byID   map[string]*auth.APIKey
	byHash map[string]string // hash -> ID
	mu     sync.RWMutex
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		byID:   make(map[string]*auth.APIKey),
		byHash: make(map[string]string),
	}
}

// Get retrieves an API key by its stored hash.
// Returns auth.ErrAPIKeyNotFound if no key carries that hash.
func (s *KeyStore) Get(ctx context.Context, hash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, auth.ErrAPIKeyNotFound
	}

	// Return a copy to prevent mutation.
	keyCopy := *s.byID[id]
	return &keyCopy, nil
}

// List returns all stored API keys, revoked ones included.
func (s *KeyStore) List(ctx context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*auth.APIKey, 0, len(s.byID))
	for _, key := range s.byID {
		keyCopy := *key
		result = append(result, &keyCopy)
	}
	return result, nil
}

// Add inserts or replaces a key, matched by ID.
func (s *KeyStore) Add(ctx context.Context, key *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[key.ID]; ok {
		delete(s.byHash, old.Hash)
	}

	// Store a copy to prevent external mutation.
	keyCopy := *key
	s.byID[key.ID] = &keyCopy
	s.byHash[key.Hash] = key.ID
	return nil
}

// Revoke marks a key as revoked, keeping it listed.
// Returns auth.ErrAPIKeyNotFound if the ID is unknown.
func (s *KeyStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return auth.ErrAPIKeyNotFound
	}
	key.Revoked = true
	return nil
}

// Compile-time check that KeyStore implements auth.KeyStore.
var _ auth.KeyStore = (*KeyStore)(nil)
