package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/state"
	"github.com/throttle-gate/throttlegate/internal/domain/auth"
)

// KeyService errors.
var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrReadOnly       = errors.New("cannot modify read-only resource")
)

// KeyService manages admin API keys: generation with Argon2id hashing,
// listing, and revocation. Generated keys persist to state.json; keys
// sourced from YAML config are read-only and live only for the process.
// Every change is mirrored into the live auth.KeyStore the admin API
// authenticates against.
type KeyService struct {
	stateStore *state.FileStateStore
	keys       auth.KeyStore
	logger     *slog.Logger
	mu         sync.Mutex // serializes state reads and writes
	// In-memory cache to avoid re-reading state.json on every request.
	// Loaded at init, updated on every write operation.
	cachedConfig []state.KeyEntry
	cachedState  []state.KeyEntry
}

// NewKeyService creates a new KeyService.
func NewKeyService(stateStore *state.FileStateStore, keys auth.KeyStore, logger *slog.Logger) *KeyService {
	return &KeyService{
		stateStore: stateStore,
		keys:       keys,
		logger:     logger,
	}
}

// Init seeds the live key store from config-sourced keys and state.json.
// Must be called once after construction, before serving requests.
// Config keys are marked read-only; state entries overlay them when IDs
// collide, so a previously revoked key stays revoked.
func (s *KeyService) Init(ctx context.Context, configKeys []state.KeyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appState, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	s.cachedConfig = make([]state.KeyEntry, len(configKeys))
	copy(s.cachedConfig, configKeys)
	for i := range s.cachedConfig {
		s.cachedConfig[i].ReadOnly = true
	}
	s.cachedState = make([]state.KeyEntry, len(appState.APIKeys))
	copy(s.cachedState, appState.APIKeys)

	for _, entry := range s.cachedConfig {
		if err := s.keys.Add(ctx, entryToKey(entry)); err != nil {
			return fmt.Errorf("seed config key %s: %w", entry.ID, err)
		}
	}
	for _, entry := range s.cachedState {
		if err := s.keys.Add(ctx, entryToKey(entry)); err != nil {
			return fmt.Errorf("seed state key %s: %w", entry.ID, err)
		}
	}

	s.logger.Info("admin keys loaded",
		"config_keys", len(s.cachedConfig),
		"state_keys", len(s.cachedState))
	return nil
}

// entryToKey converts a persisted entry to the domain type.
func entryToKey(e state.KeyEntry) *auth.APIKey {
	return &auth.APIKey{
		ID:        e.ID,
		Name:      e.Name,
		Hash:      e.KeyHash,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
		Revoked:   e.Revoked,
	}
}

// GenerateKeyInput holds the input for generating an API key.
type GenerateKeyInput struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GenerateKeyResult holds the result of key generation.
// The CleartextKey is returned exactly once and never stored.
type GenerateKeyResult struct {
	KeyEntry     state.KeyEntry `json:"key_entry"`
	CleartextKey string         `json:"cleartext_key"`
}

// Generate creates a new admin API key.
// The cleartext key is returned exactly once in GenerateKeyResult and never
// stored. Only the Argon2id hash is persisted.
func (s *KeyService) Generate(ctx context.Context, input GenerateKeyInput) (*GenerateKeyResult, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	appState, err := s.stateStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	// Generate a cryptographically random 32-byte key.
	rawKey := make([]byte, 32)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generate random key: %w", err)
	}
	cleartextKey := "tg_" + hex.EncodeToString(rawKey)

	hash, err := auth.HashKeyArgon2id(cleartextKey)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	entry := state.KeyEntry{
		ID:        uuid.New().String(),
		Name:      input.Name,
		KeyHash:   hash,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: input.ExpiresAt,
	}

	appState.APIKeys = append(appState.APIKeys, entry)

	if err := s.stateStore.Save(appState); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	// Update cache from the state we just saved.
	s.cachedState = make([]state.KeyEntry, len(appState.APIKeys))
	copy(s.cachedState, appState.APIKeys)

	if err := s.keys.Add(ctx, entryToKey(entry)); err != nil {
		return nil, fmt.Errorf("sync key store: %w", err)
	}

	s.logger.Info("api key generated", "key_id", entry.ID, "name", entry.Name)

	return &GenerateKeyResult{
		KeyEntry:     entry,
		CleartextKey: cleartextKey,
	}, nil
}

// List returns all admin API keys: config-sourced first, then generated.
// Hashes are included; cleartext never is, because it is never stored.
func (s *KeyService) List(_ context.Context) ([]state.KeyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]state.KeyEntry, 0, len(s.cachedConfig)+len(s.cachedState))
	result = append(result, s.cachedConfig...)
	result = append(result, s.cachedState...)
	return result, nil
}

// Revoke marks a generated API key as revoked. It does not delete it.
// Config-sourced keys cannot be revoked here; remove them from config.
func (s *KeyService) Revoke(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.cachedConfig {
		if entry.ID == keyID {
			return ErrReadOnly
		}
	}

	appState, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	idx := -1
	for i := range appState.APIKeys {
		if appState.APIKeys[i].ID == keyID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrAPIKeyNotFound
	}

	appState.APIKeys[idx].Revoked = true

	if err := s.stateStore.Save(appState); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	// Update cache from the state we just saved.
	s.cachedState = make([]state.KeyEntry, len(appState.APIKeys))
	copy(s.cachedState, appState.APIKeys)

	if err := s.keys.Revoke(ctx, keyID); err != nil && !errors.Is(err, auth.ErrAPIKeyNotFound) {
		return fmt.Errorf("sync key store: %w", err)
	}

	s.logger.Info("api key revoked", "key_id", keyID)
	return nil
}
