package memory

import (
	"context"
	"sync"

	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// RuleStore implements route.RuleStore with an in-memory slice.
// Thread-safe for concurrent access. Durability comes from the state
// store, which seeds this at boot and persists replacements.
type RuleStore struct {
	rules []route.Rule
	mu    sync.RWMutex
}

// NewRuleStore creates an in-memory rule store holding the given rules.
func NewRuleStore(rules ...route.Rule) *RuleStore {
	s := &RuleStore{}
	s.rules = make([]route.Rule, len(rules))
	copy(s.rules, rules)
	return s
}

// List returns all rules, enabled or not.
func (s *RuleStore) List(ctx context.Context) ([]route.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to prevent mutation
	out := make([]route.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// Replace atomically swaps in a new rule set.
func (s *RuleStore) Replace(ctx context.Context, rules []route.Rule) error {
	stored := make([]route.Rule, len(rules))
	copy(stored, rules)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = stored
	return nil
}

// Compile-time interface verification.
var _ route.RuleStore = (*RuleStore)(nil)
