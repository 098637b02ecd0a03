package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/throttle-gate/throttlegate/internal/adapter/outbound/state"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// ErrUnknownProfile is returned when a rule references a rate limit
// profile that is not configured.
var ErrUnknownProfile = errors.New("unknown rate limit profile")

// RuleAdminService manages the routing rule set: boot-time merge of
// config and persisted rules, full replacement via the admin API, and
// live reload of the route service. Rules sourced from YAML config are
// read-only and live only for the process; admin-managed rules persist
// to state.json.
type RuleAdminService struct {
	store      route.RuleStore
	stateStore *state.FileStateStore
	limits     *LimitService
	routes     *RouteService
	logger     *slog.Logger
	mu         sync.Mutex // serializes state reads and writes
	// In-memory cache to avoid re-reading state.json on every request.
	// Loaded at init, updated on every replacement.
	cachedConfig []state.RuleEntry
	cachedState  []state.RuleEntry
}

// NewRuleAdminService creates a new RuleAdminService.
func NewRuleAdminService(store route.RuleStore, stateStore *state.FileStateStore, limits *LimitService, logger *slog.Logger) *RuleAdminService {
	return &RuleAdminService{
		store:      store,
		stateStore: stateStore,
		limits:     limits,
		logger:     logger,
	}
}

// SetRouteService registers the route service for live reloads after
// replacements. The route service compiles from the rule store at
// construction, so it is built after Init and attached here.
func (s *RuleAdminService) SetRouteService(routes *RouteService) {
	s.routes = routes
}

// Init seeds the rule store from config-sourced rules and state.json.
// Must be called once after construction, before the route service is
// built. Config rules are marked read-only; state entries overlay them
// when IDs collide, so an admin edit wins over a stale config rule.
func (s *RuleAdminService) Init(ctx context.Context, configRules []route.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appState, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	now := time.Now().UTC()
	s.cachedConfig = make([]state.RuleEntry, 0, len(configRules))
	for _, r := range configRules {
		entry := ruleToEntry(r, now, now)
		entry.ReadOnly = true
		s.cachedConfig = append(s.cachedConfig, entry)
	}
	s.cachedState = make([]state.RuleEntry, len(appState.Rules))
	copy(s.cachedState, appState.Rules)

	if err := s.store.Replace(ctx, s.liveRules()); err != nil {
		return fmt.Errorf("seed rule store: %w", err)
	}

	s.logger.Info("routing rules loaded",
		"config_rules", len(s.cachedConfig),
		"state_rules", len(s.cachedState))
	return nil
}

// List returns all routing rules: config-sourced first, then
// admin-managed, each carrying its read-only flag and timestamps.
func (s *RuleAdminService) List(_ context.Context) ([]state.RuleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]state.RuleEntry, 0, len(s.cachedConfig)+len(s.cachedState))
	result = append(result, s.cachedConfig...)
	result = append(result, s.cachedState...)
	return result, nil
}

// Replace swaps the full admin-managed rule set. Incoming rules are
// validated structurally and through the expression compiler, checked
// against the configured profiles, persisted to state.json, pushed
// into the rule store, and hot-reloaded into the route service.
// Config-sourced rule IDs cannot be replaced; edit the config instead.
func (s *RuleAdminService) Replace(ctx context.Context, incoming []route.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(incoming); err != nil {
		return err
	}

	appState, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	// New entries keep the creation time of the entry they replace.
	createdAt := make(map[string]time.Time, len(appState.Rules))
	for _, e := range appState.Rules {
		createdAt[e.ID] = e.CreatedAt
	}

	now := time.Now().UTC()
	entries := make([]state.RuleEntry, 0, len(incoming))
	for _, r := range incoming {
		created := now
		if t, ok := createdAt[r.ID]; ok {
			created = t
		}
		entries = append(entries, ruleToEntry(r, created, now))
	}
	appState.Rules = entries

	if err := s.stateStore.Save(appState); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	// Update cache from the state we just saved.
	s.cachedState = make([]state.RuleEntry, len(entries))
	copy(s.cachedState, entries)

	if err := s.store.Replace(ctx, s.liveRules()); err != nil {
		return fmt.Errorf("replace rule store: %w", err)
	}
	if s.routes != nil {
		if err := s.routes.Reload(ctx); err != nil {
			return fmt.Errorf("reload routes: %w", err)
		}
	}

	s.logger.Info("routing rules replaced", "rules", len(incoming))
	return nil
}

// validate runs every check that can reject a replacement before any
// state is touched. Caller holds s.mu.
func (s *RuleAdminService) validate(incoming []route.Rule) error {
	configIDs := make(map[string]bool, len(s.cachedConfig))
	for _, e := range s.cachedConfig {
		configIDs[e.ID] = true
	}

	seen := make(map[string]bool, len(incoming))
	for _, r := range incoming {
		if configIDs[r.ID] {
			return fmt.Errorf("rule %q: %w", r.ID, ErrReadOnly)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if _, ok := s.limits.Lookup(r.Profile); !ok {
			return fmt.Errorf("rule %q: profile %q: %w", r.ID, r.Profile, ErrUnknownProfile)
		}
	}

	if s.routes != nil {
		if err := s.routes.ValidateRules(incoming); err != nil {
			return err
		}
	}
	return nil
}

// liveRules builds the merged rule set pushed into the store: config
// rules with state entries overlaid on ID collision, state-only rules
// appended after. Caller holds s.mu.
func (s *RuleAdminService) liveRules() []route.Rule {
	stateByID := make(map[string]state.RuleEntry, len(s.cachedState))
	for _, e := range s.cachedState {
		stateByID[e.ID] = e
	}

	rules := make([]route.Rule, 0, len(s.cachedConfig)+len(s.cachedState))
	for _, e := range s.cachedConfig {
		if override, ok := stateByID[e.ID]; ok {
			rules = append(rules, entryToRule(override))
			delete(stateByID, e.ID)
			continue
		}
		rules = append(rules, entryToRule(e))
	}
	for _, e := range s.cachedState {
		if _, ok := stateByID[e.ID]; ok {
			rules = append(rules, entryToRule(e))
		}
	}
	return rules
}

// ruleToEntry converts a domain rule to a state.json entry.
func ruleToEntry(r route.Rule, createdAt, updatedAt time.Time) state.RuleEntry {
	return state.RuleEntry{
		ID:        r.ID,
		Name:      r.Name,
		Priority:  r.Priority,
		PathMatch: r.PathMatch,
		Condition: r.Condition,
		Profile:   r.Profile,
		Enabled:   r.Enabled,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// entryToRule converts a state.json entry to the domain type.
func entryToRule(e state.RuleEntry) route.Rule {
	return route.Rule{
		ID:        e.ID,
		Name:      e.Name,
		Priority:  e.Priority,
		PathMatch: e.PathMatch,
		Condition: e.Condition,
		Profile:   e.Profile,
		Enabled:   e.Enabled,
	}
}
