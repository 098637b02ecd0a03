// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/throttle-gate/throttlegate/internal/adapter/outbound/cel"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// CompiledRule represents a pre-compiled routing rule ready for evaluation.
type CompiledRule struct {
	ID        string
	Name      string
	Priority  int
	PathMatch string      // Glob pattern for request path matching
	Program   cel.Program // Pre-compiled CEL condition, nil when the rule has none
	Profile   string      // Rate limit profile applied on match
}

// RuleIndex provides O(1) lookup for exact path matches.
type RuleIndex struct {
	Exact    map[string][]CompiledRule // "/login" -> rules for exact match
	Wildcard []CompiledRule            // "*" or glob patterns, evaluated in priority order
}

// CompiledRulesSnapshot is the immutable snapshot stored in atomic.Value.
type CompiledRulesSnapshot struct {
	Rules []CompiledRule // All rules sorted by priority (kept for listing)
	Index *RuleIndex     // Index for fast lookup
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision route.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for routing decisions.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit, (zero, false) on miss.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (route.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return route.Decision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision route.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	// Evict LRU entry if at capacity.
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on rule reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey generates a unique hash for the request context.
func computeCacheKey(rc route.RequestContext) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(rc.Method)
	_, _ = h.Write([]byte{0}) // separator
	_, _ = h.WriteString(rc.Path)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(rc.Host)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(rc.ClientKey)
	return h.Sum64()
}

// RouteService implements route.Engine with CEL-based rule evaluation.
// Rules are compiled at load time and evaluated in priority order (highest
// first). Supports hot-reload via Reload() for runtime rule updates.
// Uses atomic.Value for lock-free reads on the hot path.
type RouteService struct {
	store     route.RuleStore
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *CompiledRulesSnapshot
	mu        sync.Mutex   // Only for Reload() writes
	cache     *ResultCache
	logger    *slog.Logger
}

// RouteServiceOption configures RouteService.
type RouteServiceOption func(*RouteService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) RouteServiceOption {
	return func(s *RouteService) {
		s.cache = NewResultCache(size)
	}
}

// NewRouteService creates a RouteService that loads and compiles rules
// from the store. The ctx parameter is used for the initial load and can
// be cancelled to abort startup.
func NewRouteService(ctx context.Context, store route.RuleStore, logger *slog.Logger, opts ...RouteServiceOption) (*RouteService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &RouteService{
		store:     store,
		evaluator: evaluator,
		cache:     NewResultCache(1000), // Default 1000 entries
		logger:    logger,
	}

	// Apply options (may override default cache)
	for _, opt := range opts {
		opt(s)
	}

	rules, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	compiled, err := s.compileRules(enabledOnly(rules))
	if err != nil {
		return nil, err
	}

	snapshot := &CompiledRulesSnapshot{
		Rules: compiled,
		Index: s.buildIndex(compiled),
	}
	s.snapshot.Store(snapshot)

	logger.Info("route service initialized",
		"rules_compiled", len(compiled),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
		"cache_max_size", s.cache.maxSize,
	)

	return s, nil
}

// ValidateRules checks the given rules for structural and CEL validity.
// This should be called before persisting rules to prevent invalid CEL
// from poisoning the rule store. Returns an error describing the first
// invalid rule.
func (s *RouteService) ValidateRules(rules []route.Rule) error {
	for i := range rules {
		rule := &rules[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		if rule.Condition == "" {
			continue // no condition means the path match alone decides
		}
		if err := s.evaluator.ValidateExpression(rule.Condition); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// enabledOnly filters out disabled rules.
func enabledOnly(rules []route.Rule) []route.Rule {
	out := make([]route.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// compileRules compiles CEL conditions and sorts rules by priority.
func (s *RouteService) compileRules(rules []route.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))

	for _, rule := range rules {
		var prg cel.Program
		if rule.Condition != "" {
			var err error
			prg, err = s.evaluator.Compile(rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
			}
		}

		compiled = append(compiled, CompiledRule{
			ID:        rule.ID,
			Name:      rule.Name,
			Priority:  rule.Priority,
			PathMatch: rule.PathMatch,
			Program:   prg,
			Profile:   rule.Profile,
		})
	}

	// Sort by priority descending (highest first)
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return compiled, nil
}

// buildIndex creates a RuleIndex from compiled rules for O(1) exact match lookup.
func (s *RouteService) buildIndex(rules []CompiledRule) *RuleIndex {
	idx := &RuleIndex{
		Exact: make(map[string][]CompiledRule),
	}
	for _, rule := range rules {
		if strings.ContainsAny(rule.PathMatch, "*?[") {
			idx.Wildcard = append(idx.Wildcard, rule)
		} else {
			idx.Exact[rule.PathMatch] = append(idx.Exact[rule.PathMatch], rule)
		}
	}
	// Sort wildcard rules by priority descending
	sort.Slice(idx.Wildcard, func(i, j int) bool {
		return idx.Wildcard[i].Priority > idx.Wildcard[j].Priority
	})
	// Sort each exact match bucket by priority descending
	for k := range idx.Exact {
		sort.Slice(idx.Exact[k], func(i, j int) bool {
			return idx.Exact[k][i].Priority > idx.Exact[k][j].Priority
		})
	}
	return idx
}

// loadSnapshot returns the current rules snapshot atomically (lock-free).
func (s *RouteService) loadSnapshot() *CompiledRulesSnapshot {
	return s.snapshot.Load().(*CompiledRulesSnapshot)
}

// Rules returns the currently loaded compiled rules in evaluation order.
func (s *RouteService) Rules() []CompiledRule {
	return s.loadSnapshot().Rules
}

// getCandidateRules returns rules that might match the given path,
// merging exact matches with wildcards in priority order.
func (s *RouteService) getCandidateRules(idx *RuleIndex, path string) []CompiledRule {
	exact := idx.Exact[path]

	if len(exact) == 0 {
		return idx.Wildcard
	}
	if len(idx.Wildcard) == 0 {
		return exact
	}

	// Merge both lists maintaining priority order
	merged := make([]CompiledRule, 0, len(exact)+len(idx.Wildcard))
	i, j := 0, 0
	for i < len(exact) && j < len(idx.Wildcard) {
		if exact[i].Priority >= idx.Wildcard[j].Priority {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, idx.Wildcard[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, idx.Wildcard[j:]...)
	return merged
}

// Evaluate matches the request against loaded rules.
// Rules are evaluated in priority order, first matching rule wins.
// When nothing matches, the default profile applies.
// Uses lock-free atomic.Value read for high performance on the hot path.
// Results are cached by method, path, host, and client key.
func (s *RouteService) Evaluate(ctx context.Context, rc route.RequestContext) (route.Decision, error) {
	cacheKey := computeCacheKey(rc)

	// Check cache first (hot path optimization)
	if decision, ok := s.cache.Get(cacheKey); ok {
		return decision, nil
	}

	// Lock-free read - no mutex needed
	snapshot := s.loadSnapshot()

	candidates := s.getCandidateRules(snapshot.Index, rc.Path)

	for _, rule := range candidates {
		// Check glob pattern match (exact matches already filtered by index)
		if strings.ContainsAny(rule.PathMatch, "*?[") {
			// Special case: lone "*" matches everything (including paths
			// with /). filepath.Match("*", ...) does not cross "/"
			// separators, but for routing rules "*" means "any path".
			if rule.PathMatch != "*" {
				matched, err := filepath.Match(rule.PathMatch, rc.Path)
				if err != nil {
					s.logger.Warn("invalid glob pattern", "rule", rule.ID, "pattern", rule.PathMatch, "error", err)
					continue
				}
				if !matched {
					continue
				}
			}
		}

		// Evaluate CEL condition when the rule has one
		if rule.Program != nil {
			result, err := s.evaluator.Evaluate(rule.Program, rc)
			if err != nil {
				return route.Decision{}, fmt.Errorf("rule %s evaluation failed: %w", rule.ID, err)
			}
			if !result {
				continue
			}
		}

		decision := route.Decision{
			Profile:  rule.Profile,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Reason:   fmt.Sprintf("matched rule %s", rule.Name),
		}
		s.cache.Put(cacheKey, decision)
		return decision, nil
	}

	// No matching rule: apply the default profile.
	decision := route.Decision{
		Profile: route.DefaultProfile,
		Reason:  "no matching rule (default profile)",
	}
	s.cache.Put(cacheKey, decision)
	return decision, nil
}

// Reload reloads and recompiles all rules from the store.
// This method is thread-safe and can be called concurrently with Evaluate.
// Only enabled rules are included in the compiled set.
// Uses atomic.Value.Store for lock-free publish to readers.
func (s *RouteService) Reload(ctx context.Context) error {
	rules, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	// Compile outside the lock
	compiled, err := s.compileRules(enabledOnly(rules))
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	idx := s.buildIndex(compiled)

	// Atomic swap (very brief mutex for Store)
	s.mu.Lock()
	s.snapshot.Store(&CompiledRulesSnapshot{
		Rules: compiled,
		Index: idx,
	})
	s.mu.Unlock()

	// Cached decisions may name stale profiles after a reload.
	s.cache.Clear()

	s.logger.Info("route service reloaded",
		"rules_total", len(rules),
		"rules_compiled", len(compiled),
		"exact_patterns", len(idx.Exact),
		"wildcard_patterns", len(idx.Wildcard),
		"cache_cleared", true,
	)

	return nil
}

// DefaultRules returns the built-in rule set: authentication endpoints
// get the stricter auth profile, everything else falls through to the
// default profile.
func DefaultRules() []route.Rule {
	return []route.Rule{
		{
			ID:        "auth-prefix",
			Name:      "auth-prefix",
			Priority:  100,
			PathMatch: "/auth/*",
			Profile:   "auth",
			Enabled:   true,
		},
		{
			ID:        "auth-login",
			Name:      "auth-login",
			Priority:  100,
			PathMatch: "/login",
			Profile:   "auth",
			Enabled:   true,
		},
		{
			ID:        "auth-signup",
			Name:      "auth-signup",
			Priority:  100,
			PathMatch: "/signup",
			Profile:   "auth",
			Enabled:   true,
		},
		{
			ID:        "auth-token",
			Name:      "auth-token",
			Priority:  100,
			PathMatch: "/token",
			Profile:   "auth",
			Enabled:   true,
		},
	}
}

// Compile-time interface verification.
var _ route.Engine = (*RouteService)(nil)
