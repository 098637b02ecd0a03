package service

import (
	"sync"
	"sync/atomic"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	allowed  atomic.Int64
	rejected atomic.Int64
	errors   atomic.Int64
	proxied  atomic.Int64

	// Per-profile counters (mutex-protected maps).
	mu              sync.Mutex
	profileAllowed  map[string]int64
	profileRejected map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		profileAllowed:  make(map[string]int64),
		profileRejected: make(map[string]int64),
	}
}

// RecordAllow increments the allowed counter for a profile.
// Empty profile names only bump the total.
func (s *StatsService) RecordAllow(profile string) {
	s.allowed.Add(1)
	if profile == "" {
		return
	}
	s.mu.Lock()
	s.profileAllowed[profile]++
	s.mu.Unlock()
}

// RecordReject increments the rejected counter for a profile.
func (s *StatsService) RecordReject(profile string) {
	s.rejected.Add(1)
	if profile == "" {
		return
	}
	s.mu.Lock()
	s.profileRejected[profile]++
	s.mu.Unlock()
}

// RecordError increments the internal error counter.
func (s *StatsService) RecordError() {
	s.errors.Add(1)
}

// RecordProxied increments the counter of requests forwarded upstream.
func (s *StatsService) RecordProxied() {
	s.proxied.Add(1)
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Allowed         int64            `json:"allowed"`
	Rejected        int64            `json:"rejected"`
	Errors          int64            `json:"errors"`
	Proxied         int64            `json:"proxied"`
	ProfileAllowed  map[string]int64 `json:"profile_allowed"`
	ProfileRejected map[string]int64 `json:"profile_rejected"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	pa := make(map[string]int64, len(s.profileAllowed))
	for k, v := range s.profileAllowed {
		pa[k] = v
	}
	pr := make(map[string]int64, len(s.profileRejected))
	for k, v := range s.profileRejected {
		pr[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Allowed:         s.allowed.Load(),
		Rejected:        s.rejected.Load(),
		Errors:          s.errors.Load(),
		Proxied:         s.proxied.Load(),
		ProfileAllowed:  pa,
		ProfileRejected: pr,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.allowed.Store(0)
	s.rejected.Store(0)
	s.errors.Store(0)
	s.proxied.Store(0)

	s.mu.Lock()
	s.profileAllowed = make(map[string]int64)
	s.profileRejected = make(map[string]int64)
	s.mu.Unlock()
}
