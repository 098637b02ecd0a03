package service

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// LimitService holds one Limiter per configured profile, all sharing the
// same counter store. Route decisions name profiles; this service resolves
// those names to limiters.
type LimitService struct {
	limiters map[string]*ratelimit.Limiter
	fallback *ratelimit.Limiter
	logger   *slog.Logger
}

// NewLimitService builds a limiter for every named profile.
// The default profile must be present: it is the limiter applied when a
// route decision names nothing, and the fallback for unknown names.
func NewLimitService(store ratelimit.CounterStore, profiles map[string]ratelimit.Profile, logger *slog.Logger) (*LimitService, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one rate limit profile is required")
	}

	limiters := make(map[string]*ratelimit.Limiter, len(profiles))
	for name, p := range profiles {
		l, err := ratelimit.NewLimiter(name, p, store)
		if err != nil {
			return nil, err
		}
		limiters[name] = l
	}

	fallback, ok := limiters[route.DefaultProfile]
	if !ok {
		return nil, fmt.Errorf("default profile %q is not configured", route.DefaultProfile)
	}

	return &LimitService{
		limiters: limiters,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Limiter returns the limiter for a profile name. Unknown names resolve
// to the default profile's limiter so requests stay limited even when a
// rule references a profile that no longer exists.
func (s *LimitService) Limiter(name string) *ratelimit.Limiter {
	if l, ok := s.limiters[name]; ok {
		return l
	}
	s.logger.Warn("unknown rate limit profile, using default",
		"profile", name,
		"default", route.DefaultProfile)
	return s.fallback
}

// Lookup returns the limiter for an exact profile name, reporting whether
// it exists. Admin endpoints use this to answer 404 for unknown profiles
// instead of silently falling back.
func (s *LimitService) Lookup(name string) (*ratelimit.Limiter, bool) {
	l, ok := s.limiters[name]
	return l, ok
}

// Names returns the configured profile names in sorted order.
func (s *LimitService) Names() []string {
	names := make([]string, 0, len(s.limiters))
	for name := range s.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
