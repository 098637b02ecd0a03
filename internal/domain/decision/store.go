package decision

import (
	"context"
	"time"
)

// Store persists decision records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type Store interface {
	// Append stores decision records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for decision log queries.
type Filter struct {
	// Since is the beginning of the time range (zero means unbounded).
	Since time.Time
	// Until is the end of the time range (zero means unbounded).
	Until time.Time
	// Profile filters by rate limit profile (optional).
	Profile string
	// ClientKey filters by client key (optional).
	ClientKey string
	// Allowed filters by outcome (optional, nil means both).
	Allowed *bool
	// Limit is the maximum number of records to return (default 100).
	Limit int
}

// Matches reports whether a record satisfies the filter's field criteria.
// The Limit field is enforced by the store, not here.
func (f Filter) Matches(r Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	if f.Profile != "" && r.Profile != f.Profile {
		return false
	}
	if f.ClientKey != "" && r.ClientKey != f.ClientKey {
		return false
	}
	if f.Allowed != nil && r.Allowed != *f.Allowed {
		return false
	}
	return true
}

// QueryStore provides read access to the decision log for admin queries.
// This interface is separate from Store which handles writes.
type QueryStore interface {
	// Query retrieves decision records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// GetRecent returns the most recent records, newest first.
	GetRecent(ctx context.Context, limit int) ([]Record, error)
}
