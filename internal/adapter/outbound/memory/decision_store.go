package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/throttle-gate/throttlegate/internal/domain/decision"
)

const defaultRecentCap = 1000

// DecisionStore implements decision.Store writing to stdout or a file.
// Also keeps a bounded in-memory ring buffer for recent record queries.
type DecisionStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []decision.Record
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewDecisionStore creates a new decision store writing to stdout.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewDecisionStore(capacity ...int) *DecisionStore {
	cap := resolveCapacity(capacity...)
	return &DecisionStore{
		encoder: json.NewEncoder(os.Stdout),
		writer:  os.Stdout,
		recent:  make([]decision.Record, 0, cap),
		cap:     cap,
	}
}

// NewDecisionStoreWithWriter creates a decision store writing to the given writer.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewDecisionStoreWithWriter(w io.Writer, capacity ...int) *DecisionStore {
	cap := resolveCapacity(capacity...)
	return &DecisionStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]decision.Record, 0, cap),
		cap:     cap,
	}
}

// Append stores decision records by writing them as JSON to the output
// and keeping them in the in-memory ring buffer.
func (s *DecisionStore) Append(ctx context.Context, records ...decision.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		// Add to ring buffer.
		if len(s.recent) >= s.cap {
			// Shift left, drop oldest.
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Flush forces pending records to storage.
// No-op for this implementation (no buffering).
func (s *DecisionStore) Flush(ctx context.Context) error {
	return nil
}

// Close releases resources.
func (s *DecisionStore) Close() error {
	// Close file if it's not stdout/stderr
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// GetRecent returns the n most recent decision records (newest first).
func (s *DecisionStore) GetRecent(_ context.Context, n int) ([]decision.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.recent)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil, nil
	}
	// Return newest first.
	result := make([]decision.Record, n)
	for i := 0; i < n; i++ {
		result[i] = s.recent[total-1-i]
	}
	return result, nil
}

// Query retrieves decision records matching the filter from the in-memory buffer.
func (s *DecisionStore) Query(_ context.Context, filter decision.Filter) ([]decision.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []decision.Record
	// Iterate newest first.
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Matches(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}

	return result, nil
}

// Compile-time interface verification.
var (
	_ decision.Store      = (*DecisionStore)(nil)
	_ decision.QueryStore = (*DecisionStore)(nil)
)
