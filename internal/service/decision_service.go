package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/decision"
)

// DecisionService provides async decision logging with a buffered channel and
// background worker. Rate limit decisions are logged without blocking the
// gateway hot path.
type DecisionService struct {
	store         decision.Store
	decisionChan  chan decision.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int           // Track capacity for monitoring
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64  // Lock-free drop counter

	warningThreshold int          // Percentage (0-100), e.g., 80
	lastWarning      atomic.Int64 // Rate-limit warning logs (Unix nanos)

	adaptiveFlushThreshold int // Depth % that triggers faster flushing (default 80)
}

// DecisionOption configures DecisionService.
type DecisionOption func(*DecisionService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) DecisionOption {
	return func(s *DecisionService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) DecisionOption {
	return func(s *DecisionService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the decision channel buffer.
func WithChannelSize(size int) DecisionOption {
	return func(s *DecisionService) {
		s.decisionChan = make(chan decision.Record, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) DecisionOption {
	return func(s *DecisionService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// A warning is logged when channel depth exceeds this percentage of capacity.
func WithWarningThreshold(percent int) DecisionOption {
	return func(s *DecisionService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster flushing.
// When channel depth exceeds this %, flush interval is reduced to 1/4 normal.
// Default is 80%. Set to 0 to disable adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) DecisionOption {
	return func(s *DecisionService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.adaptiveFlushThreshold = percent
	}
}

// NewDecisionService creates a new DecisionService with the given store and options.
func NewDecisionService(store decision.Store, logger *slog.Logger, opts ...DecisionOption) *DecisionService {
	defaultChannelSize := 1000
	s := &DecisionService{
		store:                  store,
		decisionChan:           make(chan decision.Record, defaultChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80, // Warn at 80% full
		adaptiveFlushThreshold: 80, // Speed up flush at 80% full
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes decision records.
func (s *DecisionService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record sends a decision record to the background worker.
// Applies backpressure: attempts fast non-blocking send, then blocks up to sendTimeout.
// If timeout expires, record is dropped and counted.
func (s *DecisionService) Record(record decision.Record) {
	// Check channel depth for early warning (rate-limited)
	if s.warningThreshold > 0 {
		depth := len(s.decisionChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	// Fast path: non-blocking send
	select {
	case s.decisionChan <- record:
		return
	default:
		// Channel full - apply backpressure
	}

	// If no timeout configured, drop immediately
	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	// Slow path: block with timeout
	select {
	case s.decisionChan <- record:
		return
	case <-time.After(s.sendTimeout):
		s.recordDrop(record)
	}
}

// recordDrop increments counter and logs drop
func (s *DecisionService) recordDrop(record decision.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("decision record dropped",
		"profile", record.Profile,
		"client_key", record.ClientKey,
		"total_drops", drops,
	)
}

// warnChannelDepth logs warning about channel capacity (rate-limited to once per second).
func (s *DecisionService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()

	// Only warn once per second
	if now-last < int64(time.Second) {
		return
	}

	// Try to claim this warning slot (CAS for thread safety)
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("decision channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records (for metrics/alerting).
func (s *DecisionService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage (for monitoring).
func (s *DecisionService) ChannelDepth() int {
	return len(s.decisionChan)
}

// ChannelCapacity returns channel buffer size (for percentage calculation).
func (s *DecisionService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning.
func (s *DecisionService) Stop() {
	close(s.decisionChan)
	s.wg.Wait()
}

// worker is the background goroutine that collects and flushes decision records.
func (s *DecisionService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]decision.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	// Track whether we're in fast-flush mode
	fastMode := false

	for {
		select {
		case record, ok := <-s.decisionChan:
			if !ok {
				// Channel closed - final flush with bounded deadline
				if len(batch) > 0 {
					flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					flushCancel()
				}
				return
			}
			batch = append(batch, record)

			// Check if we should flush (batch full or adaptive trigger)
			shouldFlush := len(batch) >= s.batchSize

			// Adaptive: check channel depth and flush early if under pressure
			if !shouldFlush && s.adaptiveFlushThreshold > 0 && len(batch) > 0 {
				depth := len(s.decisionChan)
				depthPercent := depth * 100 / s.channelSize
				if depthPercent >= s.adaptiveFlushThreshold {
					shouldFlush = true
				}
			}

			if shouldFlush {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			// Adaptive interval: adjust ticker based on channel pressure
			if s.adaptiveFlushThreshold > 0 {
				depth := len(s.decisionChan)
				depthPercent := depth * 100 / s.channelSize

				if depthPercent >= s.adaptiveFlushThreshold && !fastMode {
					// Enter fast mode: 4x faster flush
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
					s.logger.Debug("decision adaptive flush: entering fast mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval/4,
					)
				} else if depthPercent < s.adaptiveFlushThreshold && fastMode {
					// Return to normal mode
					ticker.Reset(s.flushInterval)
					fastMode = false
					s.logger.Debug("decision adaptive flush: returning to normal mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval,
					)
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Context cancelled - drain channel and flush with bounded deadline
			for record := range s.decisionChan {
				batch = append(batch, record)
			}
			if len(batch) > 0 {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.flush(flushCtx, batch)
				flushCancel()
			}
			return
		}
	}
}

// flush writes a batch of records to the store.
// Errors are logged but not propagated - decision logging must not fail requests.
func (s *DecisionService) flush(ctx context.Context, batch []decision.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write decision batch",
			"error", err,
			"count", len(batch),
		)
	}
}
