// Package decisionlog provides file-based decision persistence with JSON Lines
// format, daily rotation, size caps, retention cleanup, and an in-memory cache.
package decisionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/decision"
)

// logFileInfo holds parsed information about a decision log file.
type logFileInfo struct {
	name   string
	date   string
	suffix int
}

// parseLogFilename parses a decision log filename and returns its components.
func parseLogFilename(name string) (logFileInfo, bool) {
	matches := logFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return logFileInfo{}, false
	}

	info := logFileInfo{
		name: name,
		date: matches[1],
	}

	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return logFileInfo{}, false
		}
		info.suffix = n
	}

	return info, true
}

// sortLogFiles sorts log file info by date then suffix (chronological order).
func sortLogFiles(files []logFileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileConfig holds configuration for the file-based decision store.
type FileConfig struct {
	// Dir is the directory where decision log files are stored.
	Dir string
	// RetentionDays is the number of days to keep log files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent entries to keep in memory (default 1000).
	CacheSize int
}

// FileStore implements decision.Store with file rotation, retention, and cache.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	cache         *decisionCache
	mu            sync.Mutex
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

// logFilePattern matches decision log filenames: decisions-YYYY-MM-DD.log or decisions-YYYY-MM-DD-N.log
var logFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// NewFileStore creates a new file-based decision store.
// It creates the directory if it does not exist, opens today's log file,
// runs retention cleanup, populates the cache from the most recent file,
// and starts the hourly cleanup goroutine.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	// Apply defaults
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	// Create directory with restricted permissions
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		cache:         newDecisionCache(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
	}

	// Open today's log file
	today := time.Now().UTC().Format("2006-01-02")
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open decision log file: %w", err)
	}

	// Run retention cleanup at boot
	s.runCleanup()

	// Populate cache from most recent file
	s.populateCache()

	// Start hourly cleanup goroutine
	go s.startCleanupLoop(ctx)

	return s, nil
}

// Append stores decision records as JSON Lines to the current log file.
// It handles date and size rotation as needed.
func (s *FileStore) Append(ctx context.Context, records ...decision.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		dateStr := rec.Timestamp.UTC().Format("2006-01-02")

		// Check if date rotation is needed
		if dateStr != s.currentDate {
			if err := s.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}

		// Check if size rotation is needed
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		// Marshal record as compact JSON (no indentation)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal decision record: %w", err)
		}

		// Write JSON line
		line := append(data, '\n')
		n, err := s.currentFile.Write(line)
		if err != nil {
			return fmt.Errorf("write decision record: %w", err)
		}
		s.currentSize += int64(n)

		// Add to cache
		s.cache.Add(rec)
	}

	return nil
}

// Flush forces pending records to disk by syncing the current file.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close releases resources, stops the cleanup goroutine, and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Cancel the cleanup goroutine
	s.cancel()

	// Sync and close the current file
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}

	return nil
}

// GetRecent returns the last n decision records from the cache, newest first.
func (s *FileStore) GetRecent(_ context.Context, n int) ([]decision.Record, error) {
	return s.cache.Recent(n), nil
}

// Query retrieves decision records matching the filter from the cache, newest first.
// Only cached records are searched; older files on disk are not scanned.
func (s *FileStore) Query(_ context.Context, filter decision.Filter) ([]decision.Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []decision.Record
	for _, rec := range s.cache.Recent(s.cache.Len()) {
		if len(result) >= limit {
			break
		}
		if filter.Matches(rec) {
			result = append(result, rec)
		}
	}

	return result, nil
}

// openCurrentFile opens or creates the log file for the given date.
// It determines the correct suffix by checking existing files on disk.
func (s *FileStore) openCurrentFile(dateStr string) error {
	// Find the highest existing suffix for this date
	suffix := s.findHighestSuffix(dateStr)

	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix

	return nil
}

// findHighestSuffix returns the highest existing suffix for a date, or 0 if none.
func (s *FileStore) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		info, ok := parseLogFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}

	return highest
}

// openFile opens a log file with the given date and suffix.
// Returns the file handle and its current size.
func (s *FileStore) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := s.buildFilename(dateStr, suffix)
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}

	return f, info.Size(), nil
}

// buildFilename constructs the log filename for a date and suffix.
func (s *FileStore) buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("decisions-%s.log", dateStr)
	}
	return fmt.Sprintf("decisions-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked closes the current file and opens a new one for the given date.
// Must be called with s.mu held.
func (s *FileStore) rotateDateLocked(dateStr string) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix = 0
	s.currentSize = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentSize = size

	return nil
}

// rotateSizeLocked closes the current file and opens a new one with an incremented suffix.
// Must be called with s.mu held.
func (s *FileStore) rotateSizeLocked() error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix++
	s.currentSize = 0

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentSize = size

	return nil
}

// runCleanup deletes decision log files older than the retention period.
func (s *FileStore) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("decision log cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, e := range entries {
		info, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}

		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}

		if fileDate.Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Error("decision log cleanup: failed to delete file",
					"file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("decision log cleanup completed", "deleted", deleted)
	}
}

// startCleanupLoop runs retention cleanup every hour until the context is cancelled.
func (s *FileStore) startCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// populateCache reads the most recent decision log file and fills the cache.
func (s *FileStore) populateCache() {
	// Find the most recent log file
	mostRecent := s.findMostRecentFile()
	if mostRecent == "" {
		return
	}

	path := filepath.Join(s.dir, mostRecent)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("decision cache: failed to open file for population",
			"file", mostRecent, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	// Read all lines and take the last cacheSize entries
	var records []decision.Record
	scanner := bufio.NewScanner(f)
	// Increase buffer for potentially large JSON lines
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var rec decision.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("decision cache: skipping malformed line",
				"file", mostRecent, "error", err)
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		s.logger.Error("decision cache: error reading file",
			"file", mostRecent, "error", err)
	}

	// Take last cacheSize entries
	start := 0
	if len(records) > s.cache.size {
		start = len(records) - s.cache.size
	}

	// Add in chronological order so newest ends up as most recent in cache
	for _, rec := range records[start:] {
		s.cache.Add(rec)
	}
}

// findMostRecentFile returns the filename of the most recent non-empty log file,
// or an empty string if none exist.
func (s *FileStore) findMostRecentFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}

	var files []logFileInfo
	for _, e := range entries {
		info, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}
		// Skip empty files
		finfo, err := e.Info()
		if err != nil || finfo.Size() == 0 {
			continue
		}
		files = append(files, info)
	}

	if len(files) == 0 {
		return ""
	}

	sortLogFiles(files)

	// Return the last one (most recent date, highest suffix)
	return files[len(files)-1].name
}

// Compile-time interface verification.
var (
	_ decision.Store      = (*FileStore)(nil)
	_ decision.QueryStore = (*FileStore)(nil)
)

// decisionCache is a ring buffer of recent decision entries for fast admin access.
type decisionCache struct {
	entries []decision.Record
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// newDecisionCache creates a new cache with the given capacity.
func newDecisionCache(size int) *decisionCache {
	if size <= 0 {
		size = 1000
	}
	return &decisionCache{
		entries: make([]decision.Record, size),
		size:    size,
	}
}

// Add adds a record to the ring buffer, overwriting the oldest entry if full.
func (c *decisionCache) Add(rec decision.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.head] = rec
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// Recent returns the last n entries, newest first.
// If n exceeds the number of entries, returns all entries.
func (c *decisionCache) Recent(n int) []decision.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || c.count == 0 {
		return nil
	}

	if n > c.count {
		n = c.count
	}

	result := make([]decision.Record, n)
	for i := 0; i < n; i++ {
		// head points to next write position, so head-1 is most recent
		idx := (c.head - 1 - i + c.size) % c.size
		result[i] = c.entries[idx]
	}

	return result
}

// Len returns the number of entries currently in the cache.
func (c *decisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
