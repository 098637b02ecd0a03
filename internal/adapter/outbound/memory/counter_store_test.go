package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/throttle-gate/throttlegate/internal/domain/ratelimit"
	"go.uber.org/goleak"
)

func TestCounterStore_Consume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	profile := ratelimit.Profile{Points: 10, Duration: time.Minute}

	w, err := store.Consume(ctx, "test-key", profile)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if w.Count != 1 {
		t.Errorf("Count = %d, want 1", w.Count)
	}
	if !w.ResetAt.After(time.Now()) {
		t.Errorf("ResetAt = %v, should be in the future", w.ResetAt)
	}
}

func TestCounterStore_CountSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	profile := ratelimit.Profile{Points: 5, Duration: time.Minute}

	for i := 1; i <= 8; i++ {
		w, err := store.Consume(ctx, "seq-key", profile)
		if err != nil {
			t.Fatalf("Consume() error on hit %d: %v", i, err)
		}
		if w.Count != i {
			t.Errorf("hit %d: Count = %d, want %d", i, w.Count, i)
		}
	}
}

func TestCounterStore_BlockExtensionOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cur := t0
	store.now = func() time.Time { return cur }

	profile := ratelimit.Profile{
		Points:        2,
		Duration:      60 * time.Second,
		BlockDuration: 120 * time.Second,
	}

	w1, _ := store.Consume(ctx, "block-key", profile)
	if !w1.ResetAt.Equal(t0.Add(60 * time.Second)) {
		t.Errorf("first hit ResetAt = %v, want %v", w1.ResetAt, t0.Add(60*time.Second))
	}

	w2, _ := store.Consume(ctx, "block-key", profile)
	if !w2.ResetAt.Equal(t0.Add(60 * time.Second)) {
		t.Errorf("second hit ResetAt = %v, want unchanged %v", w2.ResetAt, t0.Add(60*time.Second))
	}

	// Third hit exceeds the budget and starts the block period.
	w3, _ := store.Consume(ctx, "block-key", profile)
	if w3.Count != 3 {
		t.Errorf("third hit Count = %d, want 3", w3.Count)
	}
	if !w3.ResetAt.Equal(t0.Add(120 * time.Second)) {
		t.Errorf("third hit ResetAt = %v, want block deadline %v", w3.ResetAt, t0.Add(120*time.Second))
	}

	// A later rejected hit must not move the deadline again.
	cur = t0.Add(10 * time.Second)
	w4, _ := store.Consume(ctx, "block-key", profile)
	if w4.Count != 4 {
		t.Errorf("fourth hit Count = %d, want 4", w4.Count)
	}
	if !w4.ResetAt.Equal(t0.Add(120 * time.Second)) {
		t.Errorf("fourth hit ResetAt = %v, want unmoved %v", w4.ResetAt, t0.Add(120*time.Second))
	}
}

func TestCounterStore_BlockDefaultsToDuration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }

	profile := ratelimit.Profile{Points: 1, Duration: 60 * time.Second}

	store.Consume(ctx, "default-block", profile)
	w, _ := store.Consume(ctx, "default-block", profile)
	if !w.ResetAt.Equal(t0.Add(60 * time.Second)) {
		t.Errorf("ResetAt = %v, want %v", w.ResetAt, t0.Add(60*time.Second))
	}
}

func TestCounterStore_WindowExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cur := t0
	store.now = func() time.Time { return cur }

	profile := ratelimit.Profile{Points: 2, Duration: 60 * time.Second}

	for i := 0; i < 3; i++ {
		store.Consume(ctx, "expiry-key", profile)
	}

	// Past the deadline the next hit opens a fresh window.
	cur = t0.Add(61 * time.Second)
	w, err := store.Consume(ctx, "expiry-key", profile)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if w.Count != 1 {
		t.Errorf("Count after expiry = %d, want 1", w.Count)
	}
	if !w.ResetAt.Equal(cur.Add(60 * time.Second)) {
		t.Errorf("ResetAt = %v, want %v", w.ResetAt, cur.Add(60*time.Second))
	}
}

func TestCounterStore_Recovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	// Short real window so the test exercises the wall clock path.
	profile := ratelimit.Profile{Points: 1, Duration: 100 * time.Millisecond}

	store.Consume(ctx, "recovery-key", profile)
	w, _ := store.Consume(ctx, "recovery-key", profile)
	if w.Count != 2 {
		t.Fatalf("Count = %d, want 2 before recovery", w.Count)
	}

	time.Sleep(150 * time.Millisecond)

	w, err := store.Consume(ctx, "recovery-key", profile)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if w.Count != 1 {
		t.Errorf("Count after recovery = %d, want 1", w.Count)
	}
}

func TestCounterStore_Get(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	profile := ratelimit.Profile{Points: 10, Duration: time.Minute}

	if _, err := store.Get(ctx, "absent-key"); err != ratelimit.ErrKeyNotFound {
		t.Errorf("Get(absent) error = %v, want ErrKeyNotFound", err)
	}

	store.Consume(ctx, "get-key", profile)
	store.Consume(ctx, "get-key", profile)

	w, err := store.Get(ctx, "get-key")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if w.Count != 2 {
		t.Errorf("Count = %d, want 2", w.Count)
	}

	// Get must not record a hit.
	w, _ = store.Get(ctx, "get-key")
	if w.Count != 2 {
		t.Errorf("Count after second Get = %d, want 2", w.Count)
	}
}

func TestCounterStore_GetExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cur := t0
	store.now = func() time.Time { return cur }

	profile := ratelimit.Profile{Points: 10, Duration: time.Minute}
	store.Consume(ctx, "stale-key", profile)

	cur = t0.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "stale-key"); err != ratelimit.ErrKeyNotFound {
		t.Errorf("Get(expired) error = %v, want ErrKeyNotFound", err)
	}
}

func TestCounterStore_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	profile := ratelimit.Profile{Points: 2, Duration: time.Minute}

	for i := 0; i < 3; i++ {
		store.Consume(ctx, "reset-key", profile)
	}
	if err := store.Reset(ctx, "reset-key"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}

	w, err := store.Consume(ctx, "reset-key", profile)
	if err != nil {
		t.Fatalf("Consume() after reset error: %v", err)
	}
	if w.Count != 1 {
		t.Errorf("Count after reset = %d, want 1", w.Count)
	}

	// Resetting an absent key is not an error.
	if err := store.Reset(ctx, "never-seen"); err != nil {
		t.Errorf("Reset(absent) error: %v", err)
	}
}

func TestCounterStore_KeyIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	profile := ratelimit.Profile{Points: 1, Duration: time.Minute}

	for i := 0; i < 5; i++ {
		store.Consume(ctx, "key-1", profile)
	}

	w, err := store.Consume(ctx, "key-2", profile)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if w.Count != 1 {
		t.Errorf("key-2 Count = %d, want 1 (keys are isolated)", w.Count)
	}
}

func TestCounterStore_ConcurrentConsume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	defer store.Close()

	profile := ratelimit.Profile{Points: 50, Duration: time.Minute}

	const n = 100
	var wg sync.WaitGroup
	counts := make(chan int, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := store.Consume(ctx, "concurrent-key", profile)
			if err != nil {
				t.Errorf("Consume() error: %v", err)
				return
			}
			counts <- w.Count
		}()
	}
	wg.Wait()
	close(counts)

	// Atomic increments: every caller must observe a distinct count.
	seen := make(map[int]bool)
	for c := range counts {
		if seen[c] {
			t.Errorf("Count %d observed twice", c)
		}
		seen[c] = true
	}
	if len(seen) != n {
		t.Errorf("observed %d distinct counts, want %d", len(seen), n)
	}

	w, err := store.Get(ctx, "concurrent-key")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if w.Count != n {
		t.Errorf("final Count = %d, want %d", w.Count, n)
	}
}

func TestCounterStoreCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running test in short mode")
	}
	t.Parallel()

	store := NewCounterStoreWithCleanup(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.StartCleanup(ctx)
	defer store.Stop()

	profile := ratelimit.Profile{Points: 10, Duration: 100 * time.Millisecond}

	keys := []string{"cleanup-key-1", "cleanup-key-2", "cleanup-key-3"}
	for _, key := range keys {
		if _, err := store.Consume(ctx, key, profile); err != nil {
			t.Fatalf("Consume() error for %s: %v", key, err)
		}
	}

	if size := store.Size(); size != len(keys) {
		t.Errorf("Size() = %d after adding, want %d", size, len(keys))
	}

	// Wait past the window deadline plus at least one cleanup tick.
	time.Sleep(300 * time.Millisecond)

	if size := store.Size(); size != 0 {
		t.Errorf("Size() = %d after cleanup, want 0", size)
	}
}

func TestCounterStoreNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewCounterStoreWithCleanup(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	store.StartCleanup(ctx)

	profile := ratelimit.Profile{Points: 10, Duration: time.Second}
	for i := 0; i < 10; i++ {
		store.Consume(ctx, "leak-test-key", profile)
	}

	time.Sleep(120 * time.Millisecond)

	cancel()
	store.Stop()
}

func TestCounterStoreConcurrentAccessDuringCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running test in short mode")
	}
	t.Parallel()

	store := NewCounterStoreWithCleanup(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.StartCleanup(ctx)
	defer store.Stop()

	profile := ratelimit.Profile{Points: 100, Duration: 30 * time.Millisecond}

	var wg sync.WaitGroup
	stopCh := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := "churn-key-" + string(rune('a'+(id%26)))
			for {
				select {
				case <-stopCh:
					return
				default:
					if _, err := store.Consume(ctx, key, profile); err != nil {
						t.Errorf("Consume() error: %v", err)
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	time.Sleep(300 * time.Millisecond)
	close(stopCh)
	wg.Wait()
}

func TestCounterStoreStopMultipleCalls(t *testing.T) {
	t.Parallel()

	store := NewCounterStoreWithCleanup(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartCleanup(ctx)

	store.Stop()
	store.Stop()
	if err := store.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
