package counter

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	scope  Scope
	window Window
	start  int64 // unix seconds of the window start
}

// MemoryStore keeps counters in a mutex-protected map. Entries for expired
// windows are pruned lazily on access and by a background sweep.
type MemoryStore struct {
	mu       sync.Mutex
	counts   map[memoryKey]int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an in-process counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counts: make(map[memoryKey]int64),
		stopCh: make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) IncrementAndGet(_ context.Context, scope Scope, window Window, now time.Time) (int64, error) {
	key := memoryKey{scope: scope, window: window, start: window.Start(now).Unix()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryStore) Peek(_ context.Context, scope Scope, window Window, now time.Time) (int64, error) {
	key := memoryKey{scope: scope, window: window, start: window.Start(now).Unix()}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// sweep drops counters whose windows have expired. Stale entries are
// harmless for correctness since keys embed the window start, but they
// accumulate without cleanup.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key := range s.counts {
				end := time.Unix(key.start, 0).Add(key.window.Duration())
				if now.After(end) {
					delete(s.counts, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
