package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolink/throttle/bucket"
	"github.com/toolink/throttle/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(ms int64) *fakeClock {
	return &fakeClock{t: time.UnixMilli(ms)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.UnixMilli(ms)
}

// countingStore wraps a MemoryStore and counts calls.
type countingStore struct {
	*store.MemoryStore
	gets atomic.Int32
	puts atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore(100)}
}

func (s *countingStore) Get(ctx context.Context, key string) (bucket.Snapshot, bool, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, key)
}

func (s *countingStore) Put(ctx context.Context, key string, snap bucket.Snapshot) error {
	s.puts.Add(1)
	return s.MemoryStore.Put(ctx, key, snap)
}

var errBackend = errors.New("backend unavailable")

// failingStore returns configurable errors from a MemoryStore.
type failingStore struct {
	*countingStore
	getErr error
	putErr error
}

func (s *failingStore) Get(ctx context.Context, key string) (bucket.Snapshot, bool, error) {
	if s.getErr != nil {
		s.gets.Add(1)
		return bucket.Snapshot{}, false, s.getErr
	}
	return s.countingStore.Get(ctx, key)
}

func (s *failingStore) Put(ctx context.Context, key string, snap bucket.Snapshot) error {
	if s.putErr != nil {
		s.puts.Add(1)
		return s.putErr
	}
	return s.countingStore.Put(ctx, key, snap)
}

// barrierStore reads, then holds every Get until n of them have arrived or
// the wait times out, so the first n readers all see the same snapshot.
type barrierStore struct {
	*store.MemoryStore
	n       int
	wait    time.Duration
	mu      sync.Mutex
	arrived int
	ready   chan struct{}
}

func newBarrierStore(n int, wait time.Duration) *barrierStore {
	return &barrierStore{
		MemoryStore: store.NewMemoryStore(100),
		n:           n,
		wait:        wait,
		ready:       make(chan struct{}),
	}
}

func (s *barrierStore) Get(ctx context.Context, key string) (bucket.Snapshot, bool, error) {
	snap, found, err := s.MemoryStore.Get(ctx, key)

	s.mu.Lock()
	s.arrived++
	if s.arrived == s.n {
		close(s.ready)
	}
	s.mu.Unlock()

	select {
	case <-s.ready:
	case <-time.After(s.wait):
	}
	return snap, found, err
}

// modeOnly declares a mode without implementing the matching interface.
type modeOnly struct {
	mode store.Mode
}

func (m modeOnly) Mode() store.Mode { return m.mode }

// silentStore never answers.
type silentStore struct{}

func (silentStore) Mode() store.Mode { return store.ModeAsync }

func (silentStore) GetAsync(context.Context, string, store.GetCallback) {}

func (silentStore) PutAsync(context.Context, string, bucket.Snapshot, store.PutCallback) {}
