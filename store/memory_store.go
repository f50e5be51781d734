package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/toolink/throttle/bucket"
)

// DefaultMaxKeys is the default capacity of a MemoryStore.
const DefaultMaxKeys = 10000

// MemoryStore is a fixed-capacity map from key to snapshot that evicts the
// least recently used key once full. It is only suitable for a single process.
type MemoryStore struct {
	cache *lru.Cache[string, bucket.Snapshot]
}

// NewMemoryStore creates a MemoryStore holding at most maxKeys entries.
// A non-positive maxKeys selects DefaultMaxKeys.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	cache, err := lru.NewWithEvict(maxKeys, func(key string, _ bucket.Snapshot) {
		log.Trace().Str("key", key).Msg("bucket evicted from memory store")
	})
	if err != nil {
		// only returned for a non-positive size
		panic("store: " + err.Error())
	}
	log.Debug().Int("max_keys", maxKeys).Msg("memory store created")
	return &MemoryStore{cache: cache}
}

// Mode reports ModeSync.
func (s *MemoryStore) Mode() Mode {
	return ModeSync
}

// Get implements SyncStore.
func (s *MemoryStore) Get(_ context.Context, key string) (bucket.Snapshot, bool, error) {
	snap, ok := s.cache.Get(key)
	return snap, ok, nil
}

// Put implements SyncStore.
func (s *MemoryStore) Put(_ context.Context, key string, snap bucket.Snapshot) error {
	s.cache.Add(key, snap)
	return nil
}

// Remove deletes key, reporting whether it was present.
func (s *MemoryStore) Remove(key string) bool {
	return s.cache.Remove(key)
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

var _ SyncStore = (*MemoryStore)(nil)
