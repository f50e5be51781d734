package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolink/throttle/bucket"
)

// DefaultKeyPrefix namespaces bucket hashes in Redis.
const DefaultKeyPrefix = "throttle:bucket:"

// RedisStore keeps each snapshot in a Redis hash. Its operations run on their
// own goroutine and complete through callbacks.
type RedisStore struct {
	client redis.Cmdable // Cmdable keeps ClusterClient and friends usable
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the prefix prepended to every key. Defaults to DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL expires a bucket that has not been written for ttl, so idle keys do
// not accumulate. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl < 0 {
			log.Warn().Dur("invalid_ttl", ttl).Msg("ignoring negative redis store ttl")
			return
		}
		s.ttl = ttl
	}
}

// NewRedisStore creates a RedisStore on a pre-configured client.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	s := &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode reports ModeAsync.
func (s *RedisStore) Mode() Mode {
	return ModeAsync
}

// GetAsync implements AsyncStore.
func (s *RedisStore) GetAsync(ctx context.Context, key string, cb GetCallback) {
	go func() {
		snap, found, err := s.get(ctx, key)
		cb(snap, found, err)
	}()
}

// PutAsync implements AsyncStore.
func (s *RedisStore) PutAsync(ctx context.Context, key string, snap bucket.Snapshot, cb PutCallback) {
	go func() {
		cb(s.put(ctx, key, snap))
	}()
}

func (s *RedisStore) get(ctx context.Context, key string) (bucket.Snapshot, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis hgetall failed")
		return bucket.Snapshot{}, false, fmt.Errorf("redis get for key %s: %w", key, err)
	}
	if len(fields) == 0 {
		return bucket.Snapshot{}, false, nil
	}
	// hash values come back as strings
	return bucket.ParseFields(fields), true, nil
}

func (s *RedisStore) put(ctx context.Context, key string, snap bucket.Snapshot) error {
	redisKey := s.redisKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, snap.Fields())
		if s.ttl > 0 {
			pipe.PExpire(ctx, redisKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis hset failed")
		return fmt.Errorf("redis put for key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

var _ AsyncStore = (*RedisStore)(nil)
