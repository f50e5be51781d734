package redlock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolink/throttle/limiter"
)

// DefaultKeyPrefix namespaces lock keys in Redis.
const DefaultKeyPrefix = "throttle:lock:"

// KeyLocker hands out a Redis lock per throttle key. It implements
// limiter.KeyLocker.
type KeyLocker struct {
	client redis.Cmdable
	prefix string
	opts   []Option
}

// NewKeyLocker creates a KeyLocker. The options apply to every lock it takes.
func NewKeyLocker(client redis.Cmdable, prefix string, opts ...Option) *KeyLocker {
	if client == nil {
		panic("redlock: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KeyLocker{
		client: client,
		prefix: prefix,
		opts:   opts,
	}
}

// Lock implements limiter.KeyLocker.
func (k *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := NewLocker(k.client, k.prefix+key, k.opts...)
	if err := l.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.Key(), err)
	}

	return func() {
		// the caller's context may already be done once the check completes
		unlockCtx, cancel := context.WithTimeout(context.Background(), l.ttl)
		defer cancel()
		if err := l.Unlock(unlockCtx); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release throttle key lock")
		}
	}, nil
}

var _ limiter.KeyLocker = (*KeyLocker)(nil)
