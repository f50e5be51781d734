// Package limiter decides, per key, whether a unit of work is admitted under a
// token-bucket rate limit. Bucket state lives in a pluggable store so decisions
// stay consistent across successive checks.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolink/throttle/bucket"
	"github.com/toolink/throttle/store"
)

// Callback receives the outcome of Check. It is invoked exactly once.
// With a nil error or an ErrPersist error, limited is the admission decision.
// With an ErrLookup error, limited carries no meaning.
type Callback func(err error, limited bool)

// Limiter throttles keys with independent token buckets.
//
// Checks on the same key are not serialized unless a KeyLocker is configured:
// concurrent checks may each read the same snapshot and each be admitted,
// briefly exceeding the burst.
type Limiter struct {
	rate      float64
	burst     float64
	window    float64
	overrides map[string]Override
	store     store.AsyncStore
	locker    KeyLocker
	clock     func() time.Time
}

// Option configures a Limiter.
type Option func(*options)

type options struct {
	store       store.Store
	redisClient redis.Cmdable
	locker      KeyLocker
	clock       func() time.Time
}

// WithStore sets the backing store. The same store may back several
// limiters, though sharing keys between them makes them interfere.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithRedisClient provides the client used when StorageType is "redis" and no
// store is given explicitly.
func WithRedisClient(client redis.Cmdable) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithKeyLocker serializes checks per key through locker.
func WithKeyLocker(locker KeyLocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithClock sets the time source for buckets. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// New creates a Limiter. It fails with ErrInvalidConfig when cfg is invalid
// or the store's mode cannot be classified.
func New(cfg *Config, opts ...Option) (*Limiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	c := cfg.clone()
	if err := c.ValidateAndPrepare(); err != nil {
		return nil, err
	}

	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	backing := o.store
	if backing == nil {
		switch c.StorageType {
		case StorageRedis:
			if o.redisClient == nil {
				return nil, fmt.Errorf("%w: storage_type %s requires a redis client", ErrInvalidConfig, StorageRedis)
			}
			log.Info().Str("prefix", c.KeyPrefix).Dur("ttl", c.KeyTTL).Msg("initializing limiter with redis store")
			backing = store.NewRedisStore(o.redisClient, store.WithKeyPrefix(c.KeyPrefix), store.WithTTL(c.KeyTTL))
		default:
			log.Info().Int("max_keys", c.MaxKeys).Msg("initializing limiter with memory store")
			backing = store.NewMemoryStore(c.MaxKeys)
		}
	}

	async, err := adaptStore(backing)
	if err != nil {
		log.Error().Err(err).Msg("unusable limiter store")
		return nil, err
	}

	return &Limiter{
		rate:      c.Rate,
		burst:     c.Burst,
		window:    c.Window,
		overrides: c.Overrides,
		store:     async,
		locker:    o.locker,
		clock:     o.clock,
	}, nil
}

// Check decides whether key may proceed and reports the result through cb.
//
// An empty key is never limited and never touches the store; neither is a key
// whose effective rate or burst is zero. In those cases cb runs before Check
// returns. Otherwise cb runs on another goroutine once the bucket has been
// loaded, consumed from and written back.
func (l *Limiter) Check(ctx context.Context, key string, cb Callback) {
	if key == "" {
		cb(nil, false)
		return
	}

	lim := l.resolve(key)
	if lim.rate == 0 || lim.burst == 0 {
		log.Trace().Str("key", key).Msg("key is unlimited, skipping")
		cb(nil, false)
		return
	}

	if l.locker == nil {
		l.consume(ctx, key, lim, cb)
		return
	}

	go func() {
		unlock, err := l.locker.Lock(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to lock throttle key")
			cb(fmt.Errorf("%w: lock key %s: %w", ErrLookup, key, err), false)
			return
		}
		l.consume(ctx, key, lim, func(err error, limited bool) {
			unlock()
			cb(err, limited)
		})
	}()
}

// Limited is a blocking form of Check. It returns ctx.Err() if ctx ends
// before the decision is available.
func (l *Limiter) Limited(ctx context.Context, key string) (bool, error) {
	type result struct {
		limited bool
		err     error
	}
	done := make(chan result, 1)
	l.Check(ctx, key, func(err error, limited bool) {
		done <- result{limited: limited, err: err}
	})

	select {
	case res := <-done:
		return res.limited, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// consume runs the get, consume, put cycle for key.
func (l *Limiter) consume(ctx context.Context, key string, lim limits, cb Callback) {
	l.store.GetAsync(ctx, key, func(snap bucket.Snapshot, found bool, err error) {
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("token table lookup failed")
			cb(fmt.Errorf("%w: key %s: %w", ErrLookup, key, err), false)
			return
		}

		var b *bucket.Bucket
		if found {
			b = bucket.FromSnapshot(snap, bucket.WithClock(l.clock))
		} else {
			b = bucket.New(lim.burst, lim.rate, lim.window, bucket.WithClock(l.clock))
		}

		admitted := b.Consume(1)
		if !admitted {
			log.Debug().Str("key", key).Float64("tokens", b.Tokens()).Msg("rate limit exceeded")
		}

		// depletion is recorded even when the request is rejected
		l.store.PutAsync(ctx, key, b.Snapshot(), func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to save token bucket")
				err = fmt.Errorf("%w: key %s: %w", ErrPersist, key, err)
			}
			cb(err, !admitted)
		})
	})
}

type limits struct {
	rate   float64
	burst  float64
	window float64
}

// resolve returns the limits in effect for key.
func (l *Limiter) resolve(key string) limits {
	lim := limits{rate: l.rate, burst: l.burst, window: l.window}

	o, ok := l.overrides[key]
	if !ok || !o.complete() {
		return lim
	}
	lim.rate = *o.Rate
	lim.burst = *o.Burst
	if o.Window != nil {
		lim.window = *o.Window
	}
	return lim
}
