// Package redlock provides Redis-backed mutual exclusion for throttle keys, so
// limiters in several processes sharing one Redis store can serialize the
// read-consume-write cycle per key.
package redlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// defaultTTL bounds how long a crashed holder can block a key.
	defaultTTL = 1 * time.Second
	// defaultRetryDelay is the wait between acquisition attempts in Lock.
	defaultRetryDelay = 5 * time.Millisecond
	// defaultMaxRetries caps Lock attempts. 0 means retry until ctx ends.
	defaultMaxRetries = 200
)

var (
	// ErrLockNotAcquired is returned when TryLock finds the key held.
	ErrLockNotAcquired = errors.New("redlock: lock not acquired")
	// ErrUnlockFailed is returned when the lock expired or is held by someone else.
	ErrUnlockFailed = errors.New("redlock: failed to unlock")
	// ErrLockWaitTimeout is returned when ctx ends while waiting for the lock.
	ErrLockWaitTimeout = errors.New("redlock: waiting for lock timed out or context cancelled")
	// ErrLockMaxRetriesExceeded is returned when Lock gives up after maxRetries attempts.
	ErrLockMaxRetriesExceeded = errors.New("redlock: maximum lock retries exceeded")
)

// unlockScript deletes KEYS[1] only while it still holds ARGV[1].
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

type settings struct {
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

func defaultSettings() settings {
	return settings{
		ttl:        defaultTTL,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
}

// Option configures lock behavior.
type Option func(*settings)

// WithTTL sets the lock expiry. Default is 1 second.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRetryDelay sets the wait between attempts in Lock. Default is 5ms.
func WithRetryDelay(delay time.Duration) Option {
	return func(s *settings) {
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithMaxRetries caps the attempts made by Lock. 0 retries until ctx ends.
func WithMaxRetries(retries int) Option {
	return func(s *settings) {
		if retries >= 0 {
			s.maxRetries = retries
		}
	}
}

// Locker is a single lock on one Redis key. It is not safe for concurrent use.
type Locker struct {
	client redis.Cmdable
	key    string
	value  string // set while held
	settings
}

// NewLocker creates a Locker for key.
func NewLocker(client redis.Cmdable, key string, opts ...Option) *Locker {
	l := &Locker{
		client:   client,
		key:      key,
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		opt(&l.settings)
	}
	return l
}

// tryLock performs one SET NX attempt and returns the value written.
func (l *Locker) tryLock(ctx context.Context) (string, error) {
	value := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", ErrLockWaitTimeout
		}
		log.Error().Err(err).Str("key", l.key).Msg("failed to execute setnx command")
		return "", err
	}
	if !ok {
		return "", ErrLockNotAcquired
	}
	return value, nil
}

// TryLock acquires the lock without waiting.
func (l *Locker) TryLock(ctx context.Context) error {
	value, err := l.tryLock(ctx)
	if err != nil {
		return err
	}
	l.value = value
	log.Trace().Str("key", l.key).Msg("lock acquired")
	return nil
}

// Lock acquires the lock, retrying every retryDelay until ctx ends or
// maxRetries attempts have failed.
func (l *Locker) Lock(ctx context.Context) error {
	value, err := l.tryLock(ctx)
	if err == nil {
		l.value = value
		return nil
	}
	if !errors.Is(err, ErrLockNotAcquired) {
		return err
	}

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for retries := 1; ; retries++ {
		select {
		case <-ctx.Done():
			log.Debug().Err(ctx.Err()).Str("key", l.key).Int("retries", retries-1).Msg("gave up waiting for lock")
			return ErrLockWaitTimeout
		case <-ticker.C:
		}

		value, err := l.tryLock(ctx)
		if err == nil {
			l.value = value
			log.Trace().Str("key", l.key).Int("retries", retries).Msg("lock acquired after waiting")
			return nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return err
		}
		if l.maxRetries > 0 && retries >= l.maxRetries {
			log.Warn().Str("key", l.key).Int("retries", retries).Msg("maximum lock retries exceeded")
			return ErrLockMaxRetriesExceeded
		}
	}
}

// Unlock releases the lock if this Locker still holds it.
func (l *Locker) Unlock(ctx context.Context) error {
	if l.value == "" {
		return ErrUnlockFailed
	}
	held := l.value
	l.value = ""

	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, held).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// already expired
			return nil
		}
		log.Error().Err(err).Str("key", l.key).Msg("failed to execute unlock script")
		return err
	}
	if n, ok := res.(int64); ok && n == 1 {
		return nil
	}

	log.Warn().Str("key", l.key).Interface("script_result", res).Msg("unlock failed: lock expired or re-acquired elsewhere")
	return ErrUnlockFailed
}

// Key returns the Redis key guarded by this Locker.
func (l *Locker) Key() string {
	return l.key
}

// Held reports whether this Locker believes it holds the lock.
func (l *Locker) Held() bool {
	return l.value != ""
}
