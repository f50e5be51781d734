package redlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/throttle/limiter"
	"github.com/toolink/throttle/store"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return server, client
}

func TestLocker_TryLockAndUnlock(t *testing.T) {
	server, client := newTestRedis(t)
	ctx := context.Background()

	a := NewLocker(client, "lock:k", WithTTL(time.Minute))
	b := NewLocker(client, "lock:k")

	require.NoError(t, a.TryLock(ctx))
	assert.True(t, a.Held())
	assert.True(t, server.Exists("lock:k"))
	assert.Equal(t, time.Minute, server.TTL("lock:k"))

	assert.ErrorIs(t, b.TryLock(ctx), ErrLockNotAcquired)
	assert.ErrorIs(t, b.Unlock(ctx), ErrUnlockFailed, "b never held the lock")

	require.NoError(t, a.Unlock(ctx))
	assert.False(t, a.Held())
	assert.False(t, server.Exists("lock:k"))

	require.NoError(t, b.TryLock(ctx))
}

func TestLocker_UnlockAfterExpiry(t *testing.T) {
	server, client := newTestRedis(t)
	ctx := context.Background()

	a := NewLocker(client, "lock:k", WithTTL(time.Second))
	require.NoError(t, a.TryLock(ctx))
	server.FastForward(2 * time.Second)

	b := NewLocker(client, "lock:k", WithTTL(time.Minute))
	require.NoError(t, b.TryLock(ctx))

	assert.ErrorIs(t, a.Unlock(ctx), ErrUnlockFailed, "lock was re-acquired by b")
	assert.True(t, server.Exists("lock:k"))
}

func TestLocker_LockWaits(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	a := NewLocker(client, "lock:k", WithTTL(time.Minute))
	require.NoError(t, a.TryLock(ctx))

	go func() {
		time.Sleep(30 * time.Millisecond)
		assert.NoError(t, a.Unlock(context.Background()))
	}()

	b := NewLocker(client, "lock:k", WithRetryDelay(5*time.Millisecond), WithMaxRetries(0))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, b.Lock(waitCtx))
	assert.True(t, b.Held())
}

func TestLocker_LockGivesUp(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, NewLocker(client, "lock:k", WithTTL(time.Minute)).TryLock(ctx))

	b := NewLocker(client, "lock:k", WithRetryDelay(time.Millisecond), WithMaxRetries(3))
	assert.ErrorIs(t, b.Lock(ctx), ErrLockMaxRetriesExceeded)

	c := NewLocker(client, "lock:k", WithRetryDelay(time.Millisecond), WithMaxRetries(0))
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Lock(waitCtx), ErrLockWaitTimeout)
}

func TestKeyLocker_SerializesLimiters(t *testing.T) {
	server, client := newTestRedis(t)
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }
	locks := NewKeyLocker(client, "", WithRetryDelay(time.Millisecond))

	// two processes sharing one redis
	limiters := make([]*limiter.Limiter, 2)
	for i := range limiters {
		l, err := limiter.New(&limiter.Config{Rate: 1, Burst: 1},
			limiter.WithStore(store.NewRedisStore(client)),
			limiter.WithKeyLocker(locks),
			limiter.WithClock(clock),
		)
		require.NoError(t, err)
		limiters[i] = l
	}

	var wg sync.WaitGroup
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(l *limiter.Limiter) {
			defer wg.Done()
			limited, err := l.Limited(context.Background(), "user-1")
			assert.NoError(t, err)
			results <- limited
		}(limiters[i%2])
	}
	wg.Wait()
	close(results)

	admitted := 0
	for limited := range results {
		if !limited {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.False(t, server.Exists(DefaultKeyPrefix+"user-1"), "locks are released")
}
