package limiter

import (
	"context"
	"sync"
)

// KeyLocker serializes the read-consume-write cycle for a key. Without one,
// concurrent checks on the same key may read the same snapshot and admit
// more requests than the burst allows.
type KeyLocker interface {
	// Lock blocks until key is held or ctx ends. The returned function
	// releases the key.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyMutex is an in-process KeyLocker. Entries are dropped once no caller
// holds or waits for them.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyMutex creates an empty KeyMutex.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{
		locks: make(map[string]*keyLock),
	}
}

// Lock implements KeyLocker.
func (m *KeyMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			m.release(key, kl)
		})
	}, nil
}

func (m *KeyMutex) release(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *KeyMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

var _ KeyLocker = (*KeyMutex)(nil)
