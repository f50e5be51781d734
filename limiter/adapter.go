package limiter

import (
	"context"
	"fmt"

	"github.com/toolink/throttle/bucket"
	"github.com/toolink/throttle/store"
)

// adaptStore classifies s by its declared mode and returns it in the
// asynchronous form the limiter drives.
func adaptStore(s store.Store) (store.AsyncStore, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidConfig)
	}

	switch mode := s.Mode(); mode {
	case store.ModeSync:
		syncStore, ok := s.(store.SyncStore)
		if !ok {
			return nil, fmt.Errorf("%w: store %T declares sync mode but does not implement store.SyncStore", ErrInvalidConfig, s)
		}
		return &deferredStore{sync: syncStore}, nil
	case store.ModeAsync:
		asyncStore, ok := s.(store.AsyncStore)
		if !ok {
			return nil, fmt.Errorf("%w: store %T declares async mode but does not implement store.AsyncStore", ErrInvalidConfig, s)
		}
		return asyncStore, nil
	default:
		return nil, fmt.Errorf("%w: unable to detect store %T implementation type (mode %d)", ErrInvalidConfig, s, mode)
	}
}

// deferredStore runs a synchronous store's operations on their own goroutine
// so callbacks never fire inline.
type deferredStore struct {
	sync store.SyncStore
}

func (d *deferredStore) Mode() store.Mode {
	return store.ModeAsync
}

func (d *deferredStore) GetAsync(ctx context.Context, key string, cb store.GetCallback) {
	go func() {
		snap, found, err := d.sync.Get(ctx, key)
		cb(snap, found, err)
	}()
}

func (d *deferredStore) PutAsync(ctx context.Context, key string, snap bucket.Snapshot, cb store.PutCallback) {
	go func() {
		cb(d.sync.Put(ctx, key, snap))
	}()
}

var _ store.AsyncStore = (*deferredStore)(nil)
