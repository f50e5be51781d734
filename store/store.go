// Package store defines the key to bucket-snapshot storage contract used by the
// limiter, together with an in-memory LRU implementation and a Redis one.
//
// A store declares how it is called through Mode. Synchronous stores return
// results directly; asynchronous stores complete through callbacks. The
// limiter adapts synchronous stores so callers always see the asynchronous
// contract.
package store

import (
	"context"

	"github.com/toolink/throttle/bucket"
)

// Mode is the calling convention a store implements.
type Mode int

const (
	// ModeSync stores implement SyncStore.
	ModeSync Mode = iota + 1
	// ModeAsync stores implement AsyncStore.
	ModeAsync
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Store is implemented by every store. Mode declares which of SyncStore or
// AsyncStore the value also implements.
type Store interface {
	Mode() Mode
}

// SyncStore is the direct-return form of the storage contract.
type SyncStore interface {
	Store
	// Get returns the snapshot stored under key, or found=false if there is none.
	Get(ctx context.Context, key string) (snap bucket.Snapshot, found bool, err error)
	// Put stores snap under key, replacing any previous value.
	Put(ctx context.Context, key string, snap bucket.Snapshot) error
}

// GetCallback receives the result of an asynchronous Get.
type GetCallback func(snap bucket.Snapshot, found bool, err error)

// PutCallback receives the result of an asynchronous Put.
type PutCallback func(err error)

// AsyncStore is the callback form of the storage contract.
// Implementations must invoke each callback exactly once.
type AsyncStore interface {
	Store
	GetAsync(ctx context.Context, key string, cb GetCallback)
	PutAsync(ctx context.Context, key string, snap bucket.Snapshot, cb PutCallback)
}
