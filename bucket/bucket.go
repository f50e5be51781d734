// Package bucket implements the token-bucket state machine used by the limiter.
//
// A Bucket holds up to Capacity tokens and refills continuously at FillRate
// tokens per Window milliseconds. Refill is computed lazily from the time elapsed
// since the bucket was last touched, so idle buckets cost nothing.
package bucket

import (
	"math"
	"time"
)

// DefaultWindow is the window, in milliseconds, used when a snapshot carries
// no usable window.
const DefaultWindow = 1000

// Bucket is a single token bucket. It is not safe for concurrent use; the
// limiter materializes one per admission check.
type Bucket struct {
	capacity    float64
	tokens      float64
	fillRate    float64 // tokens per window
	window      float64 // milliseconds
	lastTouched int64   // unix milliseconds
	now         func() time.Time
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a full bucket.
func New(capacity, fillRate, window float64, opts ...Option) *Bucket {
	return FromSnapshot(Snapshot{
		Capacity: capacity,
		Tokens:   math.NaN(),
		FillRate: fillRate,
		Window:   window,
	}, opts...)
}

// FromSnapshot reconstructs a bucket from a stored snapshot.
// A NaN token count starts the bucket full and a zero LastTouched means now.
func FromSnapshot(s Snapshot, opts ...Option) *Bucket {
	b := &Bucket{
		capacity:    finiteOrZero(s.Capacity),
		fillRate:    finiteOrZero(s.FillRate),
		window:      s.Window,
		lastTouched: s.LastTouched,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	if math.IsNaN(b.window) || math.IsInf(b.window, 0) || b.window <= 0 {
		b.window = DefaultWindow
	}

	b.tokens = s.Tokens
	if math.IsNaN(b.tokens) {
		b.tokens = b.capacity
	}
	b.tokens = math.Max(0, math.Min(b.capacity, b.tokens))

	if b.lastTouched == 0 {
		b.lastTouched = b.nowMillis()
	}
	return b
}

// Consume takes n tokens if they are available after refilling.
// It is all-or-nothing: on failure the token count is left as refilled.
func (b *Bucket) Consume(n float64) bool {
	if n <= b.refill() {
		b.tokens -= n
		return true
	}
	return false
}

// refill tops up tokens for the time elapsed since lastTouched and returns
// the available count.
func (b *Bucket) refill() float64 {
	now := b.nowMillis()

	// clock moved backwards: treat it as a full window elapsed
	if now < b.lastTouched {
		b.lastTouched = now - int64(b.window)
	}

	if b.tokens < b.capacity {
		delta := (b.fillRate / b.window) * float64(now-b.lastTouched)
		b.tokens = math.Min(b.capacity, b.tokens+delta)
	}

	b.lastTouched = now
	return b.tokens
}

// Tokens returns the token count as of the last refill.
func (b *Bucket) Tokens() float64 {
	return b.tokens
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() float64 {
	return b.capacity
}

// Snapshot returns the bucket state as a plain record.
func (b *Bucket) Snapshot() Snapshot {
	return Snapshot{
		Capacity:    b.capacity,
		Tokens:      b.tokens,
		FillRate:    b.fillRate,
		Window:      b.window,
		LastTouched: b.lastTouched,
	}
}

func (b *Bucket) nowMillis() int64 {
	return b.now().UnixMilli()
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
