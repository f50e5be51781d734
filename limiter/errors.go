package limiter

import "errors"

var (
	// ErrInvalidConfig is returned by New and LoadConfig when the configuration
	// or the supplied store cannot be used. Construction does not complete.
	ErrInvalidConfig = errors.New("limiter: invalid configuration")
	// ErrLookup wraps a failure to read a bucket (or to lock its key). No
	// admission decision accompanies it; the caller picks fail-open or fail-closed.
	ErrLookup = errors.New("limiter: unable to check token table")
	// ErrPersist wraps a failure to save a bucket. It is informational: the
	// decision reported alongside it is still correct.
	ErrPersist = errors.New("limiter: unable to save token table")
)
