package limiter

// Storage types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// DefaultWindow is the refill window, in milliseconds, used when none is configured.
const DefaultWindow = 1000
