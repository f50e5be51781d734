package limiter

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/toolink/throttle/store"
)

// Override replaces the global limits for a single key. It only takes effect
// when both Rate and Burst are set; Window is optional and falls back to the
// global window. A zero Rate or Burst makes the key unlimited.
type Override struct {
	Rate   *float64 `toml:"rate"`
	Burst  *float64 `toml:"burst"`
	Window *float64 `toml:"window"` // milliseconds
}

// Limit builds an override with the given rate and burst.
func Limit(rate, burst float64) Override {
	return Override{Rate: &rate, Burst: &burst}
}

// Unlimited builds an override that exempts a key from throttling.
func Unlimited() Override {
	return Limit(0, 0)
}

// WithWindow returns a copy of o using window milliseconds.
func (o Override) WithWindow(window float64) Override {
	o.Window = &window
	return o
}

func (o Override) complete() bool {
	return o.Rate != nil && o.Burst != nil
}

// Config holds the limiter configuration. It is copied by New and not
// consulted again afterwards.
type Config struct {
	Rate        float64             `toml:"rate"`         // tokens added per window (required)
	Burst       float64             `toml:"burst"`        // bucket capacity, defaults to Rate
	Window      float64             `toml:"window"`       // milliseconds, defaults to 1000
	MaxKeys     int                 `toml:"max_keys"`     // memory store capacity
	StorageType string              `toml:"storage_type"` // "memory" or "redis"
	KeyPrefix   string              `toml:"key_prefix"`   // redis only
	KeyTTL      time.Duration       `toml:"key_ttl"`      // redis only, 0 disables expiry
	Overrides   map[string]Override `toml:"overrides"`
}

// ValidateAndPrepare validates the raw config and fills in defaults.
func (c *Config) ValidateAndPrepare() error {
	if !validNumber(c.Rate) {
		return fmt.Errorf("%w: rate must be a non-negative number, got %v", ErrInvalidConfig, c.Rate)
	}
	if !validNumber(c.Burst) {
		return fmt.Errorf("%w: burst must be a non-negative number, got %v", ErrInvalidConfig, c.Burst)
	}
	if !validNumber(c.Window) {
		return fmt.Errorf("%w: window must be a non-negative number, got %v", ErrInvalidConfig, c.Window)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("%w: max_keys must not be negative, got %d", ErrInvalidConfig, c.MaxKeys)
	}
	if c.KeyTTL < 0 {
		return fmt.Errorf("%w: key_ttl must not be negative, got %s", ErrInvalidConfig, c.KeyTTL)
	}

	if c.Burst == 0 {
		c.Burst = c.Rate
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.MaxKeys == 0 {
		c.MaxKeys = store.DefaultMaxKeys
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = store.DefaultKeyPrefix
	}

	switch c.StorageType {
	case "":
		c.StorageType = StorageMemory
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("%w: invalid storage_type: %s, must be '%s' or '%s'", ErrInvalidConfig, c.StorageType, StorageMemory, StorageRedis)
	}

	for key, o := range c.Overrides {
		if o.Rate != nil && !validNumber(*o.Rate) {
			return fmt.Errorf("%w: override for key '%s' has invalid rate: %v", ErrInvalidConfig, key, *o.Rate)
		}
		if o.Burst != nil && !validNumber(*o.Burst) {
			return fmt.Errorf("%w: override for key '%s' has invalid burst: %v", ErrInvalidConfig, key, *o.Burst)
		}
		if o.Window != nil && (!validNumber(*o.Window) || *o.Window == 0) {
			return fmt.Errorf("%w: override for key '%s' has invalid window: %v, must be positive", ErrInvalidConfig, key, *o.Window)
		}
		if !o.complete() {
			log.Warn().Str("key", key).Msg("override without both rate and burst is ignored")
		}
	}
	return nil
}

// clone returns a deep copy so the caller's maps cannot change a running limiter.
func (c *Config) clone() *Config {
	cp := *c
	if c.Overrides != nil {
		cp.Overrides = make(map[string]Override, len(c.Overrides))
		for key, o := range c.Overrides {
			cp.Overrides[key] = Override{
				Rate:   copyFloat(o.Rate),
				Burst:  copyFloat(o.Burst),
				Window: copyFloat(o.Window),
			}
		}
	}
	return &cp
}

// LoadConfig reads a TOML config file. The result still goes through
// ValidateAndPrepare when passed to New.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig reads a TOML config. A document without a rate is rejected.
func DecodeConfig(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: decode toml: %w", ErrInvalidConfig, err)
	}
	if !md.IsDefined("rate") {
		return nil, fmt.Errorf("%w: rate is required", ErrInvalidConfig)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		log.Warn().Strs("keys", keys).Msg("unknown limiter config keys ignored")
	}
	return &cfg, nil
}

func validNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
