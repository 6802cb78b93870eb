package probe

import (
	"fmt"
	"time"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// Default probe settings.
const (
	DefaultInterval       = 30 * time.Second
	DefaultOpTimeout      = 5 * time.Second
	DefaultRetryInterval  = 10 * time.Millisecond
	DefaultMaxKeyAttempts = 10000
	DefaultKeyPrefix      = "key"
	DefaultExpiration     = 10 * time.Second
)

// probeValue is written under every probe key.
var probeValue = []byte("test")

// Config configures a Prober.
type Config struct {
	// Interval is the time between periodic runs.
	Interval time.Duration
	// OpTimeout bounds a single probe operation.
	OpTimeout time.Duration
	// RetryInterval paces retries against a failing address.
	RetryInterval time.Duration
	// MaxKeyAttempts caps the keys sampled per node during derivation.
	MaxKeyAttempts int
	// KeyPrefix is prepended to every sampled probe key.
	KeyPrefix string
	// Expiration is the expiry of the stored probe value.
	Expiration time.Duration
	// FreezeKeys keeps the key map built by New even when the locator's node
	// set changes. By default the map is re-derived on such a change.
	FreezeKeys bool
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       DefaultInterval,
		OpTimeout:      DefaultOpTimeout,
		RetryInterval:  DefaultRetryInterval,
		MaxKeyAttempts: DefaultMaxKeyAttempts,
		KeyPrefix:      DefaultKeyPrefix,
		Expiration:     DefaultExpiration,
	}
}

// withDefaults fills each zero field with its default.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = d.OpTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxKeyAttempts == 0 {
		c.MaxKeyAttempts = d.MaxKeyAttempts
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.Expiration == 0 {
		c.Expiration = d.Expiration
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	switch {
	case c.Interval < 0:
		return fmt.Errorf("%w: probe interval must be positive, got %v", apperrors.ErrConfiguration, c.Interval)
	case c.OpTimeout < 0:
		return fmt.Errorf("%w: probe op timeout must be positive, got %v", apperrors.ErrConfiguration, c.OpTimeout)
	case c.RetryInterval < 0:
		return fmt.Errorf("%w: probe retry interval must be positive, got %v", apperrors.ErrConfiguration, c.RetryInterval)
	case c.MaxKeyAttempts < 0:
		return fmt.Errorf("%w: max key attempts must be positive, got %d", apperrors.ErrConfiguration, c.MaxKeyAttempts)
	case c.Expiration < 0:
		return fmt.Errorf("%w: probe expiration must not be negative, got %v", apperrors.ErrConfiguration, c.Expiration)
	}
	return nil
}
