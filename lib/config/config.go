// Package config resolves the pool configuration for a cachepool client.
//
// Resolution runs in three layers, each field independently:
//
//  1. compiled defaults (DefaultPoolConfig)
//  2. an optional property source using the keys in the Key* constants
//  3. explicit per-field Options
//
// A blank or missing property keeps the default without affecting sibling
// fields. Unknown properties are ignored. A value that cannot be parsed is a
// configuration error rather than a silent zero.
package config

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// Default configuration values
const (
	DefaultMaxIdle                 = 10
	DefaultMaxActive               = 20
	DefaultMaxTotal                = -1
	DefaultMaxWait                 = time.Duration(-1)
	DefaultWhenExhausted           = ExhaustBlock
	DefaultTestOnBorrow            = true
	DefaultTestOnReturn            = false
	DefaultTestWhileIdle           = true
	DefaultTimeBetweenEvictionRuns = 30 * time.Second
	DefaultNumTestsPerEvictionRun  = 3
	DefaultMinEvictableIdleTime    = 30 * time.Minute
	DefaultHandleTTL               = 300000 * time.Millisecond
)

// ExhaustionPolicy selects what Acquire does when no handle can be issued
// within the configured limits. The numeric values match the byte codes
// accepted by the whenExhaustedAction property.
type ExhaustionPolicy uint8

const (
	// ExhaustFail returns ErrPoolExhausted immediately.
	ExhaustFail ExhaustionPolicy = iota
	// ExhaustBlock waits up to MaxWait for a release.
	ExhaustBlock
	// ExhaustGrow creates a handle past MaxActive. MaxTotal still applies.
	ExhaustGrow
)

func (p ExhaustionPolicy) String() string {
	switch p {
	case ExhaustFail:
		return "fail"
	case ExhaustBlock:
		return "block"
	case ExhaustGrow:
		return "grow"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the known policies.
func (p ExhaustionPolicy) Valid() bool {
	return p <= ExhaustGrow
}

// ParseExhaustionPolicy parses a policy name (fail, block, grow), case
// insensitive.
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail":
		return ExhaustFail, nil
	case "block":
		return ExhaustBlock, nil
	case "grow":
		return ExhaustGrow, nil
	default:
		return 0, fmt.Errorf("unknown exhaustion policy %q: %w", s, apperrors.ErrConfiguration)
	}
}

// PoolConfig holds the sizing, validation and eviction settings of a pool.
// It is a plain value: build it once and pass it to the pool.
type PoolConfig struct {
	// MaxIdle is the idle-set size the eviction task trims down to.
	// It is not enforced on release.
	MaxIdle int
	// MaxActive caps handles issued to callers. Zero or negative means no cap.
	MaxActive int
	// MaxTotal caps active plus idle handles. Zero or negative means unset.
	MaxTotal int
	// MaxWait bounds how long a blocking Acquire waits. Negative waits until
	// the caller's context is done; zero fails immediately.
	MaxWait time.Duration
	// WhenExhausted selects the exhaustion policy.
	WhenExhausted ExhaustionPolicy
	// TestOnBorrow validates idle handles before issuing them.
	TestOnBorrow bool
	// TestOnReturn validates handles on release.
	TestOnReturn bool
	// TestWhileIdle validates idle handles during eviction runs.
	TestWhileIdle bool
	// TimeBetweenEvictionRuns is the eviction period. Zero or negative
	// disables the eviction task.
	TimeBetweenEvictionRuns time.Duration
	// NumTestsPerEvictionRun is how many idle handles one run inspects.
	// A negative value -n inspects ceil(idle/n) handles.
	NumTestsPerEvictionRun int
	// MinEvictableIdleTime is how long a handle may sit idle before the
	// eviction task destroys it. Zero or negative disables idle-time eviction.
	MinEvictableIdleTime time.Duration
	// HandleTTL is the liveness window measured from a handle's last access.
	HandleTTL time.Duration
}

// DefaultPoolConfig returns the compiled defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:                 DefaultMaxIdle,
		MaxActive:               DefaultMaxActive,
		MaxTotal:                DefaultMaxTotal,
		MaxWait:                 DefaultMaxWait,
		WhenExhausted:           DefaultWhenExhausted,
		TestOnBorrow:            DefaultTestOnBorrow,
		TestOnReturn:            DefaultTestOnReturn,
		TestWhileIdle:           DefaultTestWhileIdle,
		TimeBetweenEvictionRuns: DefaultTimeBetweenEvictionRuns,
		NumTestsPerEvictionRun:  DefaultNumTestsPerEvictionRun,
		MinEvictableIdleTime:    DefaultMinEvictableIdleTime,
		HandleTTL:               DefaultHandleTTL,
	}
}

// HasMaxTotal reports whether the total cap is set.
func (c PoolConfig) HasMaxTotal() bool {
	return c.MaxTotal > 0
}

// BlocksIndefinitely reports whether a blocking Acquire waits without a
// pool-imposed deadline.
func (c PoolConfig) BlocksIndefinitely() bool {
	return c.MaxWait < 0
}

// Validate checks the configuration for errors.
func (c PoolConfig) Validate() error {
	if c.MaxIdle < 0 {
		return fmt.Errorf("%w: maxIdle cannot be negative", apperrors.ErrConfiguration)
	}
	if !c.WhenExhausted.Valid() {
		return fmt.Errorf("%w: unknown exhaustion policy %d", apperrors.ErrConfiguration, c.WhenExhausted)
	}
	if c.HandleTTL <= 0 {
		return fmt.Errorf("%w: handle TTL must be positive", apperrors.ErrConfiguration)
	}
	if c.WhenExhausted == ExhaustGrow && c.MaxActive > 0 && !c.HasMaxTotal() {
		log.WithField("maxActive", c.MaxActive).Debug("grow policy without maxTotal: pool size is unbounded")
	}
	return nil
}

// Option overrides a single field after defaults and properties are applied.
type Option func(*PoolConfig)

// WithMaxIdle overrides MaxIdle.
func WithMaxIdle(n int) Option {
	return func(c *PoolConfig) { c.MaxIdle = n }
}

// WithMaxActive overrides MaxActive.
func WithMaxActive(n int) Option {
	return func(c *PoolConfig) { c.MaxActive = n }
}

// WithMaxTotal overrides MaxTotal.
func WithMaxTotal(n int) Option {
	return func(c *PoolConfig) { c.MaxTotal = n }
}

// WithMaxWait overrides MaxWait.
func WithMaxWait(d time.Duration) Option {
	return func(c *PoolConfig) { c.MaxWait = d }
}

// WithExhaustionPolicy overrides WhenExhausted.
func WithExhaustionPolicy(p ExhaustionPolicy) Option {
	return func(c *PoolConfig) { c.WhenExhausted = p }
}

// WithTestOnBorrow overrides TestOnBorrow.
func WithTestOnBorrow(v bool) Option {
	return func(c *PoolConfig) { c.TestOnBorrow = v }
}

// WithTestOnReturn overrides TestOnReturn.
func WithTestOnReturn(v bool) Option {
	return func(c *PoolConfig) { c.TestOnReturn = v }
}

// WithTestWhileIdle overrides TestWhileIdle.
func WithTestWhileIdle(v bool) Option {
	return func(c *PoolConfig) { c.TestWhileIdle = v }
}

// WithEviction overrides the eviction cadence and thresholds together.
func WithEviction(interval time.Duration, numTests int, minIdle time.Duration) Option {
	return func(c *PoolConfig) {
		c.TimeBetweenEvictionRuns = interval
		c.NumTestsPerEvictionRun = numTests
		c.MinEvictableIdleTime = minIdle
	}
}

// WithHandleTTL overrides HandleTTL.
func WithHandleTTL(d time.Duration) Option {
	return func(c *PoolConfig) { c.HandleTTL = d }
}
