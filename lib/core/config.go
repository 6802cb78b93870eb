// Package core wires the handle pool and the node prober into a single
// cache client configured from a TOML file.
package core

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"

	"github.com/go-i2p/cachepool/lib/client"
	"github.com/go-i2p/cachepool/lib/config"
	apperrors "github.com/go-i2p/cachepool/lib/errors"
	"github.com/go-i2p/cachepool/lib/probe"
	"github.com/go-i2p/cachepool/lib/resilience"
	"github.com/go-i2p/cachepool/lib/web"
)

// Default configuration values
const (
	DefaultEndpoint   = "127.0.0.1:11211"
	DefaultConfigFile = "cachepool.toml"
	EnvPrefix         = "CACHEPOOL_"
)

// Config holds all configuration for a cache client.
type Config struct {
	Client ClientConfig      `toml:"client"`
	Pool   config.Properties `toml:"pool"`
	Probe  ProbeConfig       `toml:"probe"`
	Admin  AdminConfig       `toml:"admin"`
}

// AdminConfig contains the admin HTTP server settings.
type AdminConfig struct {
	// Listen is the admin server address; empty disables the server
	Listen string `toml:"listen"`
	// RequestsPerSecond and Burst limit requests per client IP
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// ClientConfig contains the cache cluster settings.
type ClientConfig struct {
	// Endpoints are the cache server addresses (host:port)
	Endpoints []string `toml:"endpoints"`
	// BreakerThreshold is the number of consecutive connection failures that
	// makes new connections fail fast; 0 disables the breaker
	BreakerThreshold int `toml:"breaker_threshold"`
	// BreakerTimeout is how long connections fail fast before a trial
	BreakerTimeout Duration `toml:"breaker_timeout"`
}

// ProbeConfig contains node prober settings.
type ProbeConfig struct {
	// Enabled controls whether the prober is started
	Enabled bool `toml:"enabled"`
	// Interval is the time between probe runs
	Interval Duration `toml:"interval"`
	// OpTimeout bounds one probe operation
	OpTimeout Duration `toml:"op_timeout"`
	// RetryInterval paces retries against a failing node
	RetryInterval Duration `toml:"retry_interval"`
	// MaxKeyAttempts caps the keys sampled per node when reserving probe keys
	MaxKeyAttempts int `toml:"max_key_attempts"`
	// KeyPrefix is prepended to probe keys
	KeyPrefix string `toml:"key_prefix"`
	// RederiveOnChange re-reserves probe keys when the node set changes
	RederiveOnChange bool `toml:"rederive_on_change"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare integer is read
// as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := cast.ToInt64E(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return cast.ToDurationE(s)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	p := probe.DefaultConfig()
	return &Config{
		Client: ClientConfig{
			Endpoints:      []string{DefaultEndpoint},
			BreakerTimeout: Duration{resilience.DefaultConfig().OpenTimeout},
		},
		Pool: config.DefaultPoolConfig().ToProperties(),
		Probe: ProbeConfig{
			Enabled:          true,
			Interval:         Duration{p.Interval},
			OpTimeout:        Duration{p.OpTimeout},
			RetryInterval:    Duration{p.RetryInterval},
			MaxKeyAttempts:   p.MaxKeyAttempts,
			KeyPrefix:        p.KeyPrefix,
			RederiveOnChange: !p.FreezeKeys,
		},
		Admin: AdminConfig{
			RequestsPerSecond: web.DefaultRateLimitConfig().RequestsPerSecond,
			Burst:             web.DefaultRateLimitConfig().BurstSize,
		},
	}
}

// LoadConfig reads configuration from a TOML file and applies CACHEPOOL_*
// environment overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		log.WithField("path", path).Debug("config file not found, using defaults")
	} else {
		// the [pool] table replaces the defaults; unset keys fall back when resolved
		cfg.Pool = nil
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %w", apperrors.ErrConfiguration, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Client.Endpoints) == 0 {
		return fmt.Errorf("%w: client.endpoints is required", apperrors.ErrConfiguration)
	}
	if _, err := client.NormalizeEndpoints(c.Client.Endpoints); err != nil {
		return fmt.Errorf("%w: client.endpoints: %w", apperrors.ErrConfiguration, err)
	}
	if c.Client.BreakerThreshold < 0 {
		return fmt.Errorf("%w: client.breaker_threshold must not be negative", apperrors.ErrConfiguration)
	}
	if c.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			return fmt.Errorf("%w: admin.listen: %v", apperrors.ErrConfiguration, err)
		}
	}
	if c.Admin.RequestsPerSecond < 0 || c.Admin.Burst < 0 {
		return fmt.Errorf("%w: admin rate limit must not be negative", apperrors.ErrConfiguration)
	}
	if _, err := c.PoolConfig(); err != nil {
		return err
	}
	if c.Probe.MaxKeyAttempts < 0 {
		return fmt.Errorf("%w: probe.max_key_attempts must not be negative", apperrors.ErrConfiguration)
	}
	if c.Probe.Enabled && c.Probe.Interval.Duration <= 0 {
		return fmt.Errorf("%w: probe.interval must be positive", apperrors.ErrConfiguration)
	}
	return c.ProbeConfig().Validate()
}

// PoolConfig resolves the [pool] table against the pool defaults.
func (c *Config) PoolConfig(opts ...config.Option) (config.PoolConfig, error) {
	return config.Resolve(c.Pool, opts...)
}

// ProbeConfig converts the [probe] table into a prober configuration.
func (c *Config) ProbeConfig() probe.Config {
	return probe.Config{
		Interval:       c.Probe.Interval.Duration,
		OpTimeout:      c.Probe.OpTimeout.Duration,
		RetryInterval:  c.Probe.RetryInterval.Duration,
		MaxKeyAttempts: c.Probe.MaxKeyAttempts,
		KeyPrefix:      c.Probe.KeyPrefix,
		Expiration:     probe.DefaultExpiration,
		FreezeKeys:     !c.Probe.RederiveOnChange,
	}
}

// BreakerConfig returns the connection breaker configuration, or false when
// the breaker is disabled.
func (c *Config) BreakerConfig() (resilience.Config, bool) {
	if c.Client.BreakerThreshold <= 0 {
		return resilience.Config{}, false
	}
	cfg := resilience.DefaultConfig()
	cfg.FailureThreshold = c.Client.BreakerThreshold
	if c.Client.BreakerTimeout.Duration > 0 {
		cfg.OpenTimeout = c.Client.BreakerTimeout.Duration
	}
	return cfg, true
}

// WebConfig returns the admin server configuration, or false when the
// server is disabled.
func (c *Config) WebConfig() (web.Config, bool) {
	if c.Admin.Listen == "" {
		return web.Config{}, false
	}
	return web.Config{
		ListenAddr: c.Admin.Listen,
		RateLimit: web.RateLimitConfig{
			RequestsPerSecond: c.Admin.RequestsPerSecond,
			BurstSize:         c.Admin.Burst,
		},
	}, true
}

// envPoolKeys maps environment variables to [pool] property keys.
var envPoolKeys = map[string]string{
	"POOL_MAX_IDLE":                   config.KeyMaxIdle,
	"POOL_MAX_ACTIVE":                 config.KeyMaxActive,
	"POOL_MAX_TOTAL":                  config.KeyMaxTotal,
	"POOL_MAX_WAIT":                   config.KeyMaxWait,
	"POOL_WHEN_EXHAUSTED":             config.KeyWhenExhaustedAction,
	"POOL_TEST_ON_BORROW":             config.KeyTestOnBorrow,
	"POOL_TEST_ON_RETURN":             config.KeyTestOnReturn,
	"POOL_TEST_WHILE_IDLE":            config.KeyTestWhileIdle,
	"POOL_TIME_BETWEEN_EVICTION_RUNS": config.KeyTimeBetweenEvictionRuns,
	"POOL_NUM_TESTS_PER_EVICTION_RUN": config.KeyNumTestsPerEvictionRun,
	"POOL_MIN_EVICTABLE_IDLE_TIME":    config.KeyMinEvictableIdleTime,
	"POOL_TIME_TO_LIVE":               config.KeyTimeToLive,
}

// ApplyEnvOverrides applies CACHEPOOL_* environment variables to cfg.
// Unparsable probe values are logged and ignored. Pool values are copied
// into the [pool] table as strings and checked by Validate.
func ApplyEnvOverrides(cfg *Config) {
	if v := getenv("ENDPOINTS"); v != "" {
		endpoints, err := client.ParseEndpoints(v)
		if err != nil {
			warnEnv("ENDPOINTS", v, err)
		} else {
			cfg.Client.Endpoints = endpoints
		}
	}

	if v := getenv("BREAKER_THRESHOLD"); v != "" {
		if n, err := cast.ToIntE(v); err != nil {
			warnEnv("BREAKER_THRESHOLD", v, err)
		} else {
			cfg.Client.BreakerThreshold = n
		}
	}
	envDuration("BREAKER_TIMEOUT", &cfg.Client.BreakerTimeout)

	for env, key := range envPoolKeys {
		if v := getenv(env); v != "" {
			if cfg.Pool == nil {
				cfg.Pool = config.Properties{}
			}
			cfg.Pool[key] = v
		}
	}

	envBool("PROBE_ENABLED", &cfg.Probe.Enabled)
	envBool("PROBE_REDERIVE_ON_CHANGE", &cfg.Probe.RederiveOnChange)
	envDuration("PROBE_INTERVAL", &cfg.Probe.Interval)
	envDuration("PROBE_OP_TIMEOUT", &cfg.Probe.OpTimeout)
	envDuration("PROBE_RETRY_INTERVAL", &cfg.Probe.RetryInterval)
	if v := getenv("PROBE_MAX_KEY_ATTEMPTS"); v != "" {
		if n, err := cast.ToIntE(v); err != nil {
			warnEnv("PROBE_MAX_KEY_ATTEMPTS", v, err)
		} else {
			cfg.Probe.MaxKeyAttempts = n
		}
	}
	if v := getenv("PROBE_KEY_PREFIX"); v != "" {
		cfg.Probe.KeyPrefix = v
	}
	if v := getenv("ADMIN_LISTEN"); v != "" {
		cfg.Admin.Listen = v
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func envBool(name string, dst *bool) {
	v := getenv(name)
	if v == "" {
		return
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		warnEnv(name, v, err)
		return
	}
	*dst = b
}

func envDuration(name string, dst *Duration) {
	v := getenv(name)
	if v == "" {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		warnEnv(name, v, err)
		return
	}
	dst.Duration = d
}

func warnEnv(name, value string, err error) {
	log.WithField("variable", EnvPrefix+name).WithField("value", value).WithError(err).Warn("ignoring invalid environment override")
}
