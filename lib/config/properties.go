package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// Property keys recognised by Resolve. Durations are in milliseconds.
const (
	KeyMaxIdle                 = "maxIdle"
	KeyMaxActive               = "maxActive"
	KeyMaxTotal                = "maxTotal"
	KeyMaxWait                 = "maxWait"
	KeyWhenExhaustedAction     = "whenExhaustedAction"
	KeyTestOnBorrow            = "testOnBorrow"
	KeyTestOnReturn            = "testOnReturn"
	KeyTestWhileIdle           = "testWhileIdle"
	KeyTimeBetweenEvictionRuns = "timeBetweenEvictionRunsMillis"
	KeyNumTestsPerEvictionRun  = "numTestsPerEvictionRun"
	KeyMinEvictableIdleTime    = "minEvictableIdleTimeMillis"
	KeyTimeToLive              = "timeToLiveMillis"
)

// DefaultPropertiesFile is the file name looked up when no explicit property
// path is configured.
const DefaultPropertiesFile = "serverPoolConfig.toml"

// Properties is a flat key/value property source. Values may be strings,
// integers, floats or booleans; each key is coerced to its field's type.
type Properties map[string]any

// LoadProperties reads a flat TOML property file. A missing file is not an
// error: it yields nil properties so every field keeps its default.
func LoadProperties(path string) (Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Debug("no pool property file, using defaults")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read property file: %w", err)
	}

	props, err := ParseProperties(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.WithField("path", path).WithField("keys", len(props)).Debug("loaded pool properties")
	return props, nil
}

// ParseProperties decodes flat TOML into Properties.
func ParseProperties(data []byte) (Properties, error) {
	props := make(Properties)
	if err := toml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("%w: failed to parse properties: %w", apperrors.ErrConfiguration, err)
	}
	return props, nil
}

// Resolve layers props and opts over the compiled defaults and validates the
// result. A nil props applies defaults only.
func Resolve(props Properties, opts ...Option) (PoolConfig, error) {
	cfg := DefaultPoolConfig()

	if err := props.apply(&cfg); err != nil {
		return PoolConfig{}, err
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return PoolConfig{}, err
	}
	return cfg, nil
}

func (p Properties) apply(cfg *PoolConfig) error {
	if len(p) == 0 {
		return nil
	}

	steps := []func() error{
		func() error { return p.intProp(KeyMaxIdle, &cfg.MaxIdle) },
		func() error { return p.intProp(KeyMaxActive, &cfg.MaxActive) },
		func() error { return p.intProp(KeyMaxTotal, &cfg.MaxTotal) },
		func() error { return p.millisProp(KeyMaxWait, &cfg.MaxWait) },
		func() error { return p.policyProp(KeyWhenExhaustedAction, &cfg.WhenExhausted) },
		func() error { return p.boolProp(KeyTestOnBorrow, &cfg.TestOnBorrow) },
		func() error { return p.boolProp(KeyTestOnReturn, &cfg.TestOnReturn) },
		func() error { return p.boolProp(KeyTestWhileIdle, &cfg.TestWhileIdle) },
		func() error { return p.millisProp(KeyTimeBetweenEvictionRuns, &cfg.TimeBetweenEvictionRuns) },
		func() error { return p.intProp(KeyNumTestsPerEvictionRun, &cfg.NumTestsPerEvictionRun) },
		func() error { return p.millisProp(KeyMinEvictableIdleTime, &cfg.MinEvictableIdleTime) },
		func() error { return p.millisProp(KeyTimeToLive, &cfg.HandleTTL) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// lookup returns the value for key, treating nil and blank strings as unset.
func (p Properties) lookup(key string) (any, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		return s, true
	}
	return v, true
}

// toInt64 coerces a property to an integer. Strings are decimal only and
// fractional numbers are rejected rather than truncated.
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseInt(x, 10, 64)
	case float32:
		return wholeFloat(float64(x))
	case float64:
		return wholeFloat(x)
	case bool:
		return 0, fmt.Errorf("unable to cast %v of type bool to an integer", x)
	default:
		return cast.ToInt64E(v)
	}
}

func wholeFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v is not a whole number", f)
	}
	return int64(f), nil
}

func (p Properties) intProp(key string, dst *int) error {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	n, err := toInt64(v)
	if err == nil && (n < math.MinInt || n > math.MaxInt) {
		err = fmt.Errorf("%d out of range", n)
	}
	if err != nil {
		return propertyError(key, v, err)
	}
	*dst = int(n)
	return nil
}

func (p Properties) boolProp(key string, dst *bool) error {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return propertyError(key, v, err)
	}
	*dst = b
	return nil
}

func (p Properties) millisProp(key string, dst *time.Duration) error {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	ms, err := toInt64(v)
	if err == nil && (ms > math.MaxInt64/int64(time.Millisecond) || ms < math.MinInt64/int64(time.Millisecond)) {
		err = fmt.Errorf("%d ms out of range", ms)
	}
	if err != nil {
		return propertyError(key, v, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// policyProp accepts either the numeric byte code or a policy name.
func (p Properties) policyProp(key string, dst *ExhaustionPolicy) error {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	code, err := toInt64(v)
	if err != nil {
		s, isString := v.(string)
		if !isString {
			return propertyError(key, v, err)
		}
		policy, perr := ParseExhaustionPolicy(s)
		if perr != nil {
			return propertyError(key, v, perr)
		}
		*dst = policy
		return nil
	}
	if code < int64(ExhaustFail) || code > int64(ExhaustGrow) {
		return propertyError(key, v, fmt.Errorf("unknown policy code %d", code))
	}
	*dst = ExhaustionPolicy(code)
	return nil
}

func propertyError(key string, value any, err error) error {
	log.WithField("key", key).WithField("value", value).WithError(err).Warn("rejected pool property")
	return fmt.Errorf("%w: property %s=%v: %w", apperrors.ErrConfiguration, key, value, err)
}

// ToProperties renders cfg back into the property keys Resolve accepts.
// Unset caps are omitted so the output round-trips.
func (c PoolConfig) ToProperties() Properties {
	props := Properties{
		KeyMaxIdle:                 int64(c.MaxIdle),
		KeyMaxActive:               int64(c.MaxActive),
		KeyWhenExhaustedAction:     c.WhenExhausted.String(),
		KeyTestOnBorrow:            c.TestOnBorrow,
		KeyTestOnReturn:            c.TestOnReturn,
		KeyTestWhileIdle:           c.TestWhileIdle,
		KeyTimeBetweenEvictionRuns: c.TimeBetweenEvictionRuns.Milliseconds(),
		KeyNumTestsPerEvictionRun:  int64(c.NumTestsPerEvictionRun),
		KeyMinEvictableIdleTime:    c.MinEvictableIdleTime.Milliseconds(),
		KeyTimeToLive:              c.HandleTTL.Milliseconds(),
	}
	if c.HasMaxTotal() {
		props[KeyMaxTotal] = int64(c.MaxTotal)
	}
	if !c.BlocksIndefinitely() {
		props[KeyMaxWait] = c.MaxWait.Milliseconds()
	}
	return props
}
