package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

func TestDefaultPoolConfig(t *testing.T) {
	cfg, err := Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve(nil) failed: %v", err)
	}

	if cfg.MaxIdle != 10 {
		t.Errorf("Expected maxIdle 10, got %d", cfg.MaxIdle)
	}
	if cfg.MaxActive != 20 {
		t.Errorf("Expected maxActive 20, got %d", cfg.MaxActive)
	}
	if !cfg.TestOnBorrow {
		t.Error("Expected testOnBorrow true")
	}
	if cfg.TestOnReturn {
		t.Error("Expected testOnReturn false")
	}
	if !cfg.TestWhileIdle {
		t.Error("Expected testWhileIdle true")
	}
	if cfg.HasMaxTotal() {
		t.Errorf("Expected maxTotal unset, got %d", cfg.MaxTotal)
	}
	if !cfg.BlocksIndefinitely() {
		t.Errorf("Expected maxWait unset, got %v", cfg.MaxWait)
	}
	if cfg.WhenExhausted != ExhaustBlock {
		t.Errorf("Expected BLOCK policy, got %v", cfg.WhenExhausted)
	}
	if cfg.HandleTTL != 5*time.Minute {
		t.Errorf("Expected handle TTL 5m, got %v", cfg.HandleTTL)
	}
}

func TestResolve_Properties(t *testing.T) {
	props := Properties{
		KeyMaxIdle:                 "4",
		KeyMaxActive:               int64(8),
		KeyMaxTotal:                12,
		KeyMaxWait:                 "250",
		KeyWhenExhaustedAction:     "0",
		KeyTestOnBorrow:            "false",
		KeyTestOnReturn:            true,
		KeyTimeBetweenEvictionRuns: int64(1000),
		KeyNumTestsPerEvictionRun:  "-2",
		KeyMinEvictableIdleTime:    "60000",
		KeyTimeToLive:              "1500",
	}

	cfg, err := Resolve(props)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.MaxIdle != 4 {
		t.Errorf("Expected maxIdle 4, got %d", cfg.MaxIdle)
	}
	if cfg.MaxActive != 8 {
		t.Errorf("Expected maxActive 8, got %d", cfg.MaxActive)
	}
	if cfg.MaxTotal != 12 {
		t.Errorf("Expected maxTotal 12, got %d", cfg.MaxTotal)
	}
	if cfg.MaxWait != 250*time.Millisecond {
		t.Errorf("Expected maxWait 250ms, got %v", cfg.MaxWait)
	}
	if cfg.WhenExhausted != ExhaustFail {
		t.Errorf("Expected FAIL policy, got %v", cfg.WhenExhausted)
	}
	if cfg.TestOnBorrow {
		t.Error("Expected testOnBorrow false")
	}
	if !cfg.TestOnReturn {
		t.Error("Expected testOnReturn true")
	}
	if !cfg.TestWhileIdle {
		t.Error("testWhileIdle should keep its default")
	}
	if cfg.TimeBetweenEvictionRuns != time.Second {
		t.Errorf("Expected eviction interval 1s, got %v", cfg.TimeBetweenEvictionRuns)
	}
	if cfg.NumTestsPerEvictionRun != -2 {
		t.Errorf("Expected numTests -2, got %d", cfg.NumTestsPerEvictionRun)
	}
	if cfg.MinEvictableIdleTime != time.Minute {
		t.Errorf("Expected min idle 1m, got %v", cfg.MinEvictableIdleTime)
	}
	if cfg.HandleTTL != 1500*time.Millisecond {
		t.Errorf("Expected TTL 1.5s, got %v", cfg.HandleTTL)
	}
}

func TestResolve_BlankFallsBackPerField(t *testing.T) {
	props := Properties{
		KeyMaxIdle:   "   ",
		KeyMaxActive: "7",
		KeyMaxWait:   "",
		"unknownKey": "whatever",
	}

	cfg, err := Resolve(props)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.MaxIdle != DefaultMaxIdle {
		t.Errorf("blank maxIdle should default, got %d", cfg.MaxIdle)
	}
	if cfg.MaxActive != 7 {
		t.Errorf("sibling maxActive should still resolve, got %d", cfg.MaxActive)
	}
	if !cfg.BlocksIndefinitely() {
		t.Errorf("blank maxWait should default, got %v", cfg.MaxWait)
	}
}

func TestResolve_Unparsable(t *testing.T) {
	tests := []struct {
		name  string
		props Properties
	}{
		{"int", Properties{KeyMaxActive: "twenty"}},
		{"bool", Properties{KeyTestOnBorrow: "sometimes"}},
		{"millis", Properties{KeyMaxWait: "1s"}},
		{"policy name", Properties{KeyWhenExhaustedAction: "explode"}},
		{"policy code", Properties{KeyWhenExhaustedAction: 7}},
		{"octal looking int", Properties{KeyMaxIdle: "010"}},
		{"hex int", Properties{KeyMaxIdle: "0x10"}},
		{"fractional int", Properties{KeyMaxActive: 2.9}},
		{"fractional int string", Properties{KeyMaxActive: "2.9"}},
		{"bool as int", Properties{KeyMaxTotal: true}},
		{"fractional millis", Properties{KeyMaxWait: 1.5}},
		{"overflowing millis", Properties{KeyTimeToLive: int64(1) << 62}},
		{"wrapping policy code", Properties{KeyWhenExhaustedAction: 257}},
		{"negative policy code", Properties{KeyWhenExhaustedAction: -1}},
		{"wrapping policy string", Properties{KeyWhenExhaustedAction: "257"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.props)
			if err == nil {
				t.Fatal("Expected configuration error")
			}
			if !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestResolve_PolicyNames(t *testing.T) {
	tests := []struct {
		value any
		want  ExhaustionPolicy
	}{
		{"fail", ExhaustFail},
		{"BLOCK", ExhaustBlock},
		{" grow ", ExhaustGrow},
		{"2", ExhaustGrow},
		{int64(1), ExhaustBlock},
		{float64(2), ExhaustGrow},
		{" 0 ", ExhaustFail},
	}

	for _, tt := range tests {
		cfg, err := Resolve(Properties{KeyWhenExhaustedAction: tt.value})
		if err != nil {
			t.Errorf("Resolve(%v) failed: %v", tt.value, err)
			continue
		}
		if cfg.WhenExhausted != tt.want {
			t.Errorf("Resolve(%v) = %v, want %v", tt.value, cfg.WhenExhausted, tt.want)
		}
	}
}

func TestResolve_OptionsOverrideProperties(t *testing.T) {
	props := Properties{KeyMaxActive: 3, KeyMaxIdle: 2}

	cfg, err := Resolve(props,
		WithMaxActive(1),
		WithMaxWait(0),
		WithExhaustionPolicy(ExhaustGrow),
		WithMaxTotal(4),
		WithEviction(time.Second, 5, time.Minute),
		WithHandleTTL(time.Hour),
		WithTestOnBorrow(false),
		WithTestOnReturn(true),
		WithTestWhileIdle(false),
		WithMaxIdle(1),
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.MaxActive != 1 {
		t.Errorf("option should win over property, got maxActive %d", cfg.MaxActive)
	}
	if cfg.MaxIdle != 1 {
		t.Errorf("Expected maxIdle 1, got %d", cfg.MaxIdle)
	}
	if cfg.MaxWait != 0 || cfg.BlocksIndefinitely() {
		t.Errorf("Expected maxWait 0, got %v", cfg.MaxWait)
	}
	if cfg.WhenExhausted != ExhaustGrow || cfg.MaxTotal != 4 {
		t.Errorf("unexpected policy/maxTotal: %v/%d", cfg.WhenExhausted, cfg.MaxTotal)
	}
	if cfg.TimeBetweenEvictionRuns != time.Second || cfg.NumTestsPerEvictionRun != 5 || cfg.MinEvictableIdleTime != time.Minute {
		t.Errorf("eviction settings not applied: %+v", cfg)
	}
	if cfg.HandleTTL != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", cfg.HandleTTL)
	}
	if cfg.TestOnBorrow || !cfg.TestOnReturn || cfg.TestWhileIdle {
		t.Errorf("test toggles not applied: %+v", cfg)
	}
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*PoolConfig)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *PoolConfig) {},
			wantErr: false,
		},
		{
			name:    "negative max idle",
			modify:  func(c *PoolConfig) { c.MaxIdle = -1 },
			wantErr: true,
		},
		{
			name:    "zero ttl",
			modify:  func(c *PoolConfig) { c.HandleTTL = 0 },
			wantErr: true,
		},
		{
			name:    "unknown policy",
			modify:  func(c *PoolConfig) { c.WhenExhausted = 9 },
			wantErr: true,
		},
		{
			name:    "grow without total cap",
			modify:  func(c *PoolConfig) { c.WhenExhausted = ExhaustGrow },
			wantErr: false,
		},
		{
			name:    "eviction disabled",
			modify:  func(c *PoolConfig) { c.TimeBetweenEvictionRuns = 0 },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPoolConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExhaustionPolicy_String(t *testing.T) {
	tests := []struct {
		policy ExhaustionPolicy
		want   string
	}{
		{ExhaustFail, "fail"},
		{ExhaustBlock, "block"},
		{ExhaustGrow, "grow"},
		{ExhaustionPolicy(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.policy.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLoadProperties_Missing(t *testing.T) {
	props, err := LoadProperties(filepath.Join(t.TempDir(), DefaultPropertiesFile))
	if err != nil {
		t.Fatalf("LoadProperties should not error on missing file: %v", err)
	}
	if props != nil {
		t.Errorf("Expected nil properties, got %v", props)
	}
}

func TestLoadProperties_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPropertiesFile)
	data := []byte(`maxActive = 5
maxWait = 100
whenExhaustedAction = "fail"
testOnReturn = true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	props, err := LoadProperties(path)
	if err != nil {
		t.Fatalf("LoadProperties failed: %v", err)
	}
	cfg, err := Resolve(props)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.MaxActive != 5 || cfg.MaxWait != 100*time.Millisecond {
		t.Errorf("unexpected sizing: %d/%v", cfg.MaxActive, cfg.MaxWait)
	}
	if cfg.WhenExhausted != ExhaustFail || !cfg.TestOnReturn {
		t.Errorf("unexpected policy or toggle: %v/%v", cfg.WhenExhausted, cfg.TestOnReturn)
	}
}

func TestLoadProperties_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("this is not [valid toml"), 0o600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := LoadProperties(path)
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestToProperties_RoundTrip(t *testing.T) {
	original, err := Resolve(nil, WithMaxTotal(30), WithMaxWait(2*time.Second), WithExhaustionPolicy(ExhaustGrow))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	resolved, err := Resolve(original.ToProperties())
	if err != nil {
		t.Fatalf("Resolve of rendered properties failed: %v", err)
	}
	if resolved != original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", resolved, original)
	}

	defaults := DefaultPoolConfig().ToProperties()
	if _, ok := defaults[KeyMaxTotal]; ok {
		t.Error("unset maxTotal should be omitted")
	}
	if _, ok := defaults[KeyMaxWait]; ok {
		t.Error("unset maxWait should be omitted")
	}
}
