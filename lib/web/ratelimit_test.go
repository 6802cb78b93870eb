package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	defer rl.Close()
	if rl.cfg != DefaultRateLimitConfig() {
		t.Errorf("cfg = %+v, want defaults", rl.cfg)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	defer rl.Close()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request over burst should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other IPs should have their own limiter")
	}
	if rl.Len() != 2 {
		t.Errorf("Len = %d, want 2", rl.Len())
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{IdleTimeout: time.Minute})
	defer rl.Close()

	rl.Allow("10.0.0.1")
	rl.cleanup(time.Now())
	if rl.Len() != 1 {
		t.Fatalf("fresh limiter removed, Len = %d", rl.Len())
	}
	rl.cleanup(time.Now().Add(2 * time.Minute))
	if rl.Len() != 0 {
		t.Errorf("idle limiter kept, Len = %d", rl.Len())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	defer rl.Close()

	var rejected string
	rl.SetOnReject(func(ip, path string) { rejected = ip + path })
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "192.0.2.7:5555"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Error("missing Retry-After header")
	}
	if rejected != "192.0.2.7/metrics" {
		t.Errorf("onReject got %q", rejected)
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"remote without port", "192.0.2.1", nil, "192.0.2.1"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " 198.51.100.4 , 10.0.0.2"}, "198.51.100.4"},
		{"invalid forwarded falls through", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "junk", "X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"invalid real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "junk"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractIP(r); got != tt.want {
				t.Errorf("extractIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
