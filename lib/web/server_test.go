package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

type fakeSource struct {
	err   error
	stats map[string]int
}

func (f *fakeSource) Ready() error  { return f.err }
func (f *fakeSource) Snapshot() any { return f.stats }

func newTestServer(t *testing.T, src Source) *Server {
	t.Helper()
	s, err := New(Config{ListenAddr: "127.0.0.1:0"}, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.limiter.Close)
	return s
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{ListenAddr: "127.0.0.1:0"}, nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := New(Config{}, &fakeSource{}); err == nil {
		t.Error("expected error for empty listen address")
	}
}

func TestHandler_Stats(t *testing.T) {
	s := newTestServer(t, &fakeSource{stats: map[string]int{"numActive": 3}})

	w := get(s.Handler(), "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var got map[string]int
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["numActive"] != 3 {
		t.Errorf("numActive = %d, want 3", got["numActive"])
	}
}

func TestHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"liveness", "/healthz", nil, http.StatusOK, "alive"},
		{"liveness ignores readiness", "/healthz", errors.New("down"), http.StatusOK, "alive"},
		{"ready", "/readyz", nil, http.StatusOK, `"ready"`},
		{"not ready", "/readyz", errors.New("pool: closed"), http.StatusServiceUnavailable, "pool: closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeSource{err: tt.err})
			w := get(s.Handler(), tt.path)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandler_ReadinessCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"ready", nil, 0},
		{"pool closed", apperrors.ErrPoolClosed, apperrors.CodePoolClosed},
		{"cluster down", apperrors.Wrap(apperrors.CodeUnavailable, "no node answered", apperrors.ErrUnavailable), apperrors.CodeUnavailable},
		{"unclassified", errors.New("down"), apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeSource{err: tt.err})
			w := get(s.Handler(), "/readyz")
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandler_Metrics(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	w := get(s.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	if s.Addr() != nil {
		t.Error("Addr should be nil before Start")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start should fail")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
