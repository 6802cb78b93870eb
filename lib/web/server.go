// Package web serves the cache client's admin endpoints: Prometheus metrics,
// a JSON stats snapshot and liveness/readiness checks.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-i2p/cachepool/lib/metrics"
)

// Source supplies the state served by the admin endpoints.
type Source interface {
	// Ready returns nil when the client can serve requests.
	Ready() error
	// Snapshot returns a JSON-encodable statistics value.
	Snapshot() any
}

// Config holds admin server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:9121")
	ListenAddr string
	// RateLimit limits requests per client IP
	RateLimit RateLimitConfig
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	source     Source
	limiter    *RateLimiter
	mu         sync.Mutex
	running    bool
	addr       net.Addr
}

// New creates an admin server for source. It does not listen until Start.
func New(cfg Config, source Source) (*Server, error) {
	if source == nil {
		return nil, errors.New("web: source is required")
	}
	if cfg.ListenAddr == "" {
		return nil, errors.New("web: listen address is required")
	}

	s := &Server{
		source:  source,
		limiter: NewRateLimiter(cfg.RateLimit),
	}
	s.limiter.SetOnReject(func(ip, path string) {
		log.WithField("ip", ip).WithField("path", path).Debug("admin request rate limited")
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the admin mux wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.limiter.Middleware(withMiddleware(mux))
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("web: server already running")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.running = true
	s.addr = ln.Addr()

	log.WithField("addr", s.addr.String()).Info("admin server started")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("admin server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	defer s.limiter.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("admin server stopped")
	return nil
}

func withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("X-Content-Type-Options", "nosniff")

		next.ServeHTTP(w, r)

		log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("duration", time.Since(start)).
			Debug("admin request")
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("json encode error")
	}
}
