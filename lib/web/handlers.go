package web

import (
	"net/http"
	"time"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// HealthResponse is the body of the readiness endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
	Code      int    `json:"code,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// handleReadiness returns 503 while the source reports an error, with the
// error's code so callers can tell a closed pool from a dead cluster.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.source.Ready(); err != nil {
		resp.Status = "not ready"
		resp.Error = err.Error()
		resp.Code = apperrors.CodeOf(err)
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
