// ABOUTME: Liveness and readiness HTTP handlers
// ABOUTME: Readiness reports running frontends and active scans as JSON

package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type readyResponse struct {
	Status      string   `json:"status"`
	Frontends   []string `json:"frontends"`
	ActiveScans int      `json:"active_scans"`
}

// handleReady returns 200 when at least one frontend is running and the
// service is not shutting down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	frontends := append([]string{}, s.frontends...)
	s.mu.RUnlock()

	resp := readyResponse{
		Status:      "ready",
		Frontends:   frontends,
		ActiveScans: s.registry.Len(),
	}
	status := http.StatusOK
	switch {
	case s.registry.Closed():
		resp.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	case len(frontends) == 0:
		resp.Status = "no_frontends"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
