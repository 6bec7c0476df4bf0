// ABOUTME: Admin HTTP API over scan history and the live registry
// ABOUTME: Lists and inspects scans, shows active scans, requests cancellation, and reports stats

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/scanbot/internal/auth"
	"github.com/2389/scanbot/internal/scan"
	"github.com/2389/scanbot/internal/store"
)

// ScanResponse is a persisted scan as returned by the admin API.
type ScanResponse struct {
	ID           string          `json:"id"`
	Conversation string          `json:"conversation"`
	Frontend     string          `json:"frontend"`
	Phase        string          `json:"phase"`
	Progress     int             `json:"progress"`
	Steps        int             `json:"steps"`
	Reason       string          `json:"reason,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Events       []EventResponse `json:"events,omitempty"`
}

// EventResponse is one notice of a scan.
type EventResponse struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveScanResponse is a live registry entry.
type ActiveScanResponse struct {
	ID              string    `json:"id"`
	Conversation    string    `json:"conversation"`
	Progress        int       `json:"progress"`
	Steps           int       `json:"steps"`
	CancelRequested bool      `json:"cancel_requested"`
	StartedAt       time.Time `json:"started_at"`
}

// CancelRequest is the body of POST /api/scans/cancel.
type CancelRequest struct {
	Conversation string `json:"conversation"`
}

// StatsResponse summarizes scan history.
type StatsResponse struct {
	Phases map[string]int `json:"phases"`
	Active int            `json:"active"`
	Total  int            `json:"total"`
}

func (s *Server) apiRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scans", s.handleListScans)
	mux.HandleFunc("GET /api/scans/active", s.handleActiveScans)
	mux.HandleFunc("POST /api/scans/cancel", s.handleCancelScan)
	mux.HandleFunc("GET /api/scans/{id}", s.handleGetScan)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		s.sendJSONError(w, http.StatusNotFound, "not found")
	})
	return mux
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	filter := store.ScanFilter{ConversationKey: r.URL.Query().Get("conversation")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	scans, err := s.store.ListScans(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list scans", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ScanResponse, 0, len(scans))
	for _, sc := range scans {
		resp = append(resp, toScanResponse(sc))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scans": resp})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sc, err := s.store.GetScan(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get scan", "id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	events, err := s.store.ListScanEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list scan events", "id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := toScanResponse(sc)
	for _, ev := range events {
		resp.Events = append(resp.Events, EventResponse{
			Kind:      ev.Kind,
			Text:      ev.Text,
			Delivered: ev.Delivered,
			Error:     ev.Error,
			CreatedAt: ev.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveScans(w http.ResponseWriter, r *http.Request) {
	active := s.registry.Active()
	resp := make([]ActiveScanResponse, 0, len(active))
	for _, snap := range active {
		resp = append(resp, ActiveScanResponse{
			ID:              snap.ID,
			Conversation:    snap.Key.String(),
			Progress:        snap.Progress,
			Steps:           snap.Steps,
			CancelRequested: snap.CancelRequested,
			StartedAt:       snap.StartedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scans": resp})
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Conversation == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversation is required")
		return
	}

	key := scan.ConversationKey(req.Conversation)
	if !s.registry.RequestCancel(key) {
		s.sendJSONError(w, http.StatusNotFound, "no scan running for conversation")
		return
	}

	var by string
	if id := auth.FromContext(r.Context()); id != nil && !id.Anonymous {
		by = id.Subject
	}
	s.logger.Info("scan cancellation requested via admin API", "conversation", key, "by", by)

	s.writeJSON(w, http.StatusAccepted, map[string]any{"conversation": req.Conversation, "cancel_requested": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountScansByPhase(r.Context())
	if err != nil {
		s.logger.Error("failed to count scans", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{Phases: counts, Active: s.registry.Len(), Total: total})
}

func toScanResponse(sc *store.Scan) ScanResponse {
	return ScanResponse{
		ID:           sc.ID,
		Conversation: sc.ConversationKey,
		Frontend:     sc.Frontend,
		Phase:        sc.Phase,
		Progress:     sc.Progress,
		Steps:        sc.Steps,
		Reason:       sc.Reason,
		StartedAt:    sc.StartedAt,
		FinishedAt:   sc.FinishedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
