// Package api exposes the daemon's HTTP surface: inbound work-item
// events, selection callbacks, and read access to the session registry.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/orchestrator"
	"github.com/wardenhq/warden/internal/registry"
)

// Server provides the REST API handlers.
type Server struct {
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(reg *registry.Registry, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: reg, orch: orch, logger: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/events", s.handleEvent)
	mux.HandleFunc("POST /api/v1/selections/{sessionId}", s.handleSelection)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/entries", s.listEntries)
	mux.HandleFunc("GET /api/v1/sessions/{id}/children", s.listChildren)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", s.stopSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/feedback", s.deliverFeedback)

	mux.HandleFunc("GET /api/v1/health", s.health)

	return s.logMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// eventRequest is the inbound work-item event payload.
type eventRequest struct {
	WorkspaceID       string `json:"workspaceId"`
	IssueID           string `json:"issueId"`
	IssueIdentifier   string `json:"issueIdentifier"`
	TeamKey           string `json:"teamKey"`
	TrackerID         string `json:"trackerId"`
	ExternalSessionID string `json:"externalSessionId"`
	Prompt            string `json:"prompt"`
	Backend           string `json:"backend"`
	ParentSessionID   string `json:"parentSessionId"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.IssueID == "" {
		writeError(w, http.StatusBadRequest, "issueId is required")
		return
	}

	var backend models.Backend
	if req.Backend != "" {
		b, err := models.ParseBackend(req.Backend)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		backend = b
	}

	sessionID, err := s.orch.HandleEvent(r.Context(), orchestrator.InboundEvent{
		WorkspaceID:       req.WorkspaceID,
		IssueID:           req.IssueID,
		IssueIdentifier:   req.IssueIdentifier,
		TeamKey:           req.TeamKey,
		TrackerID:         req.TrackerID,
		ExternalSessionID: req.ExternalSessionID,
		Prompt:            req.Prompt,
		Backend:           backend,
		ParentSessionID:   req.ParentSessionID,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if sessionID == "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "awaiting_selection"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": sessionID})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("sessionId")
	var req struct {
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sessionID, err := s.orch.HandleSelectionResponse(r.Context(), externalID, req.Choice)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.AllSessions()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := sessions[:0]
		for _, session := range sessions {
			if string(session.Status) == status {
				filtered = append(filtered, session)
			}
		}
		sessions = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.registry.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	parent, _ := s.registry.ParentOf(session.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"parentId": parent,
		"children": s.registry.ChildrenOf(session.ID),
	})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.registry.Entries(id)})
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": s.registry.ChildrenOf(id)})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.StopSession(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) deliverFeedback(w http.ResponseWriter, r *http.Request) {
	parentID := r.PathValue("id")
	var req struct {
		ChildID string `json:"childId"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.orch.DeliverFeedback(parentID, req.ChildID, req.Text); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, registry.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	// Fire-and-forget: delivery is dispatched, not awaited.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, session := range s.registry.AllSessions() {
		if !session.Status.Terminal() {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": active,
	})
}
