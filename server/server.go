//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the tutor over HTTP: a JSON management API for
// sessions plus a WebSocket push channel that streams conversation
// events.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/rumycoding/kotori/anki"
	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/model"
	"github.com/rumycoding/kotori/session"
)

// Server wires the session registry, the conversation graph and the
// flashcard service behind a router.
type Server struct {
	router  *mux.Router
	manager *session.Manager
	model   model.Model
	anki    *anki.Client
	saver   graph.CheckpointSaver

	inputTimeout time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithCheckpointSaver sets the checkpoint saver shared by all sessions.
func WithCheckpointSaver(saver graph.CheckpointSaver) Option {
	return func(s *Server) { s.saver = saver }
}

// WithInputTimeout overrides how long a conversation waits for user
// input before ending.
func WithInputTimeout(d time.Duration) Option {
	return func(s *Server) { s.inputTimeout = d }
}

// New creates the server.
func New(manager *session.Manager, m model.Model, client *anki.Client, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		manager: manager,
		model:   m,
		anki:    client,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.saver == nil {
		s.saver = graph.NewInMemorySaver()
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/stats", s.handleSessionStats).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionId}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionId}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{sessionId}/config", s.handleUpdateConfig).Methods(http.MethodPut)
	r.HandleFunc("/sessions/{sessionId}/ui-settings", s.handleUpdateUISettings).Methods(http.MethodPut)
	r.HandleFunc("/sessions/{sessionId}/history", s.handleGetHistory).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionId}/history", s.handleClearHistory).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{sessionId}/history/export", s.handleExportHistory).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionId}/checkpoints", s.handleListCheckpoints).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionId}/cleanup", s.handleCleanupSession).Methods(http.MethodPost)
	r.HandleFunc("/maintenance/cleanup-inactive", s.handleCleanupInactive).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/flashcards/status", s.handleFlashcardStatus).Methods(http.MethodGet)
	r.HandleFunc("/flashcards/decks", s.handleFlashcardDecks).Methods(http.MethodGet)

	r.HandleFunc("/ws/{sessionId}", s.handleWebSocket).Methods(http.MethodGet)
}

// ---- Session handlers ---------------------------------------------------

type createSessionRequest struct {
	Config     *kotori.Config      `json:"config,omitempty"`
	UISettings *session.UISettings `json:"ui_settings,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	defer r.Body.Close()

	cfg := kotori.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	ui := session.DefaultUISettings()
	if req.UISettings != nil {
		ui = *req.UISettings
	}

	sess, err := s.manager.Create(cfg, ui)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.List()})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["sessionId"])
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	if err := s.manager.Close(id); err != nil {
		s.writeSessionError(w, err)
		return
	}
	if err := s.saver.DeleteThread(r.Context(), id); err != nil {
		log.Errorf("delete thread %s: %v", id, err)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": id})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg kotori.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer r.Body.Close()

	id := mux.Vars(r)["sessionId"]
	if err := s.manager.UpdateConfig(id, cfg); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "session_id": id})
}

func (s *Server) handleUpdateUISettings(w http.ResponseWriter, r *http.Request) {
	var ui session.UISettings
	if err := json.NewDecoder(r.Body).Decode(&ui); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer r.Body.Close()

	id := mux.Vars(r)["sessionId"]
	if err := s.manager.UpdateUISettings(id, ui); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "session_id": id})
}

// ---- History handlers ---------------------------------------------------

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	if !s.manager.Exists(id) {
		s.writeSessionError(w, session.ErrSessionNotFound)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history := s.manager.Conversations().History(id, limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   history,
		"count":      len(history),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	if !s.manager.Exists(id) {
		s.writeSessionError(w, session.ErrSessionNotFound)
		return
	}
	s.manager.Conversations().Clear(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "session_id": id})
}

type exportRequest struct {
	Format string `json:"format"`
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	if !s.manager.Exists(id) {
		s.writeSessionError(w, session.ErrSessionNotFound)
		return
	}

	req := exportRequest{Format: session.FormatJSON}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	defer r.Body.Close()

	data, err := s.manager.Conversations().Export(id, req.Format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_format", err.Error())
		return
	}

	contentType := "application/json"
	switch req.Format {
	case session.FormatTxt:
		contentType = "text/plain; charset=utf-8"
	case session.FormatCSV:
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=conversation."+req.Format)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleListCheckpoints reports the conversation's checkpoint history,
// newest first, for inspecting where a session is paused.
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	if !s.manager.Exists(id) {
		s.writeSessionError(w, session.ErrSessionNotFound)
		return
	}
	checkpoints, err := s.saver.List(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	summaries := make([]map[string]any, 0, len(checkpoints))
	for _, c := range checkpoints {
		summaries = append(summaries, map[string]any{
			"id":         c.ID,
			"next_node":  c.NextNode,
			"source":     c.Source,
			"step":       c.Step,
			"created_at": c.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"checkpoints": summaries,
		"count":       len(summaries),
	})
}

// ---- Maintenance handlers -----------------------------------------------

// handleCleanupSession releases a session's runtime resources: the
// orchestrator stops, checkpoints are dropped, the record stays.
func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	if !s.manager.Exists(id) {
		s.writeSessionError(w, session.ErrSessionNotFound)
		return
	}
	if o, ok := s.manager.Orchestrator(id); ok {
		o.Stop()
		s.manager.DetachOrchestrator(id)
	}
	if err := s.saver.DeleteThread(r.Context(), id); err != nil {
		log.Errorf("delete thread %s: %v", id, err)
	}
	if err := s.manager.SetActive(id, false); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "cleaned", "session_id": id})
}

func (s *Server) handleCleanupInactive(w http.ResponseWriter, r *http.Request) {
	maxIdle := session.DefaultMaxIdle
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours < 0 {
			s.writeError(w, http.StatusBadRequest, "bad_request", "max_age_hours must be a non-negative number")
			return
		}
		maxIdle = time.Duration(hours * float64(time.Hour))
		if maxIdle == 0 {
			// Zero means "reap everything inactive now".
			maxIdle = time.Nanosecond
		}
	}
	reaped := s.manager.CleanupInactive(maxIdle)
	s.writeJSON(w, http.StatusOK, map[string]any{"cleaned_sessions": reaped})
}

// ---- Health handlers ----------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	flashcards := map[string]any{"available": true}
	status := "ok"
	if version, err := s.anki.Version(r.Context()); err != nil {
		flashcards["available"] = false
		flashcards["error"] = err.Error()
		status = "degraded"
	} else {
		flashcards["version"] = version
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"model":      s.model.Info().Name,
		"flashcards": flashcards,
		"sessions":   s.manager.Stats(),
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) handleFlashcardStatus(w http.ResponseWriter, r *http.Request) {
	version, err := s.anki.Version(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"error":     err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"version":   version,
	})
}

func (s *Server) handleFlashcardDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.anki.DeckNames(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "flashcards_unavailable", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"decks": decks})
}

// ---- Helpers ------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":     code,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
