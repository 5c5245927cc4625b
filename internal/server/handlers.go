// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/storage"
)

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// ChatRequest submits a query to a session.
type ChatRequest struct {
	// SessionID continues an existing session. Empty starts a new one.
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`

	// Model overrides the default model for this session.
	Model string `json:"model,omitempty"`

	// Filters ground the first turn of a session.
	Filters *model.ChatFilters `json:"filters,omitempty"`

	// Wait blocks the response until the stream has finished.
	Wait bool `json:"wait,omitempty"`
}

// ChatResponse reports the outcome of a submission.
type ChatResponse struct {
	SessionID string             `json:"session_id"`
	State     string             `json:"state"`
	Session   *model.ChatSession `json:"session,omitempty"`
}

// SessionResponse is a session with its listing entry.
type SessionResponse struct {
	Metadata model.SessionMetadata `json:"metadata"`
	State    string                `json:"state"`
	Session  *model.ChatSession    `json:"session"`
}

// RenameRequest changes a session's display name.
type RenameRequest struct {
	DisplayName string `json:"display_name"`
}

// ModelInfo describes a configured model. API keys are never exposed.
type ModelInfo struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Default  bool   `json:"default"`
}

// ============================================================================
// HEALTH
// ============================================================================

// Health returns health status.
// GET /health
func (s *Server) Health(c echo.Context) error {
	body := map[string]any{
		"status":   "healthy",
		"version":  Version,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"sessions": len(s.deps.Sessions.IDs()),
	}
	if s.deps.Index != nil {
		st := s.deps.Index.Stats()
		body["index"] = map[string]any{
			"files":        st.FileCount,
			"chunks":       st.ChunkCount,
			"indexed":      !st.LastIndexed.IsZero(),
			"watching":     st.IsWatching,
			"search_mode":  st.SearchMode,
			"last_indexed": st.LastIndexed,
		}
	}
	return c.JSON(http.StatusOK, body)
}

// ============================================================================
// MODELS
// ============================================================================

// ListModels lists configured models.
// GET /v1/models
func (s *Server) ListModels(c echo.Context) error {
	if s.deps.Models == nil {
		return c.JSON(http.StatusOK, map[string]any{"models": []ModelInfo{}})
	}
	ctx := c.Request().Context()

	configs, err := s.deps.Models.ListModelConfigs(ctx)
	if err != nil {
		s.logger.Error("list models failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list models"))
	}
	def, _ := s.deps.Models.DefaultModelName(ctx)

	models := make([]ModelInfo, len(configs))
	for i, m := range configs {
		models[i] = ModelInfo{
			Name:     m.Name,
			Provider: m.ProviderOrDefault(),
			BaseURL:  m.BaseURL,
			Default:  m.Name == def,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

// ============================================================================
// CHAT
// ============================================================================

// Chat submits a query.
// POST /v1/chat
func (s *Server) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("query is required"))
	}
	if len(req.Query) > MaxQueryLength {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("query exceeds %d bytes", MaxQueryLength)))
	}
	if req.Filters != nil && req.Filters.MaxSnippets < 0 {
		return c.JSON(http.StatusBadRequest, errorBody("filters.max_snippets must be >= 0"))
	}

	id := req.SessionID
	if id == "" {
		id = model.NewSessionID()
	} else if _, err := s.loadSession(ctx, id); err != nil {
		return s.sessionError(c, id, err)
	}

	orch := s.orchestratorFor(id)
	if orch.State() == chat.StateIdle {
		orch.SetModel(req.Model)
	}

	id, accepted := orch.Submit(ctx, id, req.Query, req.Filters)
	if !accepted {
		if orch.State() != chat.StateIdle {
			return c.JSON(http.StatusConflict, errorBody("a submission is already in flight for this session"))
		}
		return c.JSON(http.StatusUnprocessableEntity, errorBody("the first turn of a session requires filters"))
	}

	// Announce the end of the stream to event subscribers.
	go func() {
		if err := orch.WaitIdle(context.Background()); err == nil {
			if sess, ok := s.deps.Sessions.Get(id); ok {
				s.hub.publish(id, event{Name: eventIdle, Session: sess})
			}
		}
	}()

	status := http.StatusAccepted
	if req.Wait {
		if err := orch.WaitIdle(ctx); err != nil {
			return c.JSON(http.StatusGatewayTimeout, errorBody("client gave up waiting"))
		}
		status = http.StatusOK
	}

	sess, _ := s.deps.Sessions.Get(id)
	return c.JSON(status, ChatResponse{
		SessionID: id,
		State:     orch.State().String(),
		Session:   sess,
	})
}

// ============================================================================
// SESSIONS
// ============================================================================

// ListSessions lists persisted sessions, newest first.
// GET /v1/sessions
func (s *Server) ListSessions(c echo.Context) error {
	if s.deps.Store == nil {
		return c.JSON(http.StatusOK, map[string]any{"sessions": []model.SessionMetadata{}})
	}
	metas, err := s.deps.Store.ListMetadata(c.Request().Context())
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list sessions"))
	}
	if metas == nil {
		metas = []model.SessionMetadata{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": metas})
}

// GetSession returns one session.
// GET /v1/sessions/:id
func (s *Server) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return s.sessionError(c, id, err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Metadata: s.metadataFor(ctx, sess),
		State:    s.stateOf(id),
		Session:  sess,
	})
}

// RenameSession sets a session's display name.
// PATCH /v1/sessions/:id
func (s *Server) RenameSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req RenameRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if s.deps.Store == nil {
		return c.JSON(http.StatusNotFound, errorBody("session not found"))
	}

	if err := s.deps.Store.Rename(ctx, id, req.DisplayName); err != nil {
		if errors.Is(err, storage.ErrEmptyDisplayName) {
			return c.JSON(http.StatusBadRequest, errorBody("display_name is required"))
		}
		return s.sessionError(c, id, err)
	}

	meta, err := s.deps.Store.Metadata(ctx, id)
	if err != nil {
		return s.sessionError(c, id, err)
	}
	return c.JSON(http.StatusOK, meta)
}

// DeleteSession removes a session from memory and disk.
// DELETE /v1/sessions/:id
func (s *Server) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if o := s.existingOrchestrator(id); o != nil && o.State() != chat.StateIdle {
		return c.JSON(http.StatusConflict, errorBody("session is streaming"))
	}

	_, inMemory := s.deps.Sessions.Get(id)
	if s.deps.Store != nil {
		err := s.deps.Store.Delete(ctx, id)
		if err != nil && !(inMemory && errors.Is(err, storage.ErrSessionNotFound)) {
			return s.sessionError(c, id, err)
		}
	} else if !inMemory {
		return c.JSON(http.StatusNotFound, errorBody("session not found"))
	}

	s.deps.Sessions.Delete(id)
	s.dropOrchestrator(id)
	s.hub.publish(id, event{Name: eventDeleted})
	s.hub.closeSession(id)

	s.logger.Info("session deleted", zap.String("session_id", id))
	return c.NoContent(http.StatusNoContent)
}

// ============================================================================
// EVENTS
// ============================================================================

// StreamSessionEvents streams transcript snapshots via SSE until the client
// disconnects or the session is deleted.
// GET /v1/sessions/:id/events
func (s *Server) StreamSessionEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return s.sessionError(c, id, err)
	}

	events, cancel := s.hub.subscribe(id)
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(c, eventTranscript, sessionEvent(sess, s.stateOf(id))); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(c, ev.Name, sessionEvent(ev.Session, s.stateOf(id))); err != nil {
				s.logger.Debug("event stream closed", zap.String("session_id", id), zap.Error(err))
				return nil
			}
			if ev.Name == eventDeleted {
				return nil
			}
		}
	}
}

func sessionEvent(sess *model.ChatSession, state string) map[string]any {
	return map[string]any{
		"state":   state,
		"session": sess,
	}
}

// writeSSE sends one event in SSE format.
func writeSSE(c echo.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	w := c.Response()
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

// loadSession returns the in-memory session, loading it from the store the
// first time it is touched.
func (s *Server) loadSession(ctx context.Context, id string) (*model.ChatSession, error) {
	if sess, ok := s.deps.Sessions.Get(id); ok {
		return sess, nil
	}
	if s.deps.Store == nil {
		return nil, storage.ErrSessionNotFound
	}
	sess, err := s.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.deps.Sessions.Put(sess)
	return sess, nil
}

func (s *Server) metadataFor(ctx context.Context, sess *model.ChatSession) model.SessionMetadata {
	if s.deps.Store != nil {
		if meta, err := s.deps.Store.Metadata(ctx, sess.ID); err == nil {
			return meta
		}
	}
	return model.SessionMetadata{
		ID:          sess.ID,
		DisplayName: model.DefaultDisplayName,
		TurnCount:   len(sess.Turns),
	}
}

func (s *Server) stateOf(id string) string {
	if o := s.existingOrchestrator(id); o != nil {
		return o.State().String()
	}
	return chat.StateIdle.String()
}

func (s *Server) sessionError(c echo.Context, id string, err error) error {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, errorBody("session not found"))
	case errors.Is(err, storage.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, errorBody("invalid session id"))
	default:
		s.logger.Error("session operation failed", zap.String("session_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("session operation failed"))
	}
}
