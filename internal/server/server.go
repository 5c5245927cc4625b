// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/index"
	"github.com/jeranaias/notechat/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8085"

	// MaxQueryLength is the maximum length for a query.
	MaxQueryLength = 100000

	// MaxRequestBodySize is the maximum size for request bodies.
	MaxRequestBodySize = "1M"

	// HeartbeatInterval is how often idle event streams send a comment line.
	HeartbeatInterval = 15 * time.Second

	// Version is the server version.
	Version = "0.3.0"
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// SessionStore is the durable transcript store the server manages.
type SessionStore interface {
	chat.Store
	Load(ctx context.Context, id string) (*model.ChatSession, error)
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, displayName string) error
	Metadata(ctx context.Context, id string) (model.SessionMetadata, error)
}

// IndexStats reports the state of the notes index.
type IndexStats interface {
	Stats() index.Stats
}

// Config configures the server.
type Config struct {
	Addr string

	// AuthToken, when set, is required as a bearer token on /v1 routes.
	AuthToken string

	// RequestsPerSecond limits requests per client IP. Zero disables it.
	RequestsPerSecond float64

	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string

	// LegacySkipUnfilteredFirstTurn is passed to every orchestrator.
	LegacySkipUnfilteredFirstTurn bool
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Sessions  *chat.Sessions
	Consumer  *chat.Consumer
	Store     SessionStore
	Scheduler chat.PersistScheduler
	Resolver  chat.ContextResolver
	Models    chat.ModelProvider
	Transport chat.Transport
	Index     IndexStats
	Logger    *zap.Logger
}

// ============================================================================
// SERVER
// ============================================================================

// Server hosts sessions over HTTP. Each session gets its own orchestrator,
// so sessions stream independently while each allows one submission at a
// time.
type Server struct {
	config Config
	deps   Deps
	echo   *echo.Echo
	hub    *hub
	logger *zap.Logger

	mu            sync.Mutex
	orchestrators map[string]*chat.Orchestrator
	started       time.Time
}

// New creates a server with its routes registered.
func New(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Sessions == nil {
		deps.Sessions = chat.NewSessions()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config:        cfg,
		deps:          deps,
		echo:          e,
		hub:           newHub(),
		logger:        logger.Named("server"),
		orchestrators: make(map[string]*chat.Orchestrator),
		started:       time.Now(),
	}
	s.registerMiddleware()
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes registers routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)

	v1 := e.Group("/v1", s.authMiddleware())
	v1.GET("/models", s.ListModels)
	v1.POST("/chat", s.Chat)
	v1.GET("/sessions", s.ListSessions)
	v1.GET("/sessions/:id", s.GetSession)
	v1.PATCH("/sessions/:id", s.RenameSession)
	v1.DELETE("/sessions/:id", s.DeleteSession)
	v1.GET("/sessions/:id/events", s.StreamSessionEvents)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.config.Addr))
		if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown closes event streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.echo.Shutdown(ctx)
}

// orchestratorFor returns the orchestrator for a session, creating it on
// first use.
func (s *Server) orchestratorFor(id string) *chat.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orchestrators[id]; ok {
		return o
	}
	o := chat.NewOrchestrator(s.deps.Sessions, s.deps.Consumer, chat.Options{
		Resolver:  s.deps.Resolver,
		Models:    s.deps.Models,
		Transport: s.deps.Transport,
		Store:     s.deps.Store,
		Scheduler: s.deps.Scheduler,
		Logger:    s.deps.Logger,
		OnChange: func(sess *model.ChatSession) {
			s.hub.publish(sess.ID, event{Name: eventTranscript, Session: sess})
		},
		LegacySkipUnfilteredFirstTurn: s.config.LegacySkipUnfilteredFirstTurn,
	})
	s.orchestrators[id] = o
	return o
}

// existingOrchestrator returns the orchestrator for id without creating one.
func (s *Server) existingOrchestrator(id string) *chat.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orchestrators[id]
}

func (s *Server) dropOrchestrator(id string) {
	s.mu.Lock()
	delete(s.orchestrators, id)
	s.mu.Unlock()
}

// WaitIdle blocks until no session has a submission in flight.
func (s *Server) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	orchs := make([]*chat.Orchestrator, 0, len(s.orchestrators))
	for _, o := range s.orchestrators {
		orchs = append(orchs, o)
	}
	s.mu.Unlock()

	for _, o := range orchs {
		if err := o.WaitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}
