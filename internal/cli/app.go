// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Component wiring shared by all commands.
//
// Each command asks for the pieces it needs. The store and logger are
// always built; the notes index and the streaming pipeline are built on
// first use so that "sessions list" never touches SQLite or the network.

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/config"
	"github.com/jeranaias/notechat/internal/embedding"
	"github.com/jeranaias/notechat/internal/index"
	"github.com/jeranaias/notechat/internal/logging"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/ollama"
	"github.com/jeranaias/notechat/internal/session"
	"github.com/jeranaias/notechat/internal/storage"
	"github.com/jeranaias/notechat/internal/transport"
)

// busBuffer is the delta channel capacity.
const busBuffer = 256

// flushTimeout bounds the final transcript write on exit.
const flushTimeout = 5 * time.Second

// rootOptions are the global flags.
type rootOptions struct {
	configPath string
	model      string
	verbose    bool
	json       bool
	offline    bool
}

// app holds the components one command invocation uses.
type app struct {
	opts   *rootOptions
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Store
	models *config.Provider

	sessions *chat.Sessions

	// Built by openIndex.
	index *index.NotesIndex

	// Built by startPipeline.
	bus       *chat.Bus
	consumer  *chat.Consumer
	scheduler *session.Scheduler
	transport chat.Transport
	resolver  *chat.Resolver
}

// newApp loads configuration and builds the logger and the transcript store.
func newApp(opts *rootOptions) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFrom(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.offline && !cfg.Offline {
		cfg.Offline = true
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	logCfg := logging.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON}
	if opts.verbose {
		logCfg.Level = "debug"
	}
	logger, _, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	store, err := storage.NewStoreWithDir(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return &app{
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		store:    store,
		models:   config.NewProvider(cfg),
		sessions: chat.NewSessions(),
	}, nil
}

// modelName is the --model flag, empty for the configured default.
func (a *app) modelName() string {
	return a.opts.model
}

// ollamaClient returns a client for the configured Ollama server.
func (a *app) ollamaClient() *ollama.Client {
	cfg := ollama.DefaultConfig()
	cfg.BaseURL = a.cfg.Ollama.URL
	return ollama.NewClientWithConfig(cfg)
}

// openIndex opens the notes index, creating the embedding engine when the
// configured search mode needs one.
func (a *app) openIndex(ctx context.Context) (*index.NotesIndex, error) {
	if a.index != nil {
		return a.index, nil
	}

	icfg := index.DefaultConfig(a.cfg.Notes.Root)
	icfg.DatabasePath = a.cfg.Notes.IndexPath
	icfg.Extensions = a.cfg.Notes.Extensions
	icfg.ChunkSize = a.cfg.Notes.ChunkSize
	icfg.SearchMode = index.SearchMode(strings.ToLower(a.cfg.Notes.SearchMode))
	icfg.Logger = a.logger

	engine, err := embedding.NewEngine(ctx, embedding.Config{
		Provider: a.cfg.Embedding.Provider,
		Model:    a.cfg.Embedding.Model,
		BaseURL:  a.cfg.Embedding.BaseURL,
		APIKey:   a.cfg.Embedding.APIKey(),
	}, a.logger)
	switch {
	case err == nil:
		icfg.Embedder = engine
	case errors.Is(err, embedding.ErrDisabled):
	default:
		return nil, fmt.Errorf("embedding engine: %w", err)
	}

	idx, err := index.New(icfg)
	if err != nil {
		return nil, fmt.Errorf("open notes index: %w", err)
	}
	a.index = idx
	return idx, nil
}

// startPipeline builds the delta bus, its consumer, the transports and the
// persistence scheduler. A notes index that cannot be opened leaves the
// resolver without backends; grounded submissions then record a retrieval
// error in the transcript.
func (a *app) startPipeline(ctx context.Context) {
	if a.bus != nil {
		return
	}

	a.bus = chat.NewBus(busBuffer)
	a.consumer = chat.NewConsumer(a.bus, a.logger)
	a.consumer.Start(ctx)

	a.transport = transport.NewDefaultRouter(
		transport.NewOllama(a.ollamaClient(), a.bus, a.logger),
		transport.NewOpenAI(a.bus, a.logger),
		transport.NewGemini(a.bus, a.logger),
	).SetOffline(a.cfg.Offline)

	a.scheduler = session.NewScheduler(
		session.Config{Delay: a.cfg.Chat.PersistDelay()},
		chat.PersistFunc(a.sessions, a.store),
		session.WithLogger(a.logger),
		session.WithErrorHandler(func(id string, err error) {
			a.logger.Error("transcript write failed", zap.String("session_id", id), zap.Error(err))
		}),
	)

	idx, err := a.openIndex(ctx)
	if err != nil {
		a.logger.Warn("notes index unavailable", zap.Error(err))
		a.resolver = chat.NewResolver(nil, nil, a.logger)
		return
	}
	a.resolver = chat.NewResolver(idx, idx, a.logger)
}

// newOrchestrator returns an orchestrator over the shared pipeline.
func (a *app) newOrchestrator(input chat.InputBuffer, onChange func(*model.ChatSession)) *chat.Orchestrator {
	return chat.NewOrchestrator(a.sessions, a.consumer, chat.Options{
		Resolver:                      a.resolver,
		Models:                        a.models,
		Transport:                     a.transport,
		Store:                         a.store,
		Scheduler:                     a.scheduler,
		Input:                         input,
		Logger:                        a.logger,
		ModelName:                     a.modelName(),
		OnChange:                      onChange,
		LegacySkipUnfilteredFirstTurn: a.cfg.Chat.LegacySkipUnfilteredFirstTurn,
	})
}

// loadSession makes a stored transcript available to orchestrators.
func (a *app) loadSession(ctx context.Context, id string) error {
	if _, ok := a.sessions.Get(id); ok {
		return nil
	}
	sess, err := a.store.Load(ctx, id)
	if err != nil {
		return sessionError(id, err)
	}
	a.sessions.Put(sess)
	return nil
}

// Close flushes pending transcript writes and releases everything built.
func (a *app) Close() {
	if a.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := a.scheduler.Flush(ctx); err != nil {
			a.logger.Error("flush transcripts", zap.Error(err))
		}
		cancel()
		a.scheduler.Stop()
	}
	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("close notes index", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
