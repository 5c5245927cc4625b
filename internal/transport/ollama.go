// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/ollama"
)

// Ollama streams completions from a local Ollama server.
type Ollama struct {
	def    *ollama.Client
	pub    chat.Publisher
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*ollama.Client
}

// NewOllama creates the Ollama adapter. def serves models without a BaseURL.
func NewOllama(def *ollama.Client, pub chat.Publisher, logger *zap.Logger) *Ollama {
	if def == nil {
		def = ollama.NewClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ollama{
		def:     def,
		pub:     pub,
		logger:  logger.Named("ollama"),
		clients: make(map[string]*ollama.Client),
	}
}

// StreamCompletion implements chat.Transport.
func (t *Ollama) StreamCompletion(ctx context.Context, sessionID string, cfg model.ModelConfig, msgs []model.Message) error {
	stream, err := t.clientFor(cfg).OpenChatStream(ctx, cfg.Name, ollama.FromMessages(msgs), ollama.OptionsFor(cfg))
	if err != nil {
		return err
	}

	t.logger.Debug("stream opened", zap.String("session_id", sessionID), zap.String("model", cfg.Name))
	relay(ctx, t.pub, t.logger, sessionID, func(emit emitFunc) error {
		var emitErr error
		err := stream.Process(ctx, func(chunk ollama.StreamChunk) {
			if emitErr != nil {
				return
			}
			if emitErr = emit(chunk.Content); emitErr != nil {
				_ = stream.Close()
			}
		})
		if emitErr != nil {
			return emitErr
		}
		return err
	}, func() { _ = stream.Close() })
	return nil
}

func (t *Ollama) clientFor(cfg model.ModelConfig) *ollama.Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" || base == t.def.BaseURL() {
		return t.def
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[base]
	if !ok {
		c = ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: base})
		t.clients[base] = c
	}
	return c
}
