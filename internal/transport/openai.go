// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/cloud"
	"github.com/jeranaias/notechat/internal/model"
)

// OpenAI streams completions from an OpenAI-compatible endpoint.
// Clients are cached per endpoint and key so their rate limiters are shared
// by every submission using the same model configuration.
type OpenAI struct {
	pub    chat.Publisher
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*cloud.Client
}

// NewOpenAI creates the OpenAI-compatible adapter.
func NewOpenAI(pub chat.Publisher, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		pub:     pub,
		logger:  logger.Named("openai"),
		clients: make(map[string]*cloud.Client),
	}
}

// StreamCompletion implements chat.Transport.
func (t *OpenAI) StreamCompletion(ctx context.Context, sessionID string, cfg model.ModelConfig, msgs []model.Message) error {
	req := cloud.ChatRequest{
		Model:       cfg.Name,
		Messages:    make([]cloud.ChatMessage, len(msgs)),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	for i, m := range msgs {
		req.Messages[i] = cloud.ChatMessage{Role: m.Role, Content: m.Content}
	}

	stream, err := t.clientFor(cfg).OpenChatStream(ctx, req)
	if err != nil {
		return err
	}

	t.logger.Debug("stream opened", zap.String("session_id", sessionID), zap.String("model", cfg.Name))
	relay(ctx, t.pub, t.logger, sessionID, func(emit emitFunc) error {
		var emitErr error
		err := stream.Process(ctx, func(chunk cloud.StreamChunk) {
			if emitErr != nil {
				return
			}
			if emitErr = emit(chunk.GetContent()); emitErr != nil {
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

func (t *OpenAI) clientFor(cfg model.ModelConfig) *cloud.Client {
	key := fmt.Sprintf("%s|%s|%g", cfg.BaseURL, cfg.APIKey, cfg.RequestsPerSecond)

	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[key]
	if !ok {
		c = cloud.NewClient(cfg.APIKey).
			WithBaseURL(cfg.BaseURL).
			WithRateLimit(cfg.RequestsPerSecond).
			WithLogger(t.logger)
		t.clients[key] = c
	}
	return c
}
