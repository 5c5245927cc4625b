// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/model"
)

// ErrMissingAPIKey is returned when a remote model has no API key.
var ErrMissingAPIKey = errors.New("API key is required")

// contentStreamer is the part of genai.Models the adapter uses.
type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Gemini streams completions from the Google Gemini API.
type Gemini struct {
	pub    chat.Publisher
	logger *zap.Logger

	// newStreamer builds the API client for a configuration.
	newStreamer func(ctx context.Context, cfg model.ModelConfig) (contentStreamer, error)

	mu        sync.Mutex
	streamers map[string]contentStreamer
	limiters  map[string]*rate.Limiter
}

// NewGemini creates the Gemini adapter.
func NewGemini(pub chat.Publisher, logger *zap.Logger) *Gemini {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		pub:         pub,
		logger:      logger.Named("gemini"),
		newStreamer: newGenAIStreamer,
		streamers:   make(map[string]contentStreamer),
		limiters:    make(map[string]*rate.Limiter),
	}
}

func newGenAIStreamer(ctx context.Context, cfg model.ModelConfig) (contentStreamer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini model %q: %w", cfg.Name, ErrMissingAPIKey)
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client.Models, nil
}

// StreamCompletion implements chat.Transport.
//
// The first response is pulled before returning so that rejected requests
// surface as an error return rather than as a stream failure.
func (t *Gemini) StreamCompletion(ctx context.Context, sessionID string, cfg model.ModelConfig, msgs []model.Message) error {
	streamer, limiter, err := t.streamerFor(ctx, cfg)
	if err != nil {
		return err
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	contents, config := toGenAI(cfg, msgs)
	next, stop := iter.Pull2(streamer.GenerateContentStream(ctx, cfg.Name, contents, config))

	first, err, ok := next()
	if ok && err != nil {
		stop()
		return fmt.Errorf("gemini %s: %w", cfg.Name, err)
	}

	t.logger.Debug("stream opened", zap.String("session_id", sessionID), zap.String("model", cfg.Name))
	relay(ctx, t.pub, t.logger, sessionID, func(emit emitFunc) error {
		for resp := first; ok; resp, err, ok = next() {
			if err != nil {
				return err
			}
			if resp == nil {
				continue
			}
			if err := emit(resp.Text()); err != nil {
				return err
			}
		}
		return nil
	}, stop)
	return nil
}

func (t *Gemini) streamerFor(ctx context.Context, cfg model.ModelConfig) (contentStreamer, *rate.Limiter, error) {
	key := cfg.BaseURL + "|" + cfg.APIKey

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streamers[key]
	if !ok {
		var err error
		if s, err = t.newStreamer(ctx, cfg); err != nil {
			return nil, nil, err
		}
		t.streamers[key] = s
	}

	lkey := fmt.Sprintf("%s|%g", key, cfg.RequestsPerSecond)
	l, ok := t.limiters[lkey]
	if !ok {
		l = rate.NewLimiter(rate.Inf, 1)
		if cfg.RequestsPerSecond > 0 {
			l = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
		}
		t.limiters[lkey] = l
	}
	return s, l, nil
}

// toGenAI maps the {role, content} projection onto Gemini contents.
// System messages become the system instruction.
func toGenAI(cfg model.ModelConfig, msgs []model.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if cfg.Temperature != 0 {
		temp := float32(cfg.Temperature)
		config.Temperature = &temp
	}
	if cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch model.Role(m.Role) {
		case model.RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, config
}
