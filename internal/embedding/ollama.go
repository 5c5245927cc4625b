// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/notechat/internal/ollama"
)

// =============================================================================
// OLLAMA EMBEDDING ENGINE
// =============================================================================

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "nomic-embed-text"

// batchConcurrency bounds parallel requests to the local server.
const batchConcurrency = 4

// OllamaEngine generates embeddings using a local Ollama server.
type OllamaEngine struct {
	client *ollama.Client
	model  string
	dims   atomic.Int64
}

// NewOllamaEngine creates a new Ollama embedding engine.
func NewOllamaEngine(endpoint, model string) *OllamaEngine {
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaEngine{
		client: ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: endpoint}),
		model:  model,
	}
}

// Embed generates an embedding for a single text.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.GenerateEmbedding(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	e.dims.Store(int64(len(out)))
	return out, nil
}

// EmbedBatch generates embeddings for multiple texts. The Ollama endpoint
// takes one prompt per call, so requests run a few at a time.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the length of the last vector produced.
func (e *OllamaEngine) Dimensions() int {
	return int(e.dims.Load())
}

// Name returns the engine name.
func (e *OllamaEngine) Name() string {
	return "ollama:" + e.model
}
