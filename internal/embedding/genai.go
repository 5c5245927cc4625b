// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// DefaultGenAIModel is used when no model is configured.
const DefaultGenAIModel = "gemini-embedding-001"

// Gemini accepts at most this many contents per embed call.
const genaiBatchLimit = 100

// Task types understood by the Gemini embedding endpoint.
const (
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// contentEmbedder is the part of genai.Models the engine uses.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GenAIEngine generates embeddings using Google's Gemini API. Queries and
// documents are embedded with the matching retrieval task type.
type GenAIEngine struct {
	models contentEmbedder
	model  string
	dims   atomic.Int64
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(ctx context.Context, apiKey, model, baseURL string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	if model == "" {
		model = DefaultGenAIModel
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{models: client.Models, model: model}, nil
}

// Embed generates a query embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, &genai.EmbedContentConfig{TaskType: taskRetrievalQuery})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates document embeddings for multiple texts.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiBatchLimit {
		end := min(start+genaiBatchLimit, len(texts))
		vecs, err := e.embed(ctx, texts[start:end], &genai.EmbedContentConfig{TaskType: taskRetrievalDocument})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *GenAIEngine) embed(ctx context.Context, texts []string, config *genai.EmbedContentConfig) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", embeddingCount(result), len(texts))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vecs[i] = emb.Values
	}
	if len(vecs) > 0 {
		e.dims.Store(int64(len(vecs[0])))
	}
	return vecs, nil
}

func embeddingCount(r *genai.EmbedContentResponse) int {
	if r == nil {
		return 0
	}
	return len(r.Embeddings)
}

// Dimensions returns the length of the last vector produced.
func (e *GenAIEngine) Dimensions() int {
	return int(e.dims.Load())
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return "genai:" + e.model
}
