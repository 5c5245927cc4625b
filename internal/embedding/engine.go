// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package embedding provides vector embeddings for semantic note search.
// Supports two backends: a local Ollama server and the Google Gemini API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding for a search query.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for documents, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length, or 0 before the first call.
	Dimensions() int

	// Name identifies the engine and model, e.g. "ollama:nomic-embed-text".
	Name() string
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Provider names.
const (
	ProviderNone   = "none"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// ErrDisabled is returned by NewEngine when embeddings are turned off.
var ErrDisabled = errors.New("embeddings disabled")

// Config holds embedding engine configuration.
type Config struct {
	// Provider is "none", "ollama" or "gemini".
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// NewEngine creates an engine from configuration. A "none" or empty
// provider yields ErrDisabled.
func NewEngine(ctx context.Context, cfg Config, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		engine Engine
		err    error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, ErrDisabled
	case ProviderOllama:
		engine = NewOllamaEngine(cfg.BaseURL, cfg.Model)
	case ProviderGemini:
		engine, err = NewGenAIEngine(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'gemini')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding engine ready", zap.String("engine", engine.Name()))
	return engine, nil
}

// =============================================================================
// SIMILARITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1; zero vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// SimilarityResult is one scored corpus entry.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the k corpus vectors most similar to query, best first.
// Vectors of the wrong length are skipped.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
