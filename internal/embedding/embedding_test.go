// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestFindTopK(t *testing.T) {
	corpus := [][]float32{{0, 1}, {1, 0}, {1, 1}, {1}}
	got := FindTopK([]float32{1, 0}, corpus, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(context.Background(), Config{Provider: "none"}, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewEngine(context.Background(), Config{Provider: "word2vec"}, nil)
	assert.ErrorContains(t, err, "unsupported embedding provider")

	_, err = NewEngine(context.Background(), Config{Provider: "gemini"}, nil)
	assert.ErrorContains(t, err, "API key is required")

	e, err := NewEngine(context.Background(), Config{Provider: "ollama"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama:"+DefaultOllamaModel, e.Name())
}

func TestOllamaEngine_EmbedBatchKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Encode the prompt length so order is checkable.
		_ = json.NewEncoder(w).Encode(map[string][]float64{
			"embedding": {float64(len(req.Prompt)), 1},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL, "nomic-embed-text")
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.EqualValues(t, len(texts), calls.Load())
	assert.Equal(t, 2, e.Dimensions())
}

func TestOllamaEngine_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEngine(srv.URL, "missing").EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "model not found"))
}

type fakeEmbedder struct {
	calls []*genai.EmbedContentConfig
	sizes []int
	err   error
}

func (f *fakeEmbedder) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.calls = append(f.calls, config)
	f.sizes = append(f.sizes, len(contents))
	if f.err != nil {
		return nil, f.err
	}
	resp := &genai.EmbedContentResponse{}
	for range contents {
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{0.1, 0.2, 0.3}})
	}
	return resp, nil
}

func TestGenAIEngine_TaskTypesAndBatching(t *testing.T) {
	fe := &fakeEmbedder{}
	e := &GenAIEngine{models: fe, model: DefaultGenAIModel}

	_, err := e.Embed(context.Background(), "query")
	require.NoError(t, err)

	texts := make([]string, 150)
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 150)

	require.Len(t, fe.calls, 3)
	assert.EqualValues(t, taskRetrievalQuery, fe.calls[0].TaskType)
	assert.EqualValues(t, taskRetrievalDocument, fe.calls[1].TaskType)
	assert.Equal(t, []int{1, 100, 50}, fe.sizes)
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, "genai:gemini-embedding-001", e.Name())
}

func TestGenAIEngine_Error(t *testing.T) {
	e := &GenAIEngine{models: &fakeEmbedder{err: errors.New("quota exceeded")}, model: "m"}
	_, err := e.Embed(context.Background(), "q")
	assert.ErrorContains(t, err, "quota exceeded")
}
