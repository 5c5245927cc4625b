// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/notechat/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

// =============================================================================
// HEALTH AND MODELS
// =============================================================================

func TestCheckRunning(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	})
	if err := c.CheckRunning(context.Background()); err != nil {
		t.Fatalf("CheckRunning() error = %v", err)
	}
}

func TestCheckRunning_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: time.Second})
	err := c.CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Fatalf("CheckRunning() error = %v, want not running", err)
	}
}

func TestListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ListModelsResponse{Models: []ModelInfo{
			{Name: "llama3.1", Size: 4 << 30},
			{Name: "nomic-embed-text", Size: 270 << 20},
		}})
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0].Name != "llama3.1" {
		t.Fatalf("ListModels() = %+v", models)
	}
	if got := models[0].FormatSize(); got != "4.0 GB" {
		t.Errorf("FormatSize() = %q, want 4.0 GB", got)
	}
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, tt := range tests {
		m := ModelInfo{Size: tt.size}
		if got := m.FormatSize(); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestChatStream_DeliversChunksInOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream || req.Model != "llama3.1" || len(req.Messages) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Options == nil || req.Options.Temperature != 0.2 {
			t.Errorf("options = %+v, want temperature 0.2", req.Options)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"llama3.1","message":{"role":"assistant","content":"The "},"done":false}`+"\n")
		_, _ = io.WriteString(w, "\n")
		_, _ = io.WriteString(w, `not json`+"\n")
		_, _ = io.WriteString(w, `{"model":"llama3.1","message":{"role":"assistant","content":"answer."},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"llama3.1","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2}`+"\n")
	})

	msgs := FromMessages([]model.Message{{Role: "user", Content: "What is X?"}})
	opts := OptionsFor(model.ModelConfig{Temperature: 0.2})

	var got []string
	var last StreamChunk
	err := c.ChatStream(context.Background(), "llama3.1", msgs, opts, func(chunk StreamChunk) {
		if chunk.Content != "" {
			got = append(got, chunk.Content)
		}
		last = chunk
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if strings.Join(got, "") != "The answer." {
		t.Errorf("content = %q, want %q", strings.Join(got, ""), "The answer.")
	}
	if !last.Done || last.DoneReason != "stop" || last.CompletionTokens != 2 {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestOpenChatStream_ModelNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	})

	_, err := c.OpenChatStream(context.Background(), "nope", nil, nil)
	if !IsModelNotFound(err) {
		t.Fatalf("OpenChatStream() error = %v, want model not found", err)
	}
	if !strings.Contains(err.Error(), "try pulling it first") {
		t.Errorf("error message %q should carry server text", err.Error())
	}
}

func TestOpenChatStream_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.OpenChatStream(context.Background(), "llama3.1", nil, nil)
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrTypeInvalidResponse {
		t.Fatalf("OpenChatStream() error = %v, want invalid response", err)
	}
}

func TestStreamReader_ErrorLine(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		`{"message":{"content":"partial"},"done":false}` + "\n" +
			`{"error":"out of memory"}` + "\n"))
	r := NewStreamReader(body)

	var got string
	err := r.Process(context.Background(), func(c StreamChunk) { got += c.Content })
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("Process() error = %v, want out of memory", err)
	}
	if got != "partial" || r.GetAccumulated() != "partial" {
		t.Errorf("content = %q, accumulated = %q", got, r.GetAccumulated())
	}
}

func TestStreamReader_TruncatedStream(t *testing.T) {
	body := io.NopCloser(strings.NewReader(`{"message":{"content":"a"},"done":false}`))
	r := NewStreamReader(body)

	err := r.Process(context.Background(), func(StreamChunk) {})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Process() error = %v, want unexpected EOF", err)
	}
	if r.GetTokenCount() != 1 {
		t.Errorf("GetTokenCount() = %d, want 1", r.GetTokenCount())
	}
}

func TestStreamReader_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewStreamReader(pr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Process(ctx, func(StreamChunk) {}) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Process() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process() did not return after cancel")
	}
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

func TestGenerateEmbedding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req EmbeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(EmbeddingResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	})

	vec, err := c.GenerateEmbedding(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("GenerateEmbedding() error = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
}

func TestGenerateEmbedding_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"embedding":[]}`)
	})

	if _, err := c.GenerateEmbedding(context.Background(), "m", "x"); err == nil {
		t.Fatal("GenerateEmbedding() expected error for empty vector")
	}
}

func TestClientError_Is(t *testing.T) {
	wrapped := &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: context.DeadlineExceeded}
	if !IsTimeout(wrapped) {
		t.Error("IsTimeout() = false for timeout error")
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("errors.Is should reach the cause")
	}
	if IsNotRunning(wrapped) {
		t.Error("IsNotRunning() = true for timeout error")
	}
}
