// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/offline"
	"github.com/jeranaias/notechat/internal/ollama"
)

// recorder collects published deltas.
type recorder struct {
	mu     sync.Mutex
	deltas []chat.Delta
	done   chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) Publish(ctx context.Context, d chat.Delta) error {
	r.mu.Lock()
	r.deltas = append(r.deltas, d)
	r.mu.Unlock()
	if d.Done {
		r.once.Do(func() { close(r.done) })
	}
	return nil
}

func (r *recorder) wait(t *testing.T) []chat.Delta {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no Done delta published")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Delta(nil), r.deltas...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deltas)
}

func joined(ds []chat.Delta) string {
	var sb strings.Builder
	for _, d := range ds {
		sb.WriteString(d.Content)
	}
	return sb.String()
}

var userMsgs = []model.Message{{Role: "user", Content: "What is X?"}}

// =============================================================================
// OLLAMA
// =============================================================================

func TestOllama_RelaysFragmentsThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"The "},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"content":"answer."},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"content":""},"done":true}`+"\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}), rec, zap.NewNop())

	err := tr.StreamCompletion(context.Background(), "s1", model.ModelConfig{Name: "llama3.1"}, userMsgs)
	require.NoError(t, err)

	deltas := rec.wait(t)
	require.Len(t, deltas, 3)
	assert.Equal(t, "The answer.", joined(deltas))
	last := deltas[len(deltas)-1]
	assert.True(t, last.Done)
	assert.NoError(t, last.Err)
	for _, d := range deltas {
		assert.Equal(t, "s1", d.SessionID)
	}
}

func TestOllama_RejectionPublishesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}), rec, nil)

	err := tr.StreamCompletion(context.Background(), "s1", model.ModelConfig{Name: "nope"}, userMsgs)
	require.Error(t, err)
	assert.True(t, ollama.IsModelNotFound(err))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestOllama_MidStreamFailureIsErrorDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"partial"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"error":"runner crashed"}`+"\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}), rec, nil)

	require.NoError(t, tr.StreamCompletion(context.Background(), "s1", model.ModelConfig{Name: "m"}, userMsgs))
	deltas := rec.wait(t)
	require.Len(t, deltas, 2)
	assert.Equal(t, "partial", deltas[0].Content)
	assert.True(t, deltas[1].Done)
	assert.ErrorContains(t, deltas[1].Err, "runner crashed")
}

func TestOllama_UsesPerModelBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"remote"},"done":true}`+"\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	// The default client points nowhere useful.
	tr := NewOllama(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:1"}), rec, nil)

	cfg := model.ModelConfig{Name: "m", BaseURL: srv.URL + "/"}
	require.NoError(t, tr.StreamCompletion(context.Background(), "s1", cfg, userMsgs))
	assert.Equal(t, "remote", joined(rec.wait(t)))
	assert.Same(t, tr.clientFor(cfg), tr.clientFor(cfg))
}

// =============================================================================
// OPENAI
// =============================================================================

func TestOpenAI_RelaysSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"The \"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"answer.\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	tr := NewOpenAI(rec, nil)
	cfg := model.ModelConfig{Name: "gpt-4o-mini", Provider: model.ProviderOpenAI, BaseURL: srv.URL, APIKey: "sk-test"}

	require.NoError(t, tr.StreamCompletion(context.Background(), "s2", cfg, userMsgs))
	deltas := rec.wait(t)
	assert.Equal(t, "The answer.", joined(deltas))
	assert.NoError(t, deltas[len(deltas)-1].Err)
}

func TestOpenAI_MissingKeyIsRejected(t *testing.T) {
	rec := newRecorder()
	tr := NewOpenAI(rec, nil)

	err := tr.StreamCompletion(context.Background(), "s2", model.ModelConfig{Name: "m", Provider: "openai"}, userMsgs)
	require.Error(t, err)
	assert.Zero(t, rec.count())
}

// =============================================================================
// GEMINI
// =============================================================================

type fakeStreamer struct {
	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	texts       []string
	failFirst   error
	failAfter   error
}

func (f *fakeStreamer) GenerateContentStream(ctx context.Context, name string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.gotModel, f.gotContents, f.gotConfig = name, contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		if f.failFirst != nil {
			yield(nil, f.failFirst)
			return
		}
		for _, text := range f.texts {
			resp := &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
			}
			if !yield(resp, nil) {
				return
			}
		}
		if f.failAfter != nil {
			yield(nil, f.failAfter)
		}
	}
}

func newTestGemini(pub chat.Publisher, fs *fakeStreamer) *Gemini {
	g := NewGemini(pub, nil)
	g.newStreamer = func(context.Context, model.ModelConfig) (contentStreamer, error) { return fs, nil }
	return g
}

func TestGemini_RelaysAndMapsRoles(t *testing.T) {
	fs := &fakeStreamer{texts: []string{"The ", "answer."}}
	rec := newRecorder()
	g := newTestGemini(rec, fs)

	msgs := []model.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "What is X?"},
	}
	cfg := model.ModelConfig{Name: "gemini-2.0-flash", Provider: "gemini", Temperature: 0.5, MaxTokens: 100}
	require.NoError(t, g.StreamCompletion(context.Background(), "s3", cfg, msgs))

	deltas := rec.wait(t)
	assert.Equal(t, "The answer.", joined(deltas))
	assert.Equal(t, "gemini-2.0-flash", fs.gotModel)
	require.Len(t, fs.gotContents, 3)
	assert.Equal(t, string(genai.RoleModel), fs.gotContents[1].Role)
	require.NotNil(t, fs.gotConfig.SystemInstruction)
	require.NotNil(t, fs.gotConfig.Temperature)
	assert.InDelta(t, 0.5, *fs.gotConfig.Temperature, 1e-6)
	assert.EqualValues(t, 100, fs.gotConfig.MaxOutputTokens)
}

func TestGemini_FirstErrorIsRejection(t *testing.T) {
	fs := &fakeStreamer{failFirst: errors.New("API key not valid")}
	rec := newRecorder()
	g := newTestGemini(rec, fs)

	err := g.StreamCompletion(context.Background(), "s3", model.ModelConfig{Name: "g", Provider: "gemini"}, userMsgs)
	require.ErrorContains(t, err, "API key not valid")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestGemini_LaterErrorIsErrorDone(t *testing.T) {
	fs := &fakeStreamer{texts: []string{"par", "tial"}, failAfter: errors.New("quota")}
	rec := newRecorder()
	g := newTestGemini(rec, fs)

	require.NoError(t, g.StreamCompletion(context.Background(), "s3", model.ModelConfig{Name: "g"}, userMsgs))
	deltas := rec.wait(t)
	assert.Equal(t, "partial", joined(deltas))
	assert.ErrorContains(t, deltas[len(deltas)-1].Err, "quota")
}

func TestGemini_EmptyStream(t *testing.T) {
	rec := newRecorder()
	g := newTestGemini(rec, &fakeStreamer{})

	require.NoError(t, g.StreamCompletion(context.Background(), "s3", model.ModelConfig{Name: "g"}, userMsgs))
	deltas := rec.wait(t)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Done)
	assert.NoError(t, deltas[0].Err)
}

func TestGemini_MissingKey(t *testing.T) {
	_, err := newGenAIStreamer(context.Background(), model.ModelConfig{Name: "g"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

// =============================================================================
// ROUTER
// =============================================================================

type stubTransport struct{ calls []string }

func (s *stubTransport) StreamCompletion(ctx context.Context, sessionID string, cfg model.ModelConfig, msgs []model.Message) error {
	s.calls = append(s.calls, cfg.Name)
	return nil
}

func TestRouter_DispatchesByProvider(t *testing.T) {
	local, remote := &stubTransport{}, &stubTransport{}
	r := NewRouter().Register(model.ProviderOllama, local).Register(model.ProviderOpenAI, remote)

	require.NoError(t, r.StreamCompletion(context.Background(), "s", model.ModelConfig{Name: "a"}, nil))
	require.NoError(t, r.StreamCompletion(context.Background(), "s", model.ModelConfig{Name: "b", Provider: "OpenAI"}, nil))

	assert.Equal(t, []string{"a"}, local.calls)
	assert.Equal(t, []string{"b"}, remote.calls)
	assert.Equal(t, []string{"ollama", "openai"}, r.Providers())

	err := r.StreamCompletion(context.Background(), "s", model.ModelConfig{Name: "c", Provider: "bedrock"}, nil)
	var upe *UnsupportedProviderError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, "bedrock", upe.Provider)
}

func TestRouter_OfflineRefusesCloudModels(t *testing.T) {
	local, remote := &stubTransport{}, &stubTransport{}
	r := NewRouter().Register(model.ProviderOllama, local).Register(model.ProviderOpenAI, remote).SetOffline(true)

	require.NoError(t, r.StreamCompletion(context.Background(), "s", model.ModelConfig{Name: "a"}, nil))

	err := r.StreamCompletion(context.Background(), "s", model.ModelConfig{Name: "b", Provider: "openai"}, nil)
	require.ErrorIs(t, err, offline.ErrCloudBlocked)

	err = r.StreamCompletion(context.Background(), "s", model.ModelConfig{Name: "c", BaseURL: "http://gpu-box:11434"}, nil)
	require.ErrorIs(t, err, offline.ErrNonLocalhost)

	assert.Equal(t, []string{"a"}, local.calls)
	assert.Empty(t, remote.calls)
}

// The full path: orchestrator, bus, consumer and a real Ollama adapter.
func TestEndToEnd_OrchestratorOverOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"The answer."},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"done":true}`+"\n")
	}))
	defer srv.Close()

	bus := chat.NewBus(16)
	defer bus.Close()
	consumer := chat.NewConsumer(bus, nil)
	consumer.Start(context.Background())
	defer consumer.Stop()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	router := NewDefaultRouter(NewOllama(client, bus, nil), nil, nil)

	sessions := chat.NewSessions()
	orch := chat.NewOrchestrator(sessions, consumer, chat.Options{
		Models:    staticModels{cfg: model.ModelConfig{Name: "llama3.1"}},
		Transport: router,
	})

	id, ok := orch.Submit(context.Background(), "", "What is X?", nil)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.WaitIdle(ctx))

	s, found := sessions.Get(id)
	require.True(t, found)
	require.Len(t, s.Turns, 2)
	assert.Equal(t, "What is X?", s.Turns[0].Content)
	assert.Equal(t, "The answer.", s.Turns[1].Content)
	assert.Equal(t, model.StatusSuccess, s.Turns[1].Status)
}

type staticModels struct{ cfg model.ModelConfig }

func (m staticModels) DefaultModelName(context.Context) (string, error) { return m.cfg.Name, nil }
func (m staticModels) ListModelConfigs(context.Context) ([]model.ModelConfig, error) {
	return []model.ModelConfig{m.cfg}, nil
}
