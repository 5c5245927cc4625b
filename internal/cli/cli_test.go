// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/ollama"
	"github.com/jeranaias/notechat/internal/storage"
)

// =============================================================================
// FIXTURES
// =============================================================================

// testEnv is an isolated notechat home with a notes directory.
type testEnv struct {
	home  string
	notes string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ForceColorsEnabled(false)

	env := &testEnv{home: t.TempDir(), notes: t.TempDir()}
	t.Setenv("NOTECHAT_HOME", env.home)
	t.Setenv("NOTECHAT_NOTES_DIR", env.notes)
	t.Setenv("NOTECHAT_STORE_DIR", "")
	t.Setenv("NOTECHAT_MODEL", "")
	t.Setenv("NOTECHAT_LOG_LEVEL", "error")
	t.Setenv("NOTECHAT_OFFLINE", "")

	require.NoError(t, os.WriteFile(filepath.Join(env.notes, "garden.md"),
		[]byte("# Garden\n\nTomatoes grow best against the south fence.\n"), 0644))
	return env
}

func (e *testEnv) writeConfig(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.home, "config.toml"), []byte(body), 0600))
}

func (e *testEnv) store(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.NewStoreWithDir(filepath.Join(e.home, "sessions"))
	require.NoError(t, err)
	return s
}

// seedSession stores a grounded two-turn session.
func (e *testEnv) seedSession(t *testing.T, id, name string) {
	t.Helper()
	ctx := context.Background()
	s := e.store(t)
	sess := &model.ChatSession{ID: id, Turns: []model.ChatTurn{
		{
			Role:           model.RoleUser,
			Content:        "Context:\nTomatoes grow best against the south fence.\n\nQuestion: where do tomatoes grow?",
			VisibleContent: "where do tomatoes grow?",
			Status:         model.StatusSuccess,
			Context:        []model.ContextSnippet{{SourceID: "garden.md", Content: "Tomatoes grow best against the south fence.", Score: 1.5}},
		},
		model.NewAssistantTurn("Against the south fence.", model.StatusSuccess),
	}}
	require.NoError(t, s.Persist(ctx, sess))
	require.NoError(t, s.AddMetadata(ctx, model.SessionMetadata{ID: id, DisplayName: name, TurnCount: 2}))
}

// fakeOllama serves /api/tags and streams a fixed answer from /api/chat.
type fakeOllama struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []string
}

func newFakeOllama(t *testing.T, fragments ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = io.WriteString(w, `{"models":[{"name":"llama3.1:latest","size":4920000000},{"name":"mistral:7b","size":4100000000}]}`)
		case "/api/chat":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.bodies = append(f.bodies, string(body))
			f.mu.Unlock()
			for _, frag := range fragments {
				b, _ := json.Marshal(map[string]any{"message": map[string]string{"content": frag}, "done": false})
				_, _ = w.Write(append(b, '\n'))
			}
			_, _ = io.WriteString(w, `{"message":{"content":""},"done":true}`+"\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	t.Setenv("NOTECHAT_OLLAMA_URL", f.URL)
	return f
}

func (f *fakeOllama) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root, _ := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// syncBuffer is a bytes.Buffer safe for the consumer goroutine to write to.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// =============================================================================
// ROOT AND VERSION
// =============================================================================

func TestRootRegistersCommands(t *testing.T) {
	root, _ := newRootCmd()
	for _, name := range []string{"chat", "ask", "sessions", "index", "models", "serve", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "notechat "+Version)
}

func TestChatRequiresTerminal(t *testing.T) {
	if IsTTY() {
		t.Skip("stdin is a terminal")
	}
	newTestEnv(t)
	_, _, err := executeCLI(t, "chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notechat ask")
}

func TestInvalidConfigIsConfigError(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, "[notes]\nsearch_mode = \"fuzzy\"\n")

	_, _, err := executeCLI(t, "sessions", "list")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessionsListEmpty(t *testing.T) {
	newTestEnv(t)
	stdout, _, err := executeCLI(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No sessions found.")
}

func TestSessionsListShowsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")
	time.Sleep(10 * time.Millisecond)
	env.seedSession(t, "1718000000001", "Budget")

	stdout, _, err := executeCLI(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Garden plans")
	assert.Less(t, strings.Index(stdout, "Budget"), strings.Index(stdout, "Garden plans"))
}

func TestSessionsListJSON(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")

	stdout, _, err := executeCLI(t, "sessions", "list", "--json")
	require.NoError(t, err)

	var metas []model.SessionMetadata
	require.NoError(t, json.Unmarshal([]byte(stdout), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "1718000000000", metas[0].ID)
	assert.Equal(t, 2, metas[0].TurnCount)
}

func TestSessionsListSearch(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")

	stdout, _, err := executeCLI(t, "sessions", "list", "--search", "south fence")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Garden plans")

	stdout, _, err = executeCLI(t, "sessions", "list", "--search", "kubernetes")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No sessions found.")
}

func TestSessionsShow(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")

	stdout, _, err := executeCLI(t, "sessions", "show", "1718000000000")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Garden plans")
	assert.Contains(t, stdout, "You\nwhere do tomatoes grow?")
	assert.Contains(t, stdout, "Assistant\nAgainst the south fence.")
	assert.Contains(t, stdout, "garden.md (1.50)")
	assert.NotContains(t, stdout, "Question:")
}

func TestSessionsShowUnknown(t *testing.T) {
	newTestEnv(t)
	_, _, err := executeCLI(t, "sessions", "show", "1718000000000")
	require.Error(t, err)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestSessionsRename(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")

	_, _, err := executeCLI(t, "sessions", "rename", "1718000000000", "Spring", "planting")
	require.NoError(t, err)

	meta, err := env.store(t).Metadata(context.Background(), "1718000000000")
	require.NoError(t, err)
	assert.Equal(t, "Spring planting", meta.DisplayName)

	_, _, err = executeCLI(t, "sessions", "rename", "1718000000009", "Nope")
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestSessionsDelete(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")

	t.Run("json mode needs --yes", func(t *testing.T) {
		_, _, err := executeCLI(t, "sessions", "delete", "1718000000000", "--json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--yes")
	})

	t.Run("declined", func(t *testing.T) {
		root, _ := newRootCmd()
		out := &bytes.Buffer{}
		root.SetOut(out)
		root.SetIn(strings.NewReader("n\n"))
		root.SetArgs([]string{"sessions", "delete", "1718000000000"})
		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), "Cancelled.")
	})

	t.Run("confirmed", func(t *testing.T) {
		_, _, err := executeCLI(t, "sessions", "delete", "1718000000000", "--yes")
		require.NoError(t, err)

		_, err = env.store(t).Load(context.Background(), "1718000000000")
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})
}

func TestSessionsExport(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")
	outDir := t.TempDir()

	stdout, _, err := executeCLI(t, "sessions", "export", "1718000000000", "--format", "yaml", "--output", outDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "exported to")

	matches, err := filepath.Glob(filepath.Join(outDir, "chat_*_1718000000000.yaml"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Garden plans")
	assert.Contains(t, string(data), "garden.md")
}

func TestSessionsExportUnknownFormat(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")

	_, _, err := executeCLI(t, "sessions", "export", "1718000000000", "--format", "pdf")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

// =============================================================================
// INDEX
// =============================================================================

func TestIndexCommand(t *testing.T) {
	newTestEnv(t)

	stdout, _, err := executeCLI(t, "index")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Notes index")
	assert.Contains(t, stdout, "fulltext")

	stdout, _, err = executeCLI(t, "index", "--stats", "--json")
	require.NoError(t, err)
	var stats struct {
		FileCount  int
		ChunkCount int
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 1, stats.ChunkCount)
}

// =============================================================================
// ASK
// =============================================================================

func TestAskStreamsGroundedAnswer(t *testing.T) {
	newTestEnv(t)
	fake := newFakeOllama(t, "Against ", "the south fence.")

	stdout, stderr, err := executeCLI(t, "ask", "--source", "garden.md", "where do tomatoes grow?")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Against the south fence.")
	assert.Contains(t, stderr, "session ")

	reqs := fake.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0], "Tomatoes grow best against the south fence.")
	assert.Contains(t, reqs[0], "where do tomatoes grow?")

	// The transcript was saved with both turns.
	stdout, _, err = executeCLI(t, "sessions", "list", "--json")
	require.NoError(t, err)
	var metas []model.SessionMetadata
	require.NoError(t, json.Unmarshal([]byte(stdout), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, 2, metas[0].TurnCount)
}

func TestAskJSONPrintsTranscript(t *testing.T) {
	newTestEnv(t)
	newFakeOllama(t, "Hello.")

	stdout, _, err := executeCLI(t, "ask", "--no-context", "--json", "hi")
	require.NoError(t, err)

	var sess model.ChatSession
	require.NoError(t, json.Unmarshal([]byte(stdout), &sess))
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "hi", sess.Turns[0].Content)
	assert.Equal(t, "Hello.", sess.Turns[1].Content)
	assert.Equal(t, model.StatusSuccess, sess.Turns[1].Status)
}

func TestAskContinuesSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "1718000000000", "Garden plans")
	fake := newFakeOllama(t, "Plant in May.")

	_, _, err := executeCLI(t, "ask", "--session", "1718000000000", "when should I plant?")
	require.NoError(t, err)

	sess, err := env.store(t).Load(context.Background(), "1718000000000")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 4)
	assert.Empty(t, sess.Turns[2].Context)
	assert.Equal(t, "Plant in May.", sess.Turns[3].Content)

	// Follow-ups carry the whole conversation, grounded prompt included.
	reqs := fake.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0], "Against the south fence.")
	assert.Contains(t, reqs[0], "when should I plant?")
}

func TestAskModelFailureIsRecorded(t *testing.T) {
	newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model 'llama3.1' not found"}`)
	}))
	defer srv.Close()
	t.Setenv("NOTECHAT_OLLAMA_URL", srv.URL)

	stdout, _, err := executeCLI(t, "ask", "--no-context", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not answer")
	assert.NotEmpty(t, stdout)
}

func TestAskLegacySkip(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, "[chat]\nlegacy_skip_unfiltered_first_turn = true\n")
	fake := newFakeOllama(t, "unused")

	_, _, err := executeCLI(t, "ask", "--no-context", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs context")
	assert.Empty(t, fake.requests())
}

func TestAskOfflineRefusesCloudModel(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, `default_model = "gpt-4o"

[[models]]
name = "gpt-4o"
provider = "openai"
`)
	fake := newFakeOllama(t, "unused")

	_, _, err := executeCLI(t, "--offline", "ask", "--no-context", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not answer")
	assert.Empty(t, fake.requests())
}

func TestOfflineFlagRejectsRemoteOllama(t *testing.T) {
	newTestEnv(t)
	t.Setenv("NOTECHAT_OLLAMA_URL", "http://gpu-box:11434")

	_, _, err := executeCLI(t, "--offline", "sessions", "list")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestAskEmptyQuestion(t *testing.T) {
	if IsTTY() {
		t.Skip("stdin is a terminal")
	}
	newTestEnv(t)
	_, _, err := executeCLI(t, "ask")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

// =============================================================================
// MODELS
// =============================================================================

type staticModels struct {
	def     string
	configs []model.ModelConfig
}

func (s staticModels) DefaultModelName(context.Context) (string, error) { return s.def, nil }
func (s staticModels) ListModelConfigs(context.Context) ([]model.ModelConfig, error) {
	return s.configs, nil
}

func TestMergeModels(t *testing.T) {
	provider := staticModels{
		def: "llama3.1",
		configs: []model.ModelConfig{
			{Name: "llama3.1", Provider: model.ProviderOllama},
			{Name: "gpt-4o-mini", Provider: model.ProviderOpenAI},
		},
	}
	local := []ollama.ModelInfo{
		{Name: "mistral:7b", Size: 4 << 30},
		{Name: "llama3.1:latest", Size: 5 << 30},
		{Name: "gemma2:2b", Size: 2 << 30},
	}

	entries, err := mergeModels(context.Background(), provider, local)
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"llama3.1", "gpt-4o-mini", "gemma2:2b", "mistral:7b"}, names)

	assert.True(t, entries[0].Default)
	assert.True(t, entries[0].Installed)
	assert.Equal(t, "5.0 GB", entries[0].Size)
	assert.False(t, entries[1].Installed)
	assert.False(t, entries[2].Configured)
	assert.True(t, entries[2].Installed)
}

func TestModelsCommand(t *testing.T) {
	newTestEnv(t)
	newFakeOllama(t)

	stdout, _, err := executeCLI(t, "models")
	require.NoError(t, err)
	assert.Contains(t, stdout, "llama3.1")
	assert.Contains(t, stdout, "default, configured, installed")
	assert.Contains(t, stdout, "mistral:7b")
}

// =============================================================================
// RENDERING
// =============================================================================

func TestStreamPrinterPrintsOnlyNewAssistantText(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf)
	p.Follow(0)

	user := model.NewUserTurn("q")
	p.Update(&model.ChatSession{ID: "s", Turns: []model.ChatTurn{user}})
	assert.Empty(t, buf.String())

	p.Update(&model.ChatSession{ID: "s", Turns: []model.ChatTurn{user, model.NewAssistantTurn("Hel", model.StatusSuccess)}})
	p.Update(&model.ChatSession{ID: "s", Turns: []model.ChatTurn{user, model.NewAssistantTurn("Hello", model.StatusSuccess)}})
	assert.Equal(t, "Hello", buf.String())

	// A second submission starts after the existing turns.
	buf.Reset()
	p.Follow(2)
	p.Update(&model.ChatSession{ID: "s", Turns: []model.ChatTurn{
		user, model.NewAssistantTurn("Hello", model.StatusSuccess),
		model.NewUserTurn("again"), model.NewAssistantTurn("Bye", model.StatusSuccess),
	}})
	assert.Equal(t, "Bye", buf.String())
}

func TestRenderSources(t *testing.T) {
	assert.Equal(t, "No sources.", renderSources(nil))

	out := renderSources([]model.ContextSnippet{
		{SourceID: "a.md", Content: "line one\nline two", Score: 0.5},
		{SourceID: "b.md", Content: ""},
	})
	assert.Equal(t, "Sources:\n  a.md (0.50) - line one line two\n  b.md", out)
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", WrapText("short", 40))
	wrapped := WrapText("the quick brown fox jumps over the lazy dog", 22)
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), 20)
	}
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", strings.Join(strings.Fields(wrapped), " "))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-30 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAge(tt.t, now))
	}
}

// =============================================================================
// REPL
// =============================================================================

func TestParseSlashCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArgs []string
	}{
		{"/quit", "quit", []string{}},
		{"/Sources a.md  b.md", "sources", []string{"a.md", "b.md"}},
		{"/", "", nil},
	}
	for _, tt := range tests {
		name, args := parseSlashCommand(tt.line)
		assert.Equal(t, tt.wantName, name, tt.line)
		if tt.wantArgs == nil {
			assert.Nil(t, args)
		} else {
			assert.Equal(t, len(tt.wantArgs), len(args))
			for i := range tt.wantArgs {
				assert.Equal(t, tt.wantArgs[i], args[i])
			}
		}
	}
}

func TestPendingInput(t *testing.T) {
	var p pendingInput
	p.Set("draft")
	assert.Equal(t, "draft", p.Take())
	assert.Equal(t, "", p.Take())

	p.Set("sent")
	p.Clear()
	assert.Equal(t, "", p.Take())
}

// scriptedReader feeds lines to the REPL and records the drafts offered.
type scriptedReader struct {
	lines  []string
	drafts []string
}

func (r *scriptedReader) ReadInput(_, draft string) (string, error) {
	r.drafts = append(r.drafts, draft)
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(&rootOptions{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	a.startPipeline(context.Background())
	return a
}

func TestREPLGroundsFirstMessageInChosenSources(t *testing.T) {
	newTestEnv(t)
	fake := newFakeOllama(t, "South fence.")
	a := newTestApp(t)

	out := &syncBuffer{}
	repl := newChatREPL(a, &chatOptions{}, out)
	in := &scriptedReader{lines: []string{
		"/sources garden.md",
		"where do tomatoes grow?",
		"/sources",
		"/sources other.md",
		"/new",
		"/quit",
	}}
	require.NoError(t, repl.run(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "grounded in: garden.md")
	assert.Contains(t, text, "South fence.")
	assert.Contains(t, text, "Sources:\n  garden.md")
	assert.Contains(t, text, "only ground the first message")
	assert.Contains(t, text, "Started a new session.")
	assert.Empty(t, repl.sessionID)

	reqs := fake.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0], "Tomatoes grow best")
}

func TestREPLOffersRefusedMessageAgain(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, "[chat]\nlegacy_skip_unfiltered_first_turn = true\n")
	newFakeOllama(t, "unused")
	a := newTestApp(t)

	out := &syncBuffer{}
	repl := newChatREPL(a, &chatOptions{noContext: true}, out)
	in := &scriptedReader{lines: []string{"hello"}}
	require.NoError(t, repl.run(context.Background(), in))

	assert.Contains(t, out.String(), "Not sent")
	require.Len(t, in.drafts, 2)
	assert.Equal(t, "hello", in.drafts[1])
}

func TestREPLModelSwitch(t *testing.T) {
	newTestEnv(t)
	newFakeOllama(t)
	a := newTestApp(t)

	out := &syncBuffer{}
	repl := newChatREPL(a, &chatOptions{}, out)
	in := &scriptedReader{lines: []string{"/model", "/model mistral:7b", "/bogus", "/help"}}
	require.NoError(t, repl.run(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "Model: llama3.1")
	assert.Contains(t, text, "Switched to mistral:7b")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "/sources [paths...]")
}
