// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/notechat/internal/model"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NOTECHAT_HOME", dir)
	for _, k := range []string{
		"NOTECHAT_MODEL", "NOTECHAT_NOTES_DIR", "NOTECHAT_OLLAMA_URL",
		"NOTECHAT_LOG_LEVEL", "NOTECHAT_STORE_DIR", "NOTECHAT_SERVER_ADDR",
		"NOTECHAT_OFFLINE",
	} {
		t.Setenv(k, "")
	}
	return dir
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultModel != "llama3.1" {
		t.Errorf("DefaultModel = %q, want %q", cfg.DefaultModel, "llama3.1")
	}
	if cfg.Chat.PersistDelay().Seconds() != 1 {
		t.Errorf("PersistDelay() = %v, want 1s", cfg.Chat.PersistDelay())
	}
	if want := filepath.Join(dir, "sessions"); cfg.Storage.Dir != want {
		t.Errorf("Storage.Dir = %q, want %q", cfg.Storage.Dir, want)
	}
	if want := filepath.Join(dir, "index.db"); cfg.Notes.IndexPath != want {
		t.Errorf("Notes.IndexPath = %q, want %q", cfg.Notes.IndexPath, want)
	}
}

func TestLoadFrom_TOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_model = "gpt-4o-mini"

[chat]
persist_delay_ms = 250
default_max_snippets = 3
legacy_skip_unfiltered_first_turn = true

[notes]
root = "/vault"
search_mode = "hybrid"

[embedding]
provider = "ollama"

[[models]]
name = "gpt-4o-mini"
provider = "openai"
api_key_env = "TEST_OPENAI_KEY"
temperature = 0.2

[[models]]
name = "llama3.1"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.DefaultModel != "gpt-4o-mini" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Chat.PersistDelayMs != 250 || cfg.Chat.DefaultMaxSnippets != 3 {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if !cfg.Chat.LegacySkipUnfilteredFirstTurn {
		t.Error("LegacySkipUnfilteredFirstTurn = false, want true")
	}
	if cfg.Notes.Root != "/vault" || cfg.Notes.SearchMode != "hybrid" {
		t.Errorf("Notes = %+v", cfg.Notes)
	}
	if len(cfg.Models) != 2 || cfg.Models[0].Provider != "openai" {
		t.Errorf("Models = %+v", cfg.Models)
	}
	// Unset fields still get defaults.
	if cfg.Ollama.URL != "http://127.0.0.1:11434" {
		t.Errorf("Ollama.URL = %q", cfg.Ollama.URL)
	}
}

func TestLoadFrom_BadTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	_ = os.WriteFile(path, []byte("default_model = ["), 0600)

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() error = nil, want decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("NOTECHAT_MODEL", "mistral")
	t.Setenv("NOTECHAT_NOTES_DIR", "/elsewhere")
	t.Setenv("NOTECHAT_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultModel != "mistral" {
		t.Errorf("DefaultModel = %q, want %q", cfg.DefaultModel, "mistral")
	}
	if cfg.Notes.Root != "/elsewhere" {
		t.Errorf("Notes.Root = %q, want %q", cfg.Notes.Root, "/elsewhere")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestEnvOverrides_Offline(t *testing.T) {
	isolate(t)
	t.Setenv("NOTECHAT_OFFLINE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Offline {
		t.Error("Offline = false, want true")
	}

	t.Setenv("NOTECHAT_OLLAMA_URL", "http://gpu-box:11434")
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want remote ollama.url rejected offline")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.DefaultModel = "qwen2.5"
	cfg.Models = append(cfg.Models, model.ModelConfig{Name: "qwen2.5"})
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 && os.PathSeparator == '/' {
		t.Errorf("permissions = %o, want 0600", perm)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultModel != "qwen2.5" || len(loaded.Models) != 2 {
		t.Errorf("loaded = %+v", loaded)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative delay", func(c *Config) { c.Chat.PersistDelayMs = -1 }, "chat.persist_delay_ms"},
		{"negative snippets", func(c *Config) { c.Chat.DefaultMaxSnippets = -2 }, "chat.default_max_snippets"},
		{"bad search mode", func(c *Config) { c.Notes.SearchMode = "fuzzy" }, "notes.search_mode"},
		{"semantic without embeddings", func(c *Config) { c.Notes.SearchMode = "semantic" }, "notes.search_mode"},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, "embedding.provider"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"empty model name", func(c *Config) { c.Models = []model.ModelConfig{{}} }, "models[0].name"},
		{"duplicate model", func(c *Config) {
			c.Models = []model.ModelConfig{{Name: "a"}, {Name: "a"}}
		}, "models[1].name"},
		{"bad provider", func(c *Config) {
			c.Models = []model.ModelConfig{{Name: "a", Provider: "carrier-pigeon"}}
		}, "models[0].provider"},
		{"bad temperature", func(c *Config) {
			c.Models = []model.ModelConfig{{Name: "a", Temperature: 3}}
		}, "models[0].temperature"},
		{"ollama url scheme", func(c *Config) { c.Ollama.URL = "file:///tmp/sock" }, "ollama.url"},
		{"remote ollama offline", func(c *Config) {
			c.Offline = true
			c.Ollama.URL = "http://10.0.0.5:11434"
		}, "ollama.url"},
		{"gemini embeddings offline", func(c *Config) {
			c.Offline = true
			c.Embedding.Provider = "gemini"
		}, "embedding.provider"},
		{"remote embeddings offline", func(c *Config) {
			c.Offline = true
			c.Embedding.Provider = "ollama"
			c.Embedding.BaseURL = "http://embed.example.com"
		}, "embedding.base_url"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidationErrors", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", err, tc.field)
			}
		})
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}

	cfg := Default()
	cfg.Offline = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("offline defaults: Validate() error = %v", err)
	}
}

func TestString_RedactsKeys(t *testing.T) {
	cfg := Default()
	cfg.Models = []model.ModelConfig{{Name: "a", Provider: "openai", APIKey: "sk-secret"}}

	if strings.Contains(cfg.String(), "sk-secret") {
		t.Error("String() leaks API key")
	}
	if cfg.Models[0].APIKey != "sk-secret" {
		t.Error("String() modified the original config")
	}
}

// =============================================================================
// PROVIDER TESTS
// =============================================================================

func TestProvider(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	cfg := Default()
	cfg.Models = []model.ModelConfig{
		{Name: "llama3.1"},
		{Name: "gpt-4o-mini", Provider: "openai", APIKeyEnv: "TEST_OPENAI_KEY"},
	}
	p := NewProvider(cfg)
	ctx := context.Background()

	name, err := p.DefaultModelName(ctx)
	if err != nil || name != "llama3.1" {
		t.Errorf("DefaultModelName() = %q, %v", name, err)
	}

	configs, err := p.ListModelConfigs(ctx)
	if err != nil {
		t.Fatalf("ListModelConfigs() error = %v", err)
	}
	if configs[0].BaseURL != cfg.Ollama.URL {
		t.Errorf("ollama BaseURL = %q, want %q", configs[0].BaseURL, cfg.Ollama.URL)
	}
	if configs[1].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want value from env", configs[1].APIKey)
	}
	if cfg.Models[1].APIKey != "" {
		t.Error("ListModelConfigs() modified the config")
	}
}
