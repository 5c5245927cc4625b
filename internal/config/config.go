// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/offline"
	"github.com/jeranaias/notechat/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the complete notechat configuration.
type Config struct {
	// DefaultModel names the entry in Models used when none is selected.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// Offline keeps all traffic on this machine: loopback Ollama only.
	Offline bool `toml:"offline" json:"offline"`

	Chat      ChatConfig      `toml:"chat" json:"chat"`
	Notes     NotesConfig     `toml:"notes" json:"notes"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Ollama    OllamaConfig    `toml:"ollama" json:"ollama"`
	Embedding EmbeddingConfig `toml:"embedding" json:"embedding"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Server    ServerConfig    `toml:"server" json:"server"`

	Models []model.ModelConfig `toml:"models" json:"models"`
}

// ChatConfig controls the session orchestrator.
type ChatConfig struct {
	// PersistDelayMs is the debounce window for transcript writes.
	PersistDelayMs int `toml:"persist_delay_ms" json:"persist_delay_ms"`

	// DefaultMaxSnippets bounds search results used to ground a first turn.
	DefaultMaxSnippets int `toml:"default_max_snippets" json:"default_max_snippets"`

	// LegacySkipUnfilteredFirstTurn drops a first submission made without
	// filters instead of sending it ungrounded.
	LegacySkipUnfilteredFirstTurn bool `toml:"legacy_skip_unfiltered_first_turn" json:"legacy_skip_unfiltered_first_turn"`
}

// PersistDelay returns PersistDelayMs as a duration.
func (c ChatConfig) PersistDelay() time.Duration {
	return time.Duration(c.PersistDelayMs) * time.Millisecond
}

// NotesConfig describes the notes vault and its search index.
type NotesConfig struct {
	Root       string   `toml:"root" json:"root"`
	IndexPath  string   `toml:"index_path" json:"index_path"`
	Extensions []string `toml:"extensions" json:"extensions"`
	ChunkSize  int      `toml:"chunk_size" json:"chunk_size"`

	// SearchMode is "fulltext", "semantic" or "hybrid".
	SearchMode string `toml:"search_mode" json:"search_mode"`

	// Watch reindexes notes as they change while a host is running.
	Watch bool `toml:"watch" json:"watch"`
}

// StorageConfig locates persisted transcripts.
type StorageConfig struct {
	Dir string `toml:"dir" json:"dir"`
}

// OllamaConfig locates the local Ollama server.
type OllamaConfig struct {
	URL string `toml:"url" json:"url"`
}

// EmbeddingConfig selects the embedding engine for semantic search.
type EmbeddingConfig struct {
	// Provider is "none", "ollama" or "gemini".
	Provider  string `toml:"provider" json:"provider"`
	Model     string `toml:"model" json:"model"`
	BaseURL   string `toml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKeyEnv string `toml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
}

// APIKey returns the key named by APIKeyEnv, if any.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	JSON  bool   `toml:"json" json:"json"`
}

// ServerConfig controls the HTTP host.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// AuthTokenEnv names the environment variable holding the bearer token
	// clients must send. Empty disables authentication.
	AuthTokenEnv string `toml:"auth_token_env,omitempty" json:"auth_token_env,omitempty"`

	// RequestsPerSecond limits requests per client IP. Zero disables the limit.
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`

	// AllowedOrigins lists CORS origins. Empty allows none.
	AllowedOrigins []string `toml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
}

// AuthToken returns the token named by AuthTokenEnv, if any.
func (s ServerConfig) AuthToken() string {
	if s.AuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(s.AuthTokenEnv)
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel: "llama3.1",
		Chat: ChatConfig{
			PersistDelayMs:     1000,
			DefaultMaxSnippets: 5,
		},
		Notes: NotesConfig{
			Extensions: []string{".md", ".markdown", ".txt"},
			ChunkSize:  1200,
			SearchMode: "fulltext",
		},
		Ollama: OllamaConfig{
			URL: "http://127.0.0.1:11434",
		},
		Embedding: EmbeddingConfig{
			Provider: "none",
			Model:    "nomic-embed-text",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8085",
		},
		Models: []model.ModelConfig{
			{Name: "llama3.1", Provider: model.ProviderOllama},
		},
	}
}

// SetDefaults fills unset fields. Paths default to locations under ConfigDir.
func (c *Config) SetDefaults() {
	def := Default()

	if c.DefaultModel == "" {
		c.DefaultModel = def.DefaultModel
	}
	if c.Chat.PersistDelayMs == 0 {
		c.Chat.PersistDelayMs = def.Chat.PersistDelayMs
	}
	if len(c.Notes.Extensions) == 0 {
		c.Notes.Extensions = def.Notes.Extensions
	}
	if c.Notes.ChunkSize == 0 {
		c.Notes.ChunkSize = def.Notes.ChunkSize
	}
	if c.Notes.SearchMode == "" {
		c.Notes.SearchMode = def.Notes.SearchMode
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = def.Ollama.URL
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = def.Embedding.Provider
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = def.Embedding.Model
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if len(c.Models) == 0 {
		c.Models = def.Models
	}

	if dir, err := ConfigDir(); err == nil {
		if c.Storage.Dir == "" {
			c.Storage.Dir = filepath.Join(dir, "sessions")
		}
		if c.Notes.IndexPath == "" {
			c.Notes.IndexPath = filepath.Join(dir, "index.db")
		}
	}
	if c.Notes.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Notes.Root = filepath.Join(home, "notes")
		}
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the notechat configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("NOTECHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".notechat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the default config file if it exists, otherwise starts from
// defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if !os.IsNotExist(statErr) {
			return nil, statErr
		}
		return finish(Default())
	}
	return LoadFrom(path)
}

// LoadFrom reads the config file at path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
// SECURITY: the file may hold API keys, so it is written 0600.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# notechat configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies NOTECHAT_* environment variables:
//   - NOTECHAT_MODEL: overrides default_model
//   - NOTECHAT_NOTES_DIR: overrides notes.root
//   - NOTECHAT_OLLAMA_URL: overrides ollama.url
//   - NOTECHAT_LOG_LEVEL: overrides logging.level
//   - NOTECHAT_STORE_DIR: overrides storage.dir
//   - NOTECHAT_SERVER_ADDR: overrides server.addr
//   - NOTECHAT_OFFLINE: "1" or "true" enables offline
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NOTECHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("NOTECHAT_NOTES_DIR"); v != "" {
		c.Notes.Root = v
	}
	if v := os.Getenv("NOTECHAT_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("NOTECHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NOTECHAT_STORE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("NOTECHAT_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("NOTECHAT_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Offline = b
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and reports every problem found.
// Whether DefaultModel names a configured model is checked when a chat is
// submitted, not here.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Chat.PersistDelayMs < 0 {
		add("chat.persist_delay_ms", "must be >= 0, got %d", c.Chat.PersistDelayMs)
	}
	if c.Chat.DefaultMaxSnippets < 0 {
		add("chat.default_max_snippets", "must be >= 0, got %d", c.Chat.DefaultMaxSnippets)
	}
	if c.Notes.ChunkSize < 0 {
		add("notes.chunk_size", "must be >= 0, got %d", c.Notes.ChunkSize)
	}

	mode := strings.ToLower(c.Notes.SearchMode)
	switch mode {
	case "", "fulltext", "semantic", "hybrid":
	default:
		add("notes.search_mode", "invalid mode '%s', must be one of: fulltext, semantic, hybrid", c.Notes.SearchMode)
	}

	embed := strings.ToLower(c.Embedding.Provider)
	switch embed {
	case "", "none", model.ProviderOllama, model.ProviderGemini:
	default:
		add("embedding.provider", "invalid provider '%s', must be one of: none, ollama, gemini", c.Embedding.Provider)
	}
	if (mode == "semantic" || mode == "hybrid") && (embed == "" || embed == "none") {
		add("notes.search_mode", "%s search needs an embedding provider", mode)
	}

	if c.Ollama.URL != "" {
		if err := offline.ValidateURL(c.Ollama.URL, c.Offline); err != nil {
			add("ollama.url", "%v", err)
		}
	}
	if c.Offline {
		if embed != "" && embed != "none" && !offline.IsLocalProvider(embed) {
			add("embedding.provider", "'%s' is not available offline", c.Embedding.Provider)
		}
		if c.Embedding.BaseURL != "" {
			if err := offline.ValidateURL(c.Embedding.BaseURL, true); err != nil {
				add("embedding.base_url", "%v", err)
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "must be >= 0, got %g", c.Server.RequestsPerSecond)
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if strings.TrimSpace(m.Name) == "" {
			add(field+".name", "must not be empty")
			continue
		}
		if seen[m.Name] {
			add(field+".name", "duplicate model name '%s'", m.Name)
		}
		seen[m.Name] = true

		switch m.ProviderOrDefault() {
		case model.ProviderOllama, model.ProviderOpenAI, model.ProviderGemini:
		default:
			add(field+".provider", "invalid provider '%s', must be one of: ollama, openai, gemini", m.Provider)
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			add(field+".temperature", "must be between 0 and 2, got %g", m.Temperature)
		}
		if m.RequestsPerSecond < 0 {
			add(field+".requests_per_second", "must be >= 0, got %g", m.RequestsPerSecond)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// String returns the config as JSON with API keys redacted.
func (c *Config) String() string {
	safe := *c
	safe.Models = make([]model.ModelConfig, len(c.Models))
	for i, m := range c.Models {
		if m.APIKey != "" {
			m.APIKey = "[REDACTED]"
		}
		safe.Models[i] = m
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
