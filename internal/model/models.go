// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// PROVIDERS
// =============================================================================

// Provider names understood by the transport router.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// =============================================================================
// MODEL CONFIG
// =============================================================================

// ModelConfig describes one named completion model.
type ModelConfig struct {
	// Name is the identifier used for lookup and sent to the provider.
	Name string `toml:"name" json:"name" yaml:"name"`

	// Provider is one of ProviderOllama, ProviderOpenAI, ProviderGemini.
	Provider string `toml:"provider" json:"provider" yaml:"provider"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `toml:"base_url,omitempty" json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey is used verbatim when set; otherwise APIKeyEnv is consulted.
	APIKey    string `toml:"api_key,omitempty" json:"-" yaml:"-"`
	APIKeyEnv string `toml:"api_key_env,omitempty" json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	Temperature float64 `toml:"temperature,omitempty" json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `toml:"max_tokens,omitempty" json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// RequestsPerSecond paces calls to remote providers. Zero means unlimited.
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty" json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// ProviderOrDefault returns the provider, defaulting to Ollama.
func (m ModelConfig) ProviderOrDefault() string {
	p := strings.ToLower(strings.TrimSpace(m.Provider))
	if p == "" {
		return ProviderOllama
	}
	return p
}

// IsLocal returns true for models served by a local Ollama instance.
func (m ModelConfig) IsLocal() bool {
	return m.ProviderOrDefault() == ProviderOllama
}

// String returns "provider/name".
func (m ModelConfig) String() string {
	return fmt.Sprintf("%s/%s", m.ProviderOrDefault(), m.Name)
}

// FindModel returns the config whose name matches exactly.
func FindModel(configs []ModelConfig, name string) (ModelConfig, bool) {
	for _, c := range configs {
		if c.Name == name {
			return c, true
		}
	}
	return ModelConfig{}, false
}
