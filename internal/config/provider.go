// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"

	"github.com/jeranaias/notechat/internal/model"
)

// Provider serves the configured models. It resolves API keys from the
// environment at lookup time so a rotated key is picked up without a reload.
type Provider struct {
	cfg *Config
}

// NewProvider creates a provider over cfg.
func NewProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg}
}

// DefaultModelName returns the configured default model name.
func (p *Provider) DefaultModelName(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.cfg.DefaultModel, nil
}

// ListModelConfigs returns copies of the configured models with API keys
// and Ollama base URLs filled in.
func (p *Provider) ListModelConfigs(ctx context.Context) ([]model.ModelConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]model.ModelConfig, len(p.cfg.Models))
	for i, m := range p.cfg.Models {
		if m.APIKey == "" && m.APIKeyEnv != "" {
			m.APIKey = os.Getenv(m.APIKeyEnv)
		}
		if m.BaseURL == "" && m.IsLocal() {
			m.BaseURL = p.cfg.Ollama.URL
		}
		out[i] = m
	}
	return out, nil
}
