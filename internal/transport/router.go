// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/offline"
)

// UnsupportedProviderError is returned for a provider with no registered transport.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// Router dispatches to a transport by ModelConfig provider.
type Router struct {
	mu      sync.RWMutex
	routes  map[string]chat.Transport
	offline bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]chat.Transport)}
}

// Register binds a provider name to a transport, replacing any previous one.
func (r *Router) Register(provider string, t chat.Transport) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[provider] = t
	return r
}

// SetOffline refuses every model offline.CheckModel rejects.
func (r *Router) SetOffline(enabled bool) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = enabled
	return r
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for p := range r.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StreamCompletion implements chat.Transport.
func (r *Router) StreamCompletion(ctx context.Context, sessionID string, cfg model.ModelConfig, msgs []model.Message) error {
	provider := cfg.ProviderOrDefault()
	r.mu.RLock()
	t, ok := r.routes[provider]
	offlineOnly := r.offline
	r.mu.RUnlock()
	if offlineOnly {
		if err := offline.CheckModel(cfg); err != nil {
			return err
		}
	}
	if !ok {
		return &UnsupportedProviderError{Provider: provider}
	}
	return t.StreamCompletion(ctx, sessionID, cfg, msgs)
}

// NewDefaultRouter registers the ollama, openai and gemini adapters.
func NewDefaultRouter(o *Ollama, oa *OpenAI, g *Gemini) *Router {
	r := NewRouter()
	if o != nil {
		r.Register(model.ProviderOllama, o)
	}
	if oa != nil {
		r.Register(model.ProviderOpenAI, oa)
	}
	if g != nil {
		r.Register(model.ProviderGemini, g)
	}
	return r
}
