// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jeranaias/notechat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a non-loopback endpoint in offline mode.
	ErrNonLocalhost = errors.New("offline mode: only localhost endpoints are allowed")

	// ErrCloudBlocked is returned for a cloud provider in offline mode.
	ErrCloudBlocked = errors.New("offline mode: cloud providers are disabled")

	// ErrInvalidURLScheme is returned when a URL scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https endpoints are allowed")
)

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost reports whether host (with or without a port) is a loopback
// address or "localhost".
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateURL checks an endpoint URL. The scheme must always be http or
// https; in offline mode the host must also be loopback.
func ValidateURL(rawURL string, offline bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	if offline && !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}

// =============================================================================
// PROVIDER GUARDS
// =============================================================================

// IsLocalProvider reports whether a provider runs on this machine.
func IsLocalProvider(provider string) bool {
	return strings.EqualFold(provider, model.ProviderOllama)
}

// CheckModel returns an error if cfg would leave the machine. Only Ollama
// models are allowed, and a per-model base URL must be loopback.
func CheckModel(cfg model.ModelConfig) error {
	if !IsLocalProvider(cfg.ProviderOrDefault()) {
		return fmt.Errorf("model %q (%s): %w", cfg.Name, cfg.ProviderOrDefault(), ErrCloudBlocked)
	}
	if cfg.BaseURL != "" {
		if err := ValidateURL(cfg.BaseURL, true); err != nil {
			return fmt.Errorf("model %q: %w", cfg.Name, err)
		}
	}
	return nil
}

// StatusBadge returns "[OFFLINE]" when offline, empty otherwise.
func StatusBadge(offline bool) string {
	if offline {
		return "[OFFLINE]"
	}
	return ""
}
