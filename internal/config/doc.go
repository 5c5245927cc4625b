// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for notechat.
//
// Configuration is a TOML file with sensible defaults, environment variable
// overrides and validation.
//
// # Key Types
//
//   - Config: main configuration structure with all settings
//   - Provider: serves the configured models to the chat orchestrator
//   - ValidationErrors: every problem Validate found, at once
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (NOTECHAT_*)
//   - ~/.notechat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	orch := chat.NewOrchestrator(sessions, consumer, chat.Options{
//	    Models: config.NewProvider(cfg),
//	})
package config
