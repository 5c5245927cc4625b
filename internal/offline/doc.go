// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline keeps notes and transcripts on this machine.
//
// With offline = true in config.toml (or NOTECHAT_OFFLINE=1, or --offline)
// the Ollama server and every per-model base URL must be loopback, cloud
// chat providers are refused at send time, and the Gemini embedding engine
// is rejected by config validation.
//
// # Usage
//
//	if err := offline.ValidateURL(cfg.Ollama.URL, cfg.Offline); err != nil {
//		return err
//	}
//
//	if err := offline.CheckModel(modelCfg); err != nil {
//		return err // cloud model in offline mode
//	}
package offline
