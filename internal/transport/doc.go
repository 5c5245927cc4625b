// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport adapts model provider clients to chat.Transport.
//
// Every adapter follows the same contract. StreamCompletion opens the
// provider stream synchronously and returns its error when the provider
// refuses the request; nothing is published in that case. Once the stream is
// accepted a goroutine relays each fragment to the delta bus and finishes
// with exactly one Done delta, which carries the stream error if there was one.
//
// Router picks the adapter from ModelConfig.Provider.
package transport
