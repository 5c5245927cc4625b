// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides an OpenAI-compatible client for remote LLM inference.
//
// Any endpoint that speaks the /chat/completions and /models dialect works:
// OpenAI itself, OpenRouter, or a self-hosted gateway. This package implements
// streaming completions over Server-Sent Events with retry and request pacing.
//
// # Key Types
//
//   - Client: HTTP client with retry, backoff and a token-bucket rate limiter
//   - ChatMessage: chat message in the OpenAI wire format
//   - SSEReader: Server-Sent Events parser
//   - ChatStream: an accepted completion stream
//
// # Usage
//
//	client := cloud.NewClient(apiKey).WithBaseURL("https://openrouter.ai/api/v1")
//	stream, err := client.OpenChatStream(ctx, cloud.ChatRequest{
//	    Model:    "openai/gpt-4o-mini",
//	    Messages: []cloud.ChatMessage{cloud.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	err = stream.Process(ctx, func(chunk cloud.StreamChunk) {
//	    fmt.Print(chunk.GetContent())
//	})
//
// # Security
//
// API keys are never logged. Only the method, host, status and duration of
// each request reach the logger.
package cloud
