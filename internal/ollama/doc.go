// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// The client covers what notechat needs from a local Ollama server: a
// health check, the installed model list, streaming chat completions and
// embeddings for the notes index.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - StreamReader: line-by-line reader over an NDJSON chat stream
//   - ClientError: typed error with sentinel values for common failures
//
// # Usage
//
// Streaming is split in two so callers learn about connection and status
// failures before they commit to consuming the stream:
//
//	stream, err := client.OpenChatStream(ctx, "llama3.1", messages, nil)
//	if err != nil {
//	    return err // nothing was received
//	}
//	defer stream.Close()
//	err = stream.Process(ctx, func(chunk ollama.StreamChunk) {
//	    fmt.Print(chunk.Content)
//	})
package ollama
