// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server hosts chat sessions over HTTP.
//
// Endpoints:
//   - GET    /health                   - Health check with index statistics
//   - GET    /v1/models                - List configured models
//   - POST   /v1/chat                  - Submit a query to a new or existing session
//   - GET    /v1/sessions              - List sessions, newest first
//   - GET    /v1/sessions/:id          - Fetch a transcript
//   - PATCH  /v1/sessions/:id          - Rename a session
//   - DELETE /v1/sessions/:id          - Delete a session
//   - GET    /v1/sessions/:id/events   - SSE stream of transcript snapshots
//
// Each session is driven by its own orchestrator. Event streams receive a
// "transcript" event after every change and an "idle" event when a stream
// finishes.
package server
