// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the chat session orchestrator.
//
// A submission turns a typed query into a transcript update: the first turn
// of a session is grounded with retrieved note content, the transcript is
// persisted, and a streaming completion is requested. Completion deltas
// arrive out of band on a process-wide Bus, are routed by session id through
// the Consumer and merged into the transcript by MergeDelta.
//
// # Components
//
//   - Resolver: builds the grounded first turn from search or explicit sources
//   - MergeDelta: pure transcript merge of one delta
//   - Bus / Consumer: the delta channel and its single dispatching goroutine
//   - Sessions: host-owned map of session id to transcript
//   - Orchestrator: the submit state machine (idle, submitting, streaming)
//
// # Usage
//
//	bus := chat.NewBus(256)
//	consumer := chat.NewConsumer(bus, logger)
//	consumer.Start(ctx)
//	defer consumer.Stop()
//
//	orch := chat.NewOrchestrator(sessions, consumer, chat.Options{...})
//	id, ok := orch.Submit(ctx, "", "What is X?", &model.ChatFilters{MaxSnippets: 3})
package chat
