// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and turns.
//
// This package defines the domain types shared by the orchestrator, the
// persistence store, the retrieval index and the host surfaces.
//
// # Key Types
//
//   - ChatSession: one conversation, the unit of persistence
//   - ChatTurn: a single turn with role, content, status and optional grounding context
//   - ContextSnippet: a retrieved unit of note content copied into a turn
//   - ChatFilters: retrieval parameters for the first turn of a session
//   - SessionMetadata: the listing entry for a session (id and display name)
//   - ModelConfig: a named completion model and how to reach it
//
// # Usage
//
//	s := model.NewChatSession()
//	s.Turns = append(s.Turns, model.NewUserTurn("Hello!"))
//	msgs := s.Projection()
package model
