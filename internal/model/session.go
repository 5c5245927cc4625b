// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"sync"
	"time"
)

// DefaultDisplayName is the listing name given to a session on first persist.
const DefaultDisplayName = "New Chat"

// =============================================================================
// CHAT SESSION
// =============================================================================

// ChatSession is one conversation. The ID is assigned at creation and never
// changes. A session with zero turns is transient and is not persisted.
type ChatSession struct {
	ID    string     `json:"id" yaml:"id"`
	Turns []ChatTurn `json:"turns" yaml:"turns"`
}

// NewChatSession creates an empty session with a fresh time-derived id.
func NewChatSession() *ChatSession {
	return &ChatSession{
		ID:    NewSessionID(),
		Turns: []ChatTurn{},
	}
}

// IsEmpty returns true if the session has no turns.
func (s *ChatSession) IsEmpty() bool {
	return len(s.Turns) == 0
}

// LastTurn returns the most recent turn, or nil if there is none.
func (s *ChatSession) LastTurn() *ChatTurn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := &ChatSession{
		ID:    s.ID,
		Turns: make([]ChatTurn, len(s.Turns)),
	}
	for i, t := range s.Turns {
		c.Turns[i] = t.Clone()
	}
	return c
}

// Title derives a short title from the first user turn.
func (s *ChatSession) Title(maxLen int) string {
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			return t.Preview(maxLen)
		}
	}
	return DefaultDisplayName
}

// =============================================================================
// PROJECTION
// =============================================================================

// Message is the minimal {role, content} shape sent to a completion model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Projection converts the transcript into the form a completion model
// receives. Snippets and display-only fields are dropped.
func (s *ChatSession) Projection() []Message {
	msgs := make([]Message, 0, len(s.Turns))
	for _, t := range s.Turns {
		msgs = append(msgs, Message{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}
	return msgs
}

// =============================================================================
// SESSION IDS
// =============================================================================

var (
	idMu     sync.Mutex
	lastIDms int64
)

// NewSessionID returns a decimal millisecond timestamp. IDs handed out by one
// process are strictly increasing, so two sessions created in the same
// millisecond still get distinct ids.
func NewSessionID() string {
	idMu.Lock()
	defer idMu.Unlock()

	ms := time.Now().UnixMilli()
	if ms <= lastIDms {
		ms = lastIDms + 1
	}
	lastIDms = ms
	return strconv.FormatInt(ms, 10)
}

// =============================================================================
// SESSION METADATA
// =============================================================================

// SessionMetadata is the listing entry for a session.
type SessionMetadata struct {
	ID          string    `json:"id" yaml:"id"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	TurnCount   int       `json:"turn_count" yaml:"turn_count"`
}
