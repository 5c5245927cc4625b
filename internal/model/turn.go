// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status records whether a turn completed normally.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IsError reports whether the status is StatusError.
func (s Status) IsError() bool {
	return s == StatusError
}

// =============================================================================
// CONTEXT SNIPPET
// =============================================================================

// ContextSnippet is a retrieved unit of note content. Turns hold their own
// copy; the retrieval backend never shares memory with a transcript.
type ContextSnippet struct {
	SourceID string  `json:"source_id" yaml:"source_id"`
	Content  string  `json:"content" yaml:"content"`
	Score    float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// =============================================================================
// CHAT TURN
// =============================================================================

// ChatTurn is one entry of a transcript.
//
// Only the first turn of a session may carry Context. For that turn Content
// holds the grounded prompt sent to the model and VisibleContent holds the
// query exactly as the user typed it.
type ChatTurn struct {
	Role           Role             `json:"role" yaml:"role"`
	Content        string           `json:"content" yaml:"content"`
	Status         Status           `json:"status" yaml:"status"`
	Context        []ContextSnippet `json:"context,omitempty" yaml:"context,omitempty"`
	VisibleContent string           `json:"visible_content,omitempty" yaml:"visible_content,omitempty"`
}

// NewUserTurn creates a plain user turn whose visible content equals its content.
func NewUserTurn(query string) ChatTurn {
	return ChatTurn{
		Role:           RoleUser,
		Content:        query,
		Status:         StatusSuccess,
		VisibleContent: query,
	}
}

// NewAssistantTurn creates an assistant turn with no grounding context.
func NewAssistantTurn(content string, status Status) ChatTurn {
	return ChatTurn{
		Role:    RoleAssistant,
		Content: content,
		Status:  status,
	}
}

// DisplayContent returns the text a reader should see for this turn.
func (t ChatTurn) DisplayContent() string {
	if t.VisibleContent != "" {
		return t.VisibleContent
	}
	return t.Content
}

// IsGrounded reports whether the turn carries retrieved context.
func (t ChatTurn) IsGrounded() bool {
	return len(t.Context) > 0
}

// Clone returns a deep copy of the turn.
func (t ChatTurn) Clone() ChatTurn {
	c := t
	if t.Context != nil {
		c.Context = make([]ContextSnippet, len(t.Context))
		copy(c.Context, t.Context)
	}
	return c
}

// Preview returns a rune-safe truncated preview of the display content.
func (t ChatTurn) Preview(maxLen int) string {
	runes := []rune(t.DisplayContent())
	if len(runes) <= maxLen {
		return string(runes)
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
