// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/jeranaias/notechat/internal/model"

// MergeDelta returns a new session with content merged into it. The input
// session is not modified.
//
// open reports whether the in-flight submission already owns the trailing
// assistant turn. Only then is content appended to it; otherwise a new
// assistant turn is started. A completed assistant turn from an earlier
// submission is never extended. Once a turn is errored it stays errored.
func MergeDelta(s *model.ChatSession, content string, status model.Status, open bool) *model.ChatSession {
	turns := make([]model.ChatTurn, len(s.Turns), len(s.Turns)+1)
	copy(turns, s.Turns)

	if open && len(turns) > 0 && turns[len(turns)-1].Role == model.RoleAssistant {
		last := &turns[len(turns)-1]
		last.Content += content
		if !last.Status.IsError() {
			last.Status = status
		}
	} else {
		turns = append(turns, model.NewAssistantTurn(content, status))
	}

	return &model.ChatSession{ID: s.ID, Turns: turns}
}

// AppendTurn returns a new session with turn appended.
func AppendTurn(s *model.ChatSession, turn model.ChatTurn) *model.ChatSession {
	turns := make([]model.ChatTurn, len(s.Turns), len(s.Turns)+1)
	copy(turns, s.Turns)
	turns = append(turns, turn.Clone())
	return &model.ChatSession{ID: s.ID, Turns: turns}
}
