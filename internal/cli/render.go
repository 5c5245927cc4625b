// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Transcript rendering for the terminal.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/util"
)

// =============================================================================
// LIVE STREAM PRINTER
// =============================================================================

// streamPrinter writes assistant text as it arrives. It receives every
// transcript snapshot and prints only what was appended since the last one.
type streamPrinter struct {
	mu sync.Mutex
	w  io.Writer

	// turn is the index of the turn being followed and written the number
	// of its content bytes already printed.
	turn    int
	written int
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

// Follow starts printing from turn index from, usually the current length
// of the transcript about to receive a submission.
func (p *streamPrinter) Follow(from int) {
	p.mu.Lock()
	p.turn = from
	p.written = 0
	p.mu.Unlock()
}

// Update implements the orchestrator's change hook.
func (p *streamPrinter) Update(s *model.ChatSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.turn; i < len(s.Turns); i++ {
		t := s.Turns[i]
		if t.Role != model.RoleAssistant {
			p.turn = i + 1
			p.written = 0
			continue
		}
		p.turn = i
		if len(t.Content) <= p.written {
			continue
		}
		chunk := t.Content[p.written:]
		p.written = len(t.Content)
		if t.Status.IsError() {
			chunk = RenderConditional(ErrorStyle, chunk)
		}
		fmt.Fprint(p.w, chunk)
	}
}

// =============================================================================
// STATIC RENDERING
// =============================================================================

// renderTranscript writes a full transcript with role headings. Grounded
// turns list their sources after the query.
func renderTranscript(w io.Writer, meta model.SessionMetadata, s *model.ChatSession, width int) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, meta.DisplayName))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Session"), s.ID)
	if !meta.CreatedAt.IsZero() {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Created"), meta.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Turns"), len(s.Turns))

	for _, t := range s.Turns {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderRole(t))
		fmt.Fprintln(w, WrapText(t.DisplayContent(), width))
		if t.IsGrounded() {
			fmt.Fprintln(w, RenderConditional(DimStyle, renderSources(t.Context)))
		}
	}
}

func renderRole(t model.ChatTurn) string {
	name := t.Role.DisplayName()
	switch {
	case t.Status.IsError():
		return RenderConditional(ErrorStyle, name+" (error)")
	case t.Role == model.RoleUser:
		return RenderConditional(UserStyle, name)
	default:
		return RenderConditional(AssistantStyle, name)
	}
}

// renderSources lists retrieved snippets, one line each.
func renderSources(snippets []model.ContextSnippet) string {
	if len(snippets) == 0 {
		return "No sources."
	}
	var sb strings.Builder
	sb.WriteString("Sources:")
	for _, c := range snippets {
		sb.WriteString("\n  ")
		sb.WriteString(c.SourceID)
		if c.Score != 0 {
			sb.WriteString(fmt.Sprintf(" (%.2f)", c.Score))
		}
		if preview := util.TruncateWidth(util.SingleLine(c.Content), 60); preview != "" {
			sb.WriteString(" - ")
			sb.WriteString(preview)
		}
	}
	return sb.String()
}
