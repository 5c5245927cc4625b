// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/notechat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts as a readable Markdown document.
type MarkdownExporter struct {
	options *Options
	now     func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, now: time.Now}
}

// frontMatter is the YAML header of a Markdown export.
type frontMatter struct {
	Title    string   `yaml:"title"`
	Session  string   `yaml:"session"`
	Created  string   `yaml:"created,omitempty"`
	Updated  string   `yaml:"updated,omitempty"`
	Turns    int      `yaml:"turns"`
	Sources  []string `yaml:"sources,omitempty"`
	Exported string   `yaml:"exported"`
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	title := t.Metadata.DisplayName
	if title == "" {
		title = model.DefaultDisplayName
	}

	if e.options.IncludeMetadata {
		fm := frontMatter{
			Title:    title,
			Session:  t.Session.ID,
			Turns:    len(t.Session.Turns),
			Sources:  sourceIDs(t.Session),
			Exported: e.now().Format(time.RFC3339),
		}
		if !t.Metadata.CreatedAt.IsZero() {
			fm.Created = t.Metadata.CreatedAt.Format(time.RFC3339)
		}
		if !t.Metadata.UpdatedAt.IsZero() {
			fm.Updated = t.Metadata.UpdatedAt.Format(time.RFC3339)
		}
		header, err := yaml.Marshal(fm)
		if err != nil {
			return nil, err
		}
		sb.WriteString("---\n")
		sb.Write(header)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Session**: %s\n", t.Session.ID)
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(t.Metadata.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(t.Metadata.UpdatedAt))
		fmt.Fprintf(&sb, "- **Turns**: %d\n", len(t.Session.Turns))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, turn := range t.Session.Turns {
		label := turn.Role.DisplayName()
		if turn.Status.IsError() {
			label += " (error)"
		}
		fmt.Fprintf(&sb, "### %s\n\n", label)

		content := turn.DisplayContent()
		if e.options.ShowPrompts {
			content = turn.Content
		}
		sb.WriteString(strings.TrimSpace(content))
		sb.WriteString("\n\n")

		if e.options.IncludeContext && turn.IsGrounded() {
			sb.WriteString(e.formatContext(turn.Context))
		}

		if i < len(t.Session.Turns)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatContext renders snippets as a collapsible source list.
func (e *MarkdownExporter) formatContext(snippets []model.ContextSnippet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<details>\n<summary>Sources (%d)</summary>\n\n", len(snippets))
	for _, s := range snippets {
		fmt.Fprintf(&sb, "**%s**\n\n", escapeMarkdown(s.SourceID))
		for _, line := range strings.Split(strings.TrimSpace(s.Content), "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("</details>\n\n")
	return sb.String()
}

// sourceIDs lists the distinct sources of the grounded turn in order.
func sourceIDs(s *model.ChatSession) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, t := range s.Turns {
		for _, c := range t.Context {
			if !seen[c.SourceID] {
				seen[c.SourceID] = true
				ids = append(ids, c.SourceID)
			}
		}
	}
	return ids
}

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	r := strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
		"\n", " ",
	)
	return r.Replace(s)
}
