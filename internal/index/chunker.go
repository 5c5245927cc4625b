// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// CHUNK TYPES
// =============================================================================

// Chunk is one retrievable passage of a note.
type Chunk struct {
	Ordinal int
	Heading string
	Content string
}

// Document is a parsed note ready for indexing.
type Document struct {
	Title  string
	Tags   []string
	Body   string
	Chunks []Chunk
}

// Chunker splits a note into chunks.
type Chunker interface {
	// Chunk parses content read from path.
	Chunk(content string, path string) Document
}

// =============================================================================
// FRONT MATTER
// =============================================================================

// frontMatter is the subset of YAML front matter the index understands.
type frontMatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// splitFrontMatter separates a leading "---" YAML block from the body.
// Malformed front matter is left in the body.
func splitFrontMatter(content string) (frontMatter, string) {
	var fm frontMatter
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return fm, content
	}

	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content
	}

	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontMatter{}, content
	}

	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return fm, body
}

// =============================================================================
// MARKDOWN CHUNKER
// =============================================================================

// MarkdownChunker splits on headings, then on paragraphs to respect MaxChars.
type MarkdownChunker struct {
	MaxChars int
}

// Chunk implements Chunker.
func (c *MarkdownChunker) Chunk(content string, path string) Document {
	fm, body := splitFrontMatter(normalizeNewlines(content))

	doc := Document{
		Title: fm.Title,
		Tags:  fm.Tags,
		Body:  body,
	}

	type section struct {
		heading string
		lines   []string
	}
	var sections []section
	cur := section{}
	inFence := false

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && isHeading(trimmed) {
			if len(cur.lines) > 0 || cur.heading != "" {
				sections = append(sections, cur)
			}
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if doc.Title == "" && strings.HasPrefix(trimmed, "# ") {
				doc.Title = heading
			}
			cur = section{heading: heading, lines: []string{line}}
			continue
		}
		cur.lines = append(cur.lines, line)
	}
	sections = append(sections, cur)

	for _, s := range sections {
		text := strings.TrimSpace(strings.Join(s.lines, "\n"))
		if text == "" {
			continue
		}
		for _, part := range splitParagraphs(text, c.MaxChars) {
			doc.Chunks = append(doc.Chunks, Chunk{
				Ordinal: len(doc.Chunks),
				Heading: s.heading,
				Content: part,
			})
		}
	}

	if doc.Title == "" {
		doc.Title = titleFromPath(path)
	}
	return doc
}

func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	level := len(line) - len(strings.TrimLeft(line, "#"))
	return level <= 6 && len(line) > level && line[level] == ' '
}

// =============================================================================
// PLAIN TEXT CHUNKER
// =============================================================================

// PlainChunker splits plain text on blank lines to respect MaxChars.
type PlainChunker struct {
	MaxChars int
}

// Chunk implements Chunker.
func (c *PlainChunker) Chunk(content string, path string) Document {
	body := normalizeNewlines(content)
	doc := Document{Title: titleFromPath(path), Body: body}
	for _, part := range splitParagraphs(strings.TrimSpace(body), c.MaxChars) {
		doc.Chunks = append(doc.Chunks, Chunk{Ordinal: len(doc.Chunks), Content: part})
	}
	return doc
}

// =============================================================================
// HELPERS
// =============================================================================

// splitParagraphs packs blank-line separated paragraphs into pieces of at
// most maxChars runes. A single paragraph longer than that is cut on rune
// boundaries.
func splitParagraphs(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len([]rune(text)) <= maxChars {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	bufLen := 0
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, s)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if bufLen > 0 && bufLen+2+len(runes) > maxChars {
			flush()
		}
		for len(runes) > maxChars {
			flush()
			out = append(out, string(runes[:maxChars]))
			runes = runes[maxChars:]
		}
		if bufLen > 0 {
			buf.WriteString("\n\n")
			bufLen += 2
		}
		buf.WriteString(string(runes))
		bufLen += len(runes)
	}
	flush()
	return out
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
