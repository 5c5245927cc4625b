// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/notechat/internal/embedding"
	"github.com/jeranaias/notechat/internal/model"
)

// rrfK is the reciprocal rank fusion constant used by hybrid search.
const rrfK = 60

// =============================================================================
// SEARCH RESULT
// =============================================================================

// SearchResult represents a single ranked chunk.
type SearchResult struct {
	ChunkID int64
	Path    string
	Title   string
	Heading string
	Content string
	Ordinal int
	Score   float64 // Higher is more relevant
}

// Snippet converts the result into grounding context.
func (r SearchResult) Snippet() model.ContextSnippet {
	return model.ContextSnippet{
		SourceID: r.Path,
		Content:  r.Content,
		Score:    r.Score,
	}
}

// =============================================================================
// SEARCH METHODS
// =============================================================================

// Search returns the chunks most relevant to query as grounding snippets,
// best first.
func (idx *NotesIndex) Search(ctx context.Context, query string, limit int) ([]model.ContextSnippet, error) {
	results, err := idx.SearchChunks(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	snippets := make([]model.ContextSnippet, len(results))
	for i, r := range results {
		snippets[i] = r.Snippet()
	}
	return snippets, nil
}

// SearchChunks ranks chunks using the configured search mode.
func (idx *NotesIndex) SearchChunks(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if !idx.IsIndexed() {
		return nil, ErrNotIndexed
	}
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	switch idx.config.SearchMode {
	case SearchSemantic:
		return idx.semanticSearch(ctx, query, limit)
	case SearchHybrid:
		return idx.hybridSearch(ctx, query, limit)
	default:
		return idx.fullTextSearch(ctx, query, limit)
	}
}

// fullTextSearch ranks with FTS5 bm25, weighting headings over body text.
func (idx *NotesIndex) fullTextSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []SearchResult{}, nil
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT c.id, f.path, COALESCE(f.title, ''), COALESCE(c.heading, ''), c.content, c.ord,
		       bm25(chunks_fts, 2.0, 1.0) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN files f ON f.id = c.file_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: full-text search: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, limit)
	for rows.Next() {
		var r SearchResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &r.Path, &r.Title, &r.Heading, &r.Content, &r.Ordinal, &rank); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// semanticSearch ranks every embedded chunk by cosine similarity to the
// query vector.
func (idx *NotesIndex) semanticSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if idx.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}

	qvec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT c.id, f.path, COALESCE(f.title, ''), COALESCE(c.heading, ''), c.content, c.ord, c.embedding
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE c.embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: semantic search: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var (
		candidates []SearchResult
		corpus     [][]float32
	)
	for rows.Next() {
		var r SearchResult
		var blob []byte
		if err := rows.Scan(&r.ChunkID, &r.Path, &r.Title, &r.Heading, &r.Content, &r.Ordinal, &blob); err != nil {
			return nil, err
		}
		candidates = append(candidates, r)
		corpus = append(corpus, decodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top := embedding.FindTopK(qvec, corpus, limit)
	results := make([]SearchResult, len(top))
	for i, t := range top {
		results[i] = candidates[t.Index]
		results[i].Score = t.Similarity
	}
	return results, nil
}

// hybridSearch fuses full-text and semantic rankings with reciprocal rank
// fusion.
func (idx *NotesIndex) hybridSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	depth := limit * 4
	text, err := idx.fullTextSearch(ctx, query, depth)
	if err != nil {
		return nil, err
	}
	semantic, err := idx.semanticSearch(ctx, query, depth)
	if err != nil {
		return nil, err
	}
	return fuseRankings(limit, text, semantic), nil
}

// fuseRankings scores each chunk by the sum of 1/(k+rank) over the lists it
// appears in. Ties keep first-seen order.
func fuseRankings(limit int, lists ...[]SearchResult) []SearchResult {
	byID := make(map[int64]*SearchResult)
	var order []int64
	for _, list := range lists {
		for rank, r := range list {
			entry, ok := byID[r.ChunkID]
			if !ok {
				cp := r
				cp.Score = 0
				entry = &cp
				byID[r.ChunkID] = entry
				order = append(order, r.ChunkID)
			}
			entry.Score += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]SearchResult, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

// buildFTSQuery turns free text into an FTS5 expression matching any of its
// terms. Terms are quoted so FTS operators in user input are inert.
func buildFTSQuery(query string) string {
	query = strings.ToLower(norm.NFKC.String(query))
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// =============================================================================
// SOURCE FETCH
// =============================================================================

// FetchBySourcePaths returns the full body of each named note, in the order
// given. Notes are read from disk and fall back to indexed chunks when the
// file is gone.
func (idx *NotesIndex) FetchBySourcePaths(ctx context.Context, paths []string) ([]model.ContextSnippet, error) {
	snippets := make([]model.ContextSnippet, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			content, err := idx.fetchSource(gctx, p)
			if err != nil {
				return err
			}
			snippets[i] = model.ContextSnippet{SourceID: p, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snippets, nil
}

func (idx *NotesIndex) fetchSource(ctx context.Context, path string) (string, error) {
	abs, rel, err := idx.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(abs)
	if err == nil {
		if c := idx.chunkerFor(abs); c != nil {
			return c.Chunk(string(data), abs).Body, nil
		}
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	content, err := idx.storedContent(ctx, rel)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	return content, err
}

// storedContent reassembles a note from its indexed chunks.
func (idx *NotesIndex) storedContent(ctx context.Context, rel string) (string, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT c.content
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE f.path = ?
		ORDER BY c.ord
	`, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", sql.ErrNoRows
	}
	return strings.Join(parts, "\n\n"), nil
}

// =============================================================================
// FILE LISTING
// =============================================================================

// FileInfo describes one indexed note.
type FileInfo struct {
	Path       string   `json:"path"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags,omitempty"`
	ChunkCount int      `json:"chunk_count"`
	ModTime    int64    `json:"mod_time"`
	Size       int64    `json:"size"`
}

// Files lists indexed notes whose path starts with prefix, sorted by path.
func (idx *NotesIndex) Files(ctx context.Context, prefix string) ([]FileInfo, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT path, COALESCE(title, ''), COALESCE(tags, ''), chunk_count, mod_time, size
		FROM files
		WHERE path LIKE ? ESCAPE '\'
		ORDER BY path
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var f FileInfo
		var tags string
		if err := rows.Scan(&f.Path, &f.Title, &tags, &f.ChunkCount, &f.ModTime, &f.Size); err != nil {
			return nil, err
		}
		if tags != "" {
			f.Tags = strings.Split(tags, ",")
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
