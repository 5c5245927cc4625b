// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/model"
)

// =============================================================================
// RETRIEVAL INTERFACES
// =============================================================================

// Searcher performs a ranked search, most relevant first.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.ContextSnippet, error)
}

// SourceFetcher returns the full content of the named sources.
type SourceFetcher interface {
	FetchBySourcePaths(ctx context.Context, paths []string) ([]model.ContextSnippet, error)
}

// ContextResolver produces the grounded first turn of a session.
type ContextResolver interface {
	Resolve(ctx context.Context, query string, filters model.ChatFilters) (model.ChatTurn, error)
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver grounds a query in note content. It never touches a transcript.
type Resolver struct {
	searcher Searcher
	fetcher  SourceFetcher
	logger   *zap.Logger
}

// NewResolver creates a resolver. Either backend may be nil, in which case
// requests that need it fail with a RetrievalError.
func NewResolver(searcher Searcher, fetcher SourceFetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		searcher: searcher,
		fetcher:  fetcher,
		logger:   logger,
	}
}

// Resolve builds a user turn whose content is the grounded prompt and whose
// visible content is the raw query.
func (r *Resolver) Resolve(ctx context.Context, query string, filters model.ChatFilters) (model.ChatTurn, error) {
	var (
		snippets []model.ContextSnippet
		err      error
	)

	if filters.UsesExplicitSources() {
		snippets, err = r.fetchExplicit(ctx, filters.ExplicitSources)
	} else {
		snippets, err = r.search(ctx, query, filters.MaxSnippets)
	}
	if err != nil {
		return model.ChatTurn{}, &RetrievalError{Query: query, Cause: err}
	}

	r.logger.Debug("resolved context",
		zap.Int("snippets", len(snippets)),
		zap.Bool("explicit", filters.UsesExplicitSources()))

	return model.ChatTurn{
		Role:           model.RoleUser,
		Content:        FormatGroundedPrompt(query, snippets),
		Status:         model.StatusSuccess,
		Context:        snippets,
		VisibleContent: query,
	}, nil
}

func (r *Resolver) search(ctx context.Context, query string, limit int) ([]model.ContextSnippet, error) {
	if r.searcher == nil {
		return nil, ErrNoRetrieval
	}
	if limit <= 0 {
		return []model.ContextSnippet{}, nil
	}

	results, err := r.searcher.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return copySnippets(results), nil
}

// fetchExplicit returns snippets in the order the paths were given,
// whatever order the backend produced them in.
func (r *Resolver) fetchExplicit(ctx context.Context, paths []string) ([]model.ContextSnippet, error) {
	if r.fetcher == nil {
		return nil, ErrNoRetrieval
	}

	results, err := r.fetcher.FetchBySourcePaths(ctx, paths)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.ContextSnippet, len(results))
	for _, s := range results {
		byID[s.SourceID] = s
	}
	ordered := make([]model.ContextSnippet, 0, len(paths))
	for _, p := range paths {
		s, ok := byID[p]
		if !ok {
			// Backend renamed the ids; its order is all we have.
			return copySnippets(results), nil
		}
		ordered = append(ordered, s)
	}
	return ordered, nil
}

func copySnippets(in []model.ContextSnippet) []model.ContextSnippet {
	out := make([]model.ContextSnippet, len(in))
	copy(out, in)
	return out
}

// =============================================================================
// PROMPT TEMPLATE
// =============================================================================

// FormatGroundedPrompt renders the grounding template: an instruction
// preamble, the snippet contents separated by blank lines, then the query.
func FormatGroundedPrompt(query string, snippets []model.ContextSnippet) string {
	contents := make([]string, len(snippets))
	for i, s := range snippets {
		contents[i] = s.Content
	}

	var sb strings.Builder
	sb.WriteString("Based on the following context answer the question down below. \n\n\n")
	sb.WriteString("Context: \n")
	sb.WriteString(strings.Join(contents, "\n\n"))
	sb.WriteString("\n\n\nQuery:\n")
	sb.WriteString(query)
	return sb.String()
}
