// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// ChatFilters selects how the first turn of a session is grounded.
// With ExplicitSources set, those sources are fetched whole and search is
// skipped. Otherwise a ranked search returns up to MaxSnippets results.
type ChatFilters struct {
	MaxSnippets     int      `json:"max_snippets" yaml:"max_snippets"`
	ExplicitSources []string `json:"explicit_sources,omitempty" yaml:"explicit_sources,omitempty"`
}

// UsesExplicitSources reports whether retrieval should bypass search.
func (f ChatFilters) UsesExplicitSources() bool {
	return len(f.ExplicitSources) > 0
}
