// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides the notes retrieval backend.
//
// Notes under a root directory are split into chunks and stored in a SQLite
// database with an FTS5 table. When an embedding engine is configured each
// chunk also carries a vector, enabling semantic and hybrid ranking.
//
// # Key Types
//
//   - NotesIndex: indexer and searcher with SQLite backend
//   - Chunker: splits a note into retrievable chunks
//   - SearchResult: a ranked chunk
//   - Watcher: fsnotify watcher for incremental updates
//
// # Search Modes
//
//   - fulltext: FTS5 bm25 over headings and content
//   - semantic: cosine similarity over stored embeddings
//   - hybrid: reciprocal rank fusion of both
//
// # Usage
//
//	idx, err := index.New(index.DefaultConfig("/path/to/notes"))
//	err = idx.Index(ctx)
//	snippets, err := idx.Search(ctx, "weekly review", 5)
//
// NotesIndex satisfies the retrieval interfaces of the chat package, so it
// can be handed straight to chat.NewResolver.
package index
