// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the notes index with FTS (Full Text Search)
const Schema = `
-- Metadata table for schema version and index state
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Files table: tracks indexed notes with modification times
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,  -- Slash-separated, relative to the notes root
    mod_time INTEGER NOT NULL,  -- Unix timestamp
    size INTEGER NOT NULL,
    title TEXT,
    tags TEXT,                  -- Comma-separated front matter tags
    chunk_count INTEGER NOT NULL DEFAULT 0,
    indexed_at INTEGER NOT NULL -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_files_mod_time ON files(mod_time);

-- Chunks table: retrievable passages of a note
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL,
    ord INTEGER NOT NULL,       -- Position within the file
    heading TEXT,               -- Nearest enclosing heading
    content TEXT NOT NULL,
    embedding BLOB,             -- Little-endian float32 vector, NULL without an engine
    FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);

-- Full-text search virtual table for chunks
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    heading,
    content,
    content='chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- Triggers to keep FTS table in sync
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, heading, content)
    VALUES (new.id, new.heading, new.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, heading, content)
    VALUES ('delete', old.id, old.heading, old.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE OF heading, content ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, heading, content)
    VALUES ('delete', old.id, old.heading, old.content);
    INSERT INTO chunks_fts(rowid, heading, content)
    VALUES (new.id, new.heading, new.content);
END;
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
INSERT OR IGNORE INTO metadata (key, value) VALUES ('last_full_index', '0');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('root_path', '');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('embedding_engine', '');
`

// =============================================================================
// SEARCH MODES
// =============================================================================

// SearchMode selects the ranking strategy.
type SearchMode string

const (
	SearchFullText SearchMode = "fulltext" // FTS5 bm25
	SearchSemantic SearchMode = "semantic" // Cosine similarity over stored embeddings
	SearchHybrid   SearchMode = "hybrid"   // Reciprocal rank fusion of both
)

// String returns the string representation of SearchMode
func (m SearchMode) String() string {
	return string(m)
}

// IsValid checks if the search mode is known
func (m SearchMode) IsValid() bool {
	switch m {
	case SearchFullText, SearchSemantic, SearchHybrid:
		return true
	}
	return false
}

// NeedsEmbeddings reports whether the mode ranks by vector similarity.
func (m SearchMode) NeedsEmbeddings() bool {
	return m == SearchSemantic || m == SearchHybrid
}
