// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/notechat/internal/embedding"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotIndexed     = errors.New("notes not indexed")
	ErrIndexing       = errors.New("indexing in progress")
	ErrDatabaseError  = errors.New("database error")
	ErrInvalidPath    = errors.New("invalid path")
	ErrSourceNotFound = errors.New("source not found")
	ErrNoEmbedder     = errors.New("search mode requires an embedding engine")
)

// =============================================================================
// NOTES INDEX
// =============================================================================

// NotesIndex indexes a directory of notes for retrieval.
type NotesIndex struct {
	db      *sql.DB
	watcher *Watcher
	root    string
	mu      sync.RWMutex

	// Indexing state
	indexing    bool
	indexingMu  sync.Mutex
	lastIndexed time.Time
	fileCount   int
	chunkCount  int

	config   *Config
	chunkers map[string]Chunker
	embedder embedding.Engine
	logger   *zap.Logger
}

// Config holds index configuration
type Config struct {
	// Root is the notes directory
	Root string

	// DatabasePath is where to store the SQLite database
	DatabasePath string

	// MaxFileSize is the maximum file size to index (bytes)
	MaxFileSize int64

	// IgnorePatterns are glob patterns matched against base names
	IgnorePatterns []string

	// Extensions lists the note file extensions to index
	Extensions []string

	// ChunkSize is the maximum chunk length in characters
	ChunkSize int

	// SearchMode selects the ranking strategy
	SearchMode SearchMode

	// WatchDebounce is the debounce duration for file change events
	WatchDebounce time.Duration

	// Embedder produces vectors for semantic and hybrid search. Optional
	// for full-text search.
	Embedder embedding.Engine

	Logger *zap.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig(root string) *Config {
	return &Config{
		Root:         root,
		DatabasePath: filepath.Join(root, ".notechat", "index.db"),
		MaxFileSize:  5 * 1024 * 1024, // 5MB
		IgnorePatterns: []string{
			".git", ".svn", ".hg",
			".obsidian", ".trash", ".notechat",
			"node_modules", ".venv",
			".idea", ".vscode",
		},
		Extensions:    []string{".md", ".markdown", ".txt"},
		ChunkSize:     1200,
		SearchMode:    SearchFullText,
		WatchDebounce: 500 * time.Millisecond,
	}
}

// New opens (creating if needed) the index for config.Root.
func New(config *Config) (*NotesIndex, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Validate root path
	info, err := os.Stat(config.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory", ErrInvalidPath)
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	if config.SearchMode == "" {
		config.SearchMode = SearchFullText
	}
	if !config.SearchMode.IsValid() {
		return nil, fmt.Errorf("unknown search mode %q", config.SearchMode)
	}
	if config.SearchMode.NeedsEmbeddings() && config.Embedder == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEmbedder, config.SearchMode)
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1200
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 5 * 1024 * 1024
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Create database directory if needed
	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000", // 16MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &NotesIndex{
		db:       db,
		root:     root,
		config:   config,
		chunkers: make(map[string]Chunker),
		embedder: config.Embedder,
		logger:   logger.Named("index"),
	}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	idx.registerChunkers()

	if err := idx.loadStats(); err != nil {
		idx.logger.Debug("no stored statistics", zap.Error(err))
	}

	return idx, nil
}

// initSchema creates the database schema
func (idx *NotesIndex) initSchema() error {
	if _, err := idx.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := idx.db.Exec(InitMetadata); err != nil {
		return err
	}
	_, err := idx.db.Exec("UPDATE metadata SET value = ? WHERE key = 'root_path'", idx.root)
	return err
}

// registerChunkers maps configured extensions to chunkers.
func (idx *NotesIndex) registerChunkers() {
	md := &MarkdownChunker{MaxChars: idx.config.ChunkSize}
	plain := &PlainChunker{MaxChars: idx.config.ChunkSize}
	for _, ext := range idx.config.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		switch ext {
		case ".md", ".markdown", ".mdx":
			idx.chunkers[ext] = md
		default:
			idx.chunkers[ext] = plain
		}
	}
}

// Root returns the absolute notes directory.
func (idx *NotesIndex) Root() string {
	return idx.root
}

// Close closes the index and releases resources
func (idx *NotesIndex) Close() error {
	idx.mu.Lock()
	w := idx.watcher
	idx.watcher = nil
	idx.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	return idx.db.Close()
}

// =============================================================================
// INDEXING
// =============================================================================

// parsedFile is a note read and chunked, ready to write.
type parsedFile struct {
	rel     string
	info    fs.FileInfo
	doc     Document
	vectors [][]float32
}

// Index performs a full rebuild of the notes index.
func (idx *NotesIndex) Index(ctx context.Context) error {
	idx.indexingMu.Lock()
	if idx.indexing {
		idx.indexingMu.Unlock()
		return ErrIndexing
	}
	idx.indexing = true
	idx.indexingMu.Unlock()

	defer func() {
		idx.indexingMu.Lock()
		idx.indexing = false
		idx.indexingMu.Unlock()
	}()

	startTime := time.Now()

	var paths []string
	err := filepath.WalkDir(idx.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != idx.root && idx.shouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if idx.shouldIgnore(d.Name()) || idx.chunkerFor(path) == nil {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk notes: %w", err)
	}

	// Read, chunk and embed in parallel; write in one transaction.
	parsed := make([]*parsedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			pf, err := idx.parseFile(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if errors.Is(err, errEmbed) {
					return err
				}
				idx.logger.Warn("skipping note", zap.String("path", path), zap.Error(err))
				return nil
			}
			parsed[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return fmt.Errorf("failed to clear files: %w", err)
	}

	var fileCount, chunkCount int
	for _, pf := range parsed {
		if pf == nil {
			continue
		}
		if err := idx.writeFile(ctx, tx, pf); err != nil {
			return fmt.Errorf("failed to index %s: %w", pf.rel, err)
		}
		fileCount++
		chunkCount += len(pf.doc.Chunks)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = 'last_full_index'", startTime.Unix()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = 'embedding_engine'", idx.embedderName()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	idx.mu.Lock()
	idx.lastIndexed = startTime
	idx.fileCount = fileCount
	idx.chunkCount = chunkCount
	idx.mu.Unlock()

	idx.logger.Info("index rebuilt",
		zap.Int("files", fileCount),
		zap.Int("chunks", chunkCount),
		zap.Duration("elapsed", time.Since(startTime)))
	return nil
}

// IndexFile reindexes one note. A note that no longer exists is removed.
func (idx *NotesIndex) IndexFile(ctx context.Context, path string) error {
	abs, rel, err := idx.resolve(path)
	if err != nil {
		return err
	}
	if idx.chunkerFor(abs) == nil {
		return nil
	}

	pf, err := idx.parseFile(ctx, abs)
	if errors.Is(err, fs.ErrNotExist) {
		return idx.RemoveFile(ctx, rel)
	}
	if err != nil {
		return err
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if err := deleteFile(ctx, tx, rel); err != nil {
		return err
	}
	if err := idx.writeFile(ctx, tx, pf); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	idx.logger.Debug("note reindexed", zap.String("path", rel), zap.Int("chunks", len(pf.doc.Chunks)))
	return idx.refreshCounts(ctx)
}

// RemoveFile drops a note from the index.
func (idx *NotesIndex) RemoveFile(ctx context.Context, path string) error {
	_, rel, err := idx.resolve(path)
	if err != nil {
		return err
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if err := deleteFile(ctx, tx, rel); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	idx.logger.Debug("note removed", zap.String("path", rel))
	return idx.refreshCounts(ctx)
}

var errEmbed = errors.New("embedding failed")

// parseFile reads, chunks and embeds one note.
func (idx *NotesIndex) parseFile(ctx context.Context, path string) (*parsedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > idx.config.MaxFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", idx.config.MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rel, err := idx.relPath(path)
	if err != nil {
		return nil, err
	}

	pf := &parsedFile{
		rel:  rel,
		info: info,
		doc:  idx.chunkerFor(path).Chunk(string(content), path),
	}

	if idx.embedder != nil && len(pf.doc.Chunks) > 0 {
		texts := make([]string, len(pf.doc.Chunks))
		for i, c := range pf.doc.Chunks {
			texts[i] = embeddingText(pf.doc.Title, c)
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, errors.Join(errEmbed, err)
		}
		pf.vectors = vecs
	}
	return pf, nil
}

// embeddingText prefixes the title and heading so short chunks keep context.
func embeddingText(title string, c Chunk) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	if c.Heading != "" && c.Heading != title {
		sb.WriteString(c.Heading)
		sb.WriteString("\n")
	}
	sb.WriteString(c.Content)
	return sb.String()
}

// writeFile inserts a file row and its chunks.
func (idx *NotesIndex) writeFile(ctx context.Context, tx *sql.Tx, pf *parsedFile) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO files (path, mod_time, size, title, tags, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, pf.rel, pf.info.ModTime().Unix(), pf.info.Size(), pf.doc.Title,
		strings.Join(pf.doc.Tags, ","), len(pf.doc.Chunks), time.Now().Unix())
	if err != nil {
		return err
	}

	fileID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	for i, c := range pf.doc.Chunks {
		var blob []byte
		if i < len(pf.vectors) {
			blob = encodeVector(pf.vectors[i])
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (file_id, ord, heading, content, embedding)
			VALUES (?, ?, ?, ?, ?)
		`, fileID, c.Ordinal, c.Heading, c.Content, blob); err != nil {
			return err
		}
	}
	return nil
}

func deleteFile(ctx context.Context, tx *sql.Tx, rel string) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE file_id IN (SELECT id FROM files WHERE path = ?)", rel); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", rel)
	return err
}

// =============================================================================
// PATHS
// =============================================================================

// resolve maps an absolute or root-relative path to both forms, rejecting
// paths that escape the root.
func (idx *NotesIndex) resolve(path string) (abs, rel string, err error) {
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(idx.root, filepath.FromSlash(path))
	}
	rel, err = idx.relPath(abs)
	return abs, rel, err
}

func (idx *NotesIndex) relPath(abs string) (string, error) {
	rel, err := filepath.Rel(idx.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, abs, idx.root)
	}
	return filepath.ToSlash(rel), nil
}

// shouldIgnore checks if a file/directory should be ignored
func (idx *NotesIndex) shouldIgnore(name string) bool {
	for _, pattern := range idx.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func (idx *NotesIndex) chunkerFor(path string) Chunker {
	return idx.chunkers[strings.ToLower(filepath.Ext(path))]
}

func (idx *NotesIndex) embedderName() string {
	if idx.embedder == nil {
		return ""
	}
	return idx.embedder.Name()
}

// =============================================================================
// VECTORS
// =============================================================================

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// =============================================================================
// STATISTICS
// =============================================================================

// loadStats loads statistics from the database
func (idx *NotesIndex) loadStats() error {
	var lastIndexed int64
	if err := idx.db.QueryRow("SELECT value FROM metadata WHERE key = 'last_full_index'").Scan(&lastIndexed); err != nil {
		return err
	}

	idx.mu.Lock()
	if lastIndexed > 0 {
		idx.lastIndexed = time.Unix(lastIndexed, 0)
	}
	idx.mu.Unlock()

	return idx.refreshCounts(context.Background())
}

func (idx *NotesIndex) refreshCounts(ctx context.Context) error {
	var files, chunks int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&files); err != nil {
		return err
	}
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.fileCount = files
	idx.chunkCount = chunks
	idx.mu.Unlock()
	return nil
}

// Stats holds index statistics
type Stats struct {
	Root            string
	FileCount       int
	ChunkCount      int
	LastIndexed     time.Time
	IsIndexing      bool
	IsWatching      bool
	DatabaseSize    int64
	SearchMode      SearchMode
	EmbeddingEngine string
}

// Stats returns current index statistics
func (idx *NotesIndex) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	idx.indexingMu.Lock()
	indexing := idx.indexing
	idx.indexingMu.Unlock()

	var dbSize int64
	if info, err := os.Stat(idx.config.DatabasePath); err == nil {
		dbSize = info.Size()
	}

	return Stats{
		Root:            idx.root,
		FileCount:       idx.fileCount,
		ChunkCount:      idx.chunkCount,
		LastIndexed:     idx.lastIndexed,
		IsIndexing:      indexing,
		IsWatching:      idx.watcher != nil,
		DatabaseSize:    dbSize,
		SearchMode:      idx.config.SearchMode,
		EmbeddingEngine: idx.embedderName(),
	}
}

// IsIndexed returns true once a full index has completed
func (idx *NotesIndex) IsIndexed() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return !idx.lastIndexed.IsZero()
}
