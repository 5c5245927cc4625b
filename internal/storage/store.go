// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/util"
)

const metadataFile = "metadata.json"

// =============================================================================
// STORED SESSION TYPE
// =============================================================================

// StoredSession is the on-disk form of a transcript.
type StoredSession struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Turns     []model.ChatTurn `json:"turns"`
}

// Session converts the stored form back to a ChatSession.
func (s *StoredSession) Session() *model.ChatSession {
	turns := s.Turns
	if turns == nil {
		turns = []model.ChatTurn{}
	}
	return &model.ChatSession{ID: s.ID, Turns: turns}
}

// =============================================================================
// STORE
// =============================================================================

// Store persists transcripts and the session listing under BaseDir.
type Store struct {
	// BaseDir holds <id>.json transcripts and metadata.json.
	// Default: ~/.notechat/sessions/
	BaseDir string

	// mu serialises metadata read-modify-write cycles.
	mu sync.Mutex
}

// NewStore creates a store in the default location.
func NewStore() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewStoreWithDir(filepath.Join(homeDir, ".notechat", "sessions"))
}

// NewStoreWithDir creates a store rooted at baseDir.
func NewStoreWithDir(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &Store{BaseDir: baseDir}, nil
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// Persist writes the full transcript, replacing any earlier snapshot with the
// same id. The listing entry, if present, gets its timestamp and turn count
// refreshed; its display name is left alone.
func (s *Store) Persist(ctx context.Context, sess *model.ChatSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(sess.ID); err != nil {
		return err
	}

	now := time.Now()
	stored := &StoredSession{
		ID:        sess.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     sess.Turns,
	}
	if prev, err := s.readSession(sess.ID); err == nil {
		stored.CreatedAt = prev.CreatedAt
	}

	// RELIABILITY: atomic write so a crash never leaves a torn transcript
	if err := util.AtomicWriteJSON(s.filePath(sess.ID), stored, 0600); err != nil {
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}

	return s.updateMetadata(func(metas []model.SessionMetadata) ([]model.SessionMetadata, error) {
		for i := range metas {
			if metas[i].ID == sess.ID {
				metas[i].UpdatedAt = now
				metas[i].TurnCount = len(sess.Turns)
			}
		}
		return metas, nil
	})
}

// Load reads a transcript by id.
func (s *Store) Load(ctx context.Context, id string) (*model.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	stored, err := s.readSession(id)
	if err != nil {
		return nil, err
	}
	return stored.Session(), nil
}

// Delete removes a transcript and its listing entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	removeErr := os.Remove(s.filePath(id))
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}

	found := false
	err := s.updateMetadata(func(metas []model.SessionMetadata) ([]model.SessionMetadata, error) {
		out := metas[:0]
		for _, m := range metas {
			if m.ID == id {
				found = true
				continue
			}
			out = append(out, m)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	if !found && os.IsNotExist(removeErr) {
		return ErrSessionNotFound
	}
	return nil
}

// SearchTranscripts returns listing entries whose transcript contains query
// (case-insensitive) in any turn's visible text.
func (s *Store) SearchTranscripts(ctx context.Context, query string) ([]model.SessionMetadata, error) {
	all, err := s.ListMetadata(ctx)
	if err != nil || query == "" {
		return all, err
	}

	query = strings.ToLower(query)
	var results []model.SessionMetadata
	for _, meta := range all {
		stored, err := s.readSession(meta.ID)
		if err != nil {
			continue
		}
		for _, t := range stored.Turns {
			if strings.Contains(strings.ToLower(t.DisplayContent()), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// =============================================================================
// METADATA
// =============================================================================

// ListMetadata returns the session listing, most recently updated first.
func (s *Store) ListMetadata(ctx context.Context) ([]model.SessionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	metas, err := s.readMetadata()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// AddMetadata adds a listing entry. An entry with the same id is kept as is.
func (s *Store) AddMetadata(ctx context.Context, meta model.SessionMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(meta.ID); err != nil {
		return err
	}
	if meta.DisplayName == "" {
		meta.DisplayName = model.DefaultDisplayName
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}

	return s.updateMetadata(func(metas []model.SessionMetadata) ([]model.SessionMetadata, error) {
		for _, m := range metas {
			if m.ID == meta.ID {
				return metas, nil
			}
		}
		return append(metas, meta), nil
	})
}

// Rename changes a session's display name.
func (s *Store) Rename(ctx context.Context, id, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	displayName = util.SingleLine(displayName)
	if displayName == "" {
		return ErrEmptyDisplayName
	}

	return s.updateMetadata(func(metas []model.SessionMetadata) ([]model.SessionMetadata, error) {
		for i := range metas {
			if metas[i].ID == id {
				metas[i].DisplayName = displayName
				return metas, nil
			}
		}
		return nil, ErrSessionNotFound
	})
}

// Metadata returns the listing entry for id.
func (s *Store) Metadata(ctx context.Context, id string) (model.SessionMetadata, error) {
	metas, err := s.ListMetadata(ctx)
	if err != nil {
		return model.SessionMetadata{}, err
	}
	for _, m := range metas {
		if m.ID == id {
			return m, nil
		}
	}
	return model.SessionMetadata{}, ErrSessionNotFound
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

func (s *Store) readSession(id string) (*StoredSession, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var stored StoredSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSession, id, err)
	}
	return &stored, nil
}

// readMetadata must be called with s.mu held.
func (s *Store) readMetadata() ([]model.SessionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.BaseDir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.SessionMetadata{}, nil
		}
		return nil, err
	}

	var metas []model.SessionMetadata
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSession, metadataFile, err)
	}
	return metas, nil
}

func (s *Store) updateMetadata(fn func([]model.SessionMetadata) ([]model.SessionMetadata, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.readMetadata()
	if err != nil {
		return err
	}
	metas, err = fn(metas)
	if err != nil {
		return err
	}
	return util.AtomicWriteJSON(filepath.Join(s.BaseDir, metadataFile), metas, 0600)
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." ||
		strings.TrimSuffix(id, ".json") != id || id == strings.TrimSuffix(metadataFile, ".json") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	// Use errors.Is(err, ErrSessionNotFound) to check for this error.
	ErrSessionNotFound = &StoreError{Message: "session not found"}

	// ErrInvalidID is returned for ids that cannot name a file in BaseDir.
	ErrInvalidID = &StoreError{Message: "invalid session id"}

	// ErrCorruptSession is returned when a stored file cannot be decoded.
	ErrCorruptSession = &StoreError{Message: "corrupt session data"}

	// ErrEmptyDisplayName is returned by Rename for a blank name.
	ErrEmptyDisplayName = errors.New("display name is empty")
)

// StoreError represents a storage error that can be compared with errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
