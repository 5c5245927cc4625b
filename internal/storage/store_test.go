// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/notechat/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewStoreWithDir() error = %v", err)
	}
	return store
}

func sampleSession(id string) *model.ChatSession {
	return &model.ChatSession{
		ID: id,
		Turns: []model.ChatTurn{
			{
				Role:           model.RoleUser,
				Content:        "grounded",
				Status:         model.StatusSuccess,
				VisibleContent: "What is X?",
				Context:        []model.ContextSnippet{{SourceID: "x.md", Content: "X"}},
			},
			model.NewAssistantTurn("The answer.", model.StatusSuccess),
		},
	}
}

// =============================================================================
// TRANSCRIPT TESTS
// =============================================================================

func TestStore_PersistAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Persist(ctx, sampleSession("100")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	got, err := store.Load(ctx, "100")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("len(Turns) = %d, want 2", len(got.Turns))
	}
	if got.Turns[0].VisibleContent != "What is X?" {
		t.Errorf("VisibleContent = %q, want %q", got.Turns[0].VisibleContent, "What is X?")
	}
	if len(got.Turns[0].Context) != 1 || got.Turns[0].Context[0].SourceID != "x.md" {
		t.Errorf("Context = %+v, want one snippet from x.md", got.Turns[0].Context)
	}
}

func TestStore_PersistReplacesSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := sampleSession("100")
	if err := store.Persist(ctx, s); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	first, _ := store.readSession("100")

	s.Turns = append(s.Turns, model.NewUserTurn("follow-up"))
	time.Sleep(5 * time.Millisecond)
	if err := store.Persist(ctx, s); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	second, _ := store.readSession("100")
	if len(second.Turns) != 3 {
		t.Errorf("len(Turns) = %d, want 3", len(second.Turns))
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestStore_LoadNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(filepath.Join(store.BaseDir, "bad.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load(context.Background(), "bad")
	if !errors.Is(err, ErrCorruptSession) {
		t.Errorf("Load() error = %v, want ErrCorruptSession", err)
	}
}

func TestStore_InvalidIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", `a\b`, "..", "metadata", "x.json"} {
		err := store.Persist(ctx, &model.ChatSession{ID: id})
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("Persist(%q) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestStore_PersistHonoursContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Persist(ctx, sampleSession("1")); !errors.Is(err, context.Canceled) {
		t.Errorf("Persist() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// METADATA TESTS
// =============================================================================

func TestStore_AddMetadataIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddMetadata(ctx, model.SessionMetadata{ID: "1"}); err != nil {
		t.Fatalf("AddMetadata() error = %v", err)
	}
	if err := store.AddMetadata(ctx, model.SessionMetadata{ID: "1", DisplayName: "Other"}); err != nil {
		t.Fatalf("AddMetadata() error = %v", err)
	}

	metas, err := store.ListMetadata(ctx)
	if err != nil {
		t.Fatalf("ListMetadata() error = %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("len(metas) = %d, want 1", len(metas))
	}
	if metas[0].DisplayName != model.DefaultDisplayName {
		t.Errorf("DisplayName = %q, want %q", metas[0].DisplayName, model.DefaultDisplayName)
	}
}

func TestStore_PersistRefreshesListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.AddMetadata(ctx, model.SessionMetadata{ID: "old"})
	_ = store.AddMetadata(ctx, model.SessionMetadata{ID: "new"})
	time.Sleep(5 * time.Millisecond)
	if err := store.Persist(ctx, sampleSession("old")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	metas, _ := store.ListMetadata(ctx)
	if metas[0].ID != "old" {
		t.Errorf("metas[0].ID = %q, want most recently persisted %q", metas[0].ID, "old")
	}
	if metas[0].TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", metas[0].TurnCount)
	}
	if metas[0].DisplayName != model.DefaultDisplayName {
		t.Errorf("DisplayName = %q, persist must not change it", metas[0].DisplayName)
	}
}

func TestStore_Rename(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.AddMetadata(ctx, model.SessionMetadata{ID: "1"})

	if err := store.Rename(ctx, "1", "Monads\nexplained"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	meta, err := store.Metadata(ctx, "1")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.DisplayName != "Monads explained" {
		t.Errorf("DisplayName = %q, want %q", meta.DisplayName, "Monads explained")
	}

	if err := store.Rename(ctx, "missing", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Rename(missing) error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Rename(ctx, "1", "  "); !errors.Is(err, ErrEmptyDisplayName) {
		t.Errorf("Rename(blank) error = %v, want ErrEmptyDisplayName", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.AddMetadata(ctx, model.SessionMetadata{ID: "1"})
	_ = store.Persist(ctx, sampleSession("1"))

	if err := store.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load() after Delete error = %v, want ErrSessionNotFound", err)
	}
	metas, _ := store.ListMetadata(ctx)
	if len(metas) != 0 {
		t.Errorf("len(metas) = %d, want 0", len(metas))
	}

	if err := store.Delete(ctx, "1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_ConcurrentAddMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.AddMetadata(ctx, model.SessionMetadata{ID: model.NewSessionID()})
		}(i)
	}
	wg.Wait()

	metas, err := store.ListMetadata(ctx)
	if err != nil {
		t.Fatalf("ListMetadata() error = %v", err)
	}
	if len(metas) != 20 {
		t.Errorf("len(metas) = %d, want 20", len(metas))
	}
}

func TestStore_SearchTranscripts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.AddMetadata(ctx, model.SessionMetadata{ID: "1"})
	_ = store.Persist(ctx, sampleSession("1"))
	_ = store.AddMetadata(ctx, model.SessionMetadata{ID: "2"})
	_ = store.Persist(ctx, &model.ChatSession{ID: "2", Turns: []model.ChatTurn{model.NewUserTurn("unrelated")}})

	got, err := store.SearchTranscripts(ctx, "what is x")
	if err != nil {
		t.Fatalf("SearchTranscripts() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("SearchTranscripts() = %+v, want session 1 only", got)
	}
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestFormatSessionList(t *testing.T) {
	if got := FormatSessionList(nil); got != "No sessions found." {
		t.Errorf("FormatSessionList(nil) = %q", got)
	}

	out := FormatSessionList([]model.SessionMetadata{{
		ID:          "1700000000000",
		DisplayName: "Monads",
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC),
		TurnCount:   4,
	}})
	for _, want := range []string{"1700000000000", "2025-01-02 03:04", "Monads", "4"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatSessionList() missing %q:\n%s", want, out)
		}
	}
}
