// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// WATCHER
// =============================================================================

// Watcher keeps an index current by reindexing notes shortly after they
// change on disk.
type Watcher struct {
	idx      *NotesIndex
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	pending  map[string]time.Time // Absolute path -> last change time
	onUpdate func(path string, err error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts watching the notes root. The watcher stops when ctx is
// cancelled or the index is closed.
func (idx *NotesIndex) Watch(ctx context.Context) (*Watcher, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.watcher != nil {
		return idx.watcher, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := idx.config.WatchDebounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		idx:      idx,
		watcher:  fsw,
		debounce: debounce,
		logger:   idx.logger.Named("watch"),
		pending:  make(map[string]time.Time),
		cancel:   cancel,
	}

	if err := w.addRecursive(idx.root); err != nil {
		cancel()
		fsw.Close()
		return nil, err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.processPending(ctx)

	idx.watcher = w
	w.logger.Info("watching notes", zap.String("root", idx.root))
	return w, nil
}

// addRecursive adds a directory and all its subdirectories to the watch list
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.idx.root && w.idx.shouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// processEvents turns file system events into pending changes.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.idx.shouldIgnore(filepath.Base(event.Name)) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if w.idx.chunkerFor(event.Name) == nil {
		return
	}

	// Writes, creates, renames and removes all settle to "reindex whatever
	// is on disk now"; IndexFile removes notes that are gone.
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		w.mu.Lock()
		w.pending[event.Name] = time.Now()
		w.mu.Unlock()
	}
}

// processPending flushes changes that have been quiet for the debounce
// duration.
func (w *Watcher) processPending(ctx context.Context) {
	defer w.wg.Done()

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			var ready []string
			for path, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					ready = append(ready, path)
					delete(w.pending, path)
				}
			}
			onUpdate := w.onUpdate
			w.mu.Unlock()

			for _, path := range ready {
				err := w.idx.IndexFile(ctx, path)
				if err != nil && !errors.Is(err, context.Canceled) {
					w.logger.Warn("reindex failed", zap.String("path", path), zap.Error(err))
				} else {
					w.logger.Debug("reindexed", zap.String("path", path))
				}
				if onUpdate != nil {
					onUpdate(path, err)
				}
			}
		}
	}
}

// SetOnUpdate sets a function called after each reindex or removal.
func (w *Watcher) SetOnUpdate(fn func(path string, err error)) {
	w.mu.Lock()
	w.onUpdate = fn
	w.mu.Unlock()
}

// Pending returns the number of changes waiting for the debounce window.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops watching and waits for in-flight reindexing to finish.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	w.idx.mu.Lock()
	if w.idx.watcher == w {
		w.idx.watcher = nil
	}
	w.idx.mu.Unlock()
	return err
}
