package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/ansuz/internal/storage"
)

const (
	// settleDelay groups the writes an editor makes while saving one file.
	settleDelay    = 100 * time.Millisecond
	reconcileDelay = 200 * time.Millisecond
)

// timer is a resettable one-shot timer whose channel is nil until first armed,
// so it can sit in a select before it is used.
type timer struct {
	delay time.Duration
	t     *time.Timer
	C     <-chan time.Time
}

func (d *timer) arm() {
	if d.t == nil {
		d.t = time.NewTimer(d.delay)
		d.C = d.t.C
		return
	}
	d.t.Reset(d.delay)
}

func (d *timer) stop() {
	if d.t != nil {
		d.t.Stop()
	}
}

type vaultWatcher struct {
	fsw    *fsnotify.Watcher
	db     *DB
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback

	pending   map[string]struct{}
	settle    timer
	reconcile timer
}

// Watch watches the vault with fsnotify until ctx is cancelled and keeps the
// index in step with the files on disk.
//
// Writes are collected per file and applied once the file has been quiet for
// a short while; a file whose mtime matches the indexed one produces no event.
// Deletes apply at once. New directories are watched as they appear, and
// renames trigger a full Sync because fsnotify only reports the old name.
// cb, if non-nil, receives every change.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addDirsRecursive(fsw, vaultRoot); err != nil {
		return err
	}

	w := &vaultWatcher{
		fsw:       fsw,
		db:        db,
		store:     store,
		root:      vaultRoot,
		logger:    logger,
		cb:        cb,
		pending:   make(map[string]struct{}),
		settle:    timer{delay: settleDelay},
		reconcile: timer{delay: reconcileDelay},
	}
	defer w.settle.stop()
	defer w.reconcile.stop()

	logger.Info("watcher: started", slog.String("root", vaultRoot))
	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-w.settle.C:
			w.flush()

		case <-w.reconcile.C:
			if err := Sync(db, store, logger, cb); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *vaultWatcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.watchDir(ev.Name)
			return
		}
	}
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.pending[rel] = struct{}{}
		w.settle.arm()
	case ev.Op&fsnotify.Remove != 0:
		delete(w.pending, rel)
		w.remove(rel)
	case ev.Op&fsnotify.Rename != 0:
		delete(w.pending, rel)
		w.remove(rel)
		w.reconcile.arm()
	}
}

func (w *vaultWatcher) watchDir(abs string) {
	if hidden(filepath.Base(abs)) {
		return
	}
	if err := addDirsRecursive(w.fsw, abs); err != nil {
		w.logger.Warn("watcher: add dir failed",
			slog.String("path", abs),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: watching dir", slog.String("path", abs))
	// Files may have landed before the directory was watched.
	w.reconcile.arm()
}

// flush indexes every settled path in a stable order.
func (w *vaultWatcher) flush() {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	clear(w.pending)

	for _, rel := range paths {
		w.refresh(rel)
	}
}

func (w *vaultWatcher) refresh(rel string) {
	meta, err := w.store.Stat(rel)
	if err != nil {
		// Gone again before it settled; the remove event covers it.
		w.logger.Debug("watcher: stat failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	prev, known, _ := w.db.GetMTime(rel)
	if known && prev == meta.MTime {
		return
	}
	if err := indexFile(w.db, w.store, rel, meta.MTime); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := kindFor(known)
	w.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	notify(w.cb, kind, rel)
}

func (w *vaultWatcher) remove(rel string) {
	if _, known, _ := w.db.GetMTime(rel); !known {
		return
	}
	if err := w.db.DeleteNote(rel); err != nil {
		w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: deleted", slog.String("path", rel))
	notify(w.cb, EventDeleted, rel)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
