package index

import (
	"log/slog"

	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// EventCallback is called after an index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Sync walks the vault and brings the index up to date:
//   - files whose mtime differs from the indexed one are parsed and upserted
//   - files removed from disk are deleted from the index
//
// cb, if non-nil, is called for every change.
func Sync(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	mtimes, err := db.AllMTimes()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		prev, known := mtimes[m.Path]
		if known && prev == m.MTime {
			continue
		}

		if err := indexFile(db, store, m.Path, m.MTime); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
		notify(cb, kindFor(known), m.Path)
	}

	for p := range mtimes {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeleteNote(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		notify(cb, EventDeleted, p)
	}

	return nil
}

func kindFor(known bool) string {
	if known {
		return EventUpdated
	}
	return EventCreated
}

func notify(cb EventCallback, kind, path string) {
	if cb != nil {
		cb(kind, path)
	}
}

// indexFile reads and parses path and upserts it with the given mtime.
func indexFile(db *DB, store storage.Provider, path string, mtime int64) error {
	data, err := store.Read(path)
	if err != nil {
		return err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	row := NoteRow{
		Path:  path,
		Title: res.Title,
		MTime: mtime,
	}
	return db.UpsertNote(row, res.Body, res.Links)
}
