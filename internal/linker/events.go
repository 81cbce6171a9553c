package linker

import (
	"log/slog"

	"github.com/starford/ansuz/internal/index"
)

// HandleNoteEvent applies a vault change reported by the index watcher.
// Deleted notes are dropped from the session; created and updated notes get
// fresh content and lose their ledger entries so the next scan redoes them.
func (s *Service) HandleNoteEvent(kind, path string) {
	if kind == index.EventDeleted {
		s.mu.Lock()
		s.sess.RemoveDocument(path)
		s.mu.Unlock()
		s.logger.Debug("linker: document removed", slog.String("path", path))
		return
	}

	body, err := s.readBody(path)
	if err != nil {
		s.logger.Warn("linker: reading changed note failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.sess.SetContent(path, body)
	n := s.sess.Invalidate(path)
	s.mu.Unlock()
	s.logger.Debug("linker: document invalidated",
		slog.String("path", path),
		slog.String("kind", kind),
		slog.Int("entries", n))
}
