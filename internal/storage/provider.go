// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/ansuz/internal/models"

// Provider is the interface for vault file operations. Paths are relative to
// the vault root and use forward slashes.
type Provider interface {
	// List returns path, mtime and size for every .md file under dir.
	List(dir string) ([]models.NoteMetadata, error)
	// Stat returns metadata for a single file.
	Stat(path string) (models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteIfUnchanged writes like Write but fails with apperr.ErrConflict
	// when the file's mtime (ms) no longer equals mtime.
	WriteIfUnchanged(path string, content []byte, mtime int64) error
}
