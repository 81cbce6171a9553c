// Package models defines the domain types for ansuz.
package models

// FileDescriptor identifies one vault document and its last modification
// time in epoch milliseconds.
type FileDescriptor struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"`
	Size  int64  `json:"size"`
}

// Descriptor returns the planning view of m.
func (m NoteMetadata) Descriptor() FileDescriptor {
	return FileDescriptor{Path: m.Path, MTime: m.MTime}
}

// Link represents a directed edge between two notes.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
