// Package models defines the data structures shared by the index, the sync engine, and the query API.
package models

// IndexEntry is the indexed state of one document: its embedding and the
// modification time of the version the embedding was computed from.
type IndexEntry struct {
	Path   string    `json:"path"`
	Vector []float32 `json:"vector"`
	MTime  int64     `json:"mtime"`
}

// DocumentInfo identifies a document in the vault listing.
type DocumentInfo struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"`
}

// Document is a document read from the vault. Path is vault-relative and slash-separated.
type Document struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	MTime   int64  `json:"mtime"`
}

// EventKind is the kind of a vault change event.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
	EventRenamed  EventKind = "renamed"
)

// ChangeEvent is a single change notification from the vault.
// OldPath is only set for EventRenamed.
type ChangeEvent struct {
	Kind    EventKind `json:"kind"`
	Path    string    `json:"path"`
	OldPath string    `json:"old_path,omitempty"`
}
