package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is returned by Backend.Write when the stored revision is not
	// the one the caller read.
	ErrConflict = errors.New("storage: revision conflict")
	// ErrNoRecord is returned by Backend.Read for an unknown id.
	ErrNoRecord = errors.New("storage: no record")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": Path is a directory holding <id>.json files
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Backend stores opaque user documents keyed by the decimal identifier.
//
// Write succeeds only if the stored revision equals expected (0 means "must not
// exist yet") and returns the new revision.
type Backend interface {
	Read(ctx context.Context, id string) (*Document, error)
	Write(ctx context.Context, doc *Document, expected uint64) (uint64, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

const schemaVersion = 1

// Document is the serialized form of a user record.
type Document struct {
	Schema   int             `json:"schema"`
	Revision uint64          `json:"revision"`
	ID       string          `json:"id"`
	Timezone string          `json:"timezone"`
	Tags     []string        `json:"tags"`
	Events   []EventDocument `json:"events"`
}

type EventDocument struct {
	ID          int32    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	Location    string   `json:"location,omitempty"`
	Tags        []string `json:"tags"`
	ChatID      int64    `json:"chat_id,omitempty"`
}
