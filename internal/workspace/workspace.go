// Package workspace provides the scratch store used to stage metadata
// documents before upload to the image database and after download from it.
// Staged entries are short-lived: the adapter discards them after a
// successful round trip. A leftover entry after a crash is expected and
// harmless.
package workspace

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete workspace backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible shared workspace
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// Entry describes one staged file.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size_bytes"`
	ModTime  time.Time `json:"mod_time"`
	Location string    `json:"location,omitempty"` // driver-specific path or key
}

// Store is the staging area contract. Unlike a blob archive, staging is
// overwrite-friendly: re-staging a name replaces the previous content.
type Store interface {
	// Stage writes the content under name, replacing any previous entry.
	Stage(ctx context.Context, name string, r io.Reader) (Entry, error)
	// Open returns the staged content. ErrNotStaged when absent.
	Open(ctx context.Context, name string) (Entry, io.ReadCloser, error)
	// Discard removes a staged entry. Returns (false, nil) when absent.
	Discard(ctx context.Context, name string) (bool, error)
	// List returns entries whose name has the prefix, ordered by name.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// URI renders the location a caller would use to reach the entry
	// outside this process (a path for fs, a key URL for s3).
	URI(name string) string
	Driver() Driver
}

// ErrNotStaged is returned by Open for names never staged or already
// discarded.
var ErrNotStaged = errors.New("workspace: entry not staged")
