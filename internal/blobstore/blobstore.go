package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultChunkSize is the fixed chunk size used by every backend (255 KiB,
// the GridFS default).
const DefaultChunkSize = 255 * 1024

var (
	// ErrNotFound is returned when the object id is unknown or the object
	// has not been committed yet.
	ErrNotFound = errors.New("object not found")
	// ErrWriteFailed wraps chunk persistence failures during ingestion.
	ErrWriteFailed = errors.New("chunk write failed")
	// ErrReadFailed wraps chunk retrieval failures mid-stream.
	ErrReadFailed = errors.New("chunk read failed")
)

// Object describes a committed stored object.
type Object struct {
	ID          string    `json:"id"`
	Length      int64     `json:"length"`
	ChunkSize   int       `json:"chunkSize"`
	ContentType string    `json:"contentType"`
	Filename    string    `json:"filename"`
	UploadDate  time.Time `json:"uploadDate"`
}

// Writer is an append-only handle for a single new object. Bytes written
// before Commit are never visible to readers; a writer that fails must be
// Aborted so partially flushed chunks are removed.
type Writer interface {
	io.Writer

	// ID returns the object id allocated at BeginWrite. The id only becomes
	// resolvable after Commit.
	ID() string

	// Commit flushes the final chunk and publishes the object metadata,
	// making the object visible to OpenRead/Stat.
	Commit(ctx context.Context) (*Object, error)

	// Abort removes any chunks flushed so far. Idempotent.
	Abort(ctx context.Context) error
}

// Store persists opaque byte streams as ordered fixed-size chunks under a
// generated object id.
type Store interface {
	// BeginWrite allocates a fresh object id and opens an append-only write
	// target. No two writers ever share an id.
	BeginWrite(ctx context.Context, contentType, filename string) (Writer, error)

	// OpenRead resolves a committed object and returns its metadata plus a
	// stream over its chunks in order. Returns ErrNotFound for unknown or
	// uncommitted ids.
	OpenRead(ctx context.Context, id string) (*Object, io.ReadCloser, error)

	// Stat resolves metadata only.
	Stat(ctx context.Context, id string) (*Object, error)

	// Delete removes the object metadata and all of its chunks. Deleting an
	// unknown id is not an error.
	Delete(ctx context.Context, id string) error
}
