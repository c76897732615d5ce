// Package metadata defines the interface and SQL implementation for ofuton's
// metadata storage layer, which tracks one row per stored object.
package metadata

import (
	"context"
	"errors"
	"io"
)

// Object represents the metadata row for a single stored object.
type Object struct {
	// ID is the surrogate key assigned by the database.
	ID int64
	// Path is the logical object key as seen by clients, with a leading "/".
	// Unique across the table.
	Path string
	// ContentSize is the object size in bytes. Measured from disk for
	// multipart uploads, client-asserted for single-shot puts.
	ContentSize int64
	// MimeType is the content type served on reads. Never empty.
	MimeType string
	// InternalFilename is the 64-character hex BLAKE3 digest of Path,
	// addressing the blob on disk. Assigned at insert and never rewritten.
	InternalFilename string
	// Filename is the unencoded display name for Content-Disposition.
	// Empty means the column is NULL.
	Filename string
	// EncodedFilename is the percent-encoded form used for the RFC 8187
	// filename* parameter. Empty means the column is NULL.
	EncodedFilename string
}

// ImportRecord is one row of an import batch, matched against objects whose
// filename column is still NULL.
type ImportRecord struct {
	Path            string
	Filename        string
	EncodedFilename string
	MimeType        string
}

var (
	// ErrNotFound is returned when no row matches the requested path.
	ErrNotFound = errors.New("object metadata not found")
	// ErrConflict is returned when an insert would duplicate a path.
	ErrConflict = errors.New("object path already exists")
)

// Store defines the metadata operations required by ofuton. Implementations
// must be safe for concurrent use. Infrastructure failures are logged at
// error level and returned; there is no local retry.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// GetByPath retrieves the object row for the given logical path.
	// Returns ErrNotFound when no row exists.
	GetByPath(ctx context.Context, path string) (*Object, error)

	// Insert creates a new object row. Returns ErrConflict when a row with
	// the same path already exists.
	Insert(ctx context.Context, obj *Object) error

	// InsertMany creates multiple object rows in one statement. A no-op on
	// empty input.
	InsertMany(ctx context.Context, objs []*Object) error

	// Delete removes the given object row.
	Delete(ctx context.Context, obj *Object) error

	// ImportMetadata applies a batch of import records in a single
	// transaction. Each record updates filename, encoded_filename, and
	// mime_type for the row at its path, only when filename is still NULL.
	// Returns the number of rows updated.
	ImportMetadata(ctx context.Context, records []ImportRecord) (int64, error)
}
