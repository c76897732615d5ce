package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/hideki0403/ofuton/internal/metadata"
)

// InternalFilename derives the content-addressed on-disk name for a logical
// object path: the lowercase hex BLAKE3 digest of the path, 64 characters.
func InternalFilename(path string) string {
	sum := blake3.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// ObjectData is the result of a read: the metadata row plus, when requested,
// an open handle to the blob. The caller closes File when non-nil.
type ObjectData struct {
	Metadata *metadata.Object
	File     *os.File
}

// WriteObjectData carries everything needed to persist a single-shot upload.
type WriteObjectData struct {
	Path            string
	MimeType        string
	ContentSize     int64
	Filename        string
	EncodedFilename string
	Body            io.Reader
}

// Storage composes the metadata store, the blob store, and the multipart
// session registry into the operations the HTTP layer consumes.
type Storage struct {
	meta     metadata.Store
	blobs    *BlobStore
	sessions *SessionRegistry
}

// New creates the storage façade. Sessions expired by the TTL sweeper get
// their on-disk multipart directories deleted; failures there are logged,
// not fatal.
func New(meta metadata.Store, blobs *BlobStore, ttl time.Duration) *Storage {
	s := &Storage{meta: meta, blobs: blobs}
	s.sessions = NewSessionRegistry(ttl, func(uploadID string) {
		if err := blobs.DeleteUploadDir(uploadID); err != nil {
			slog.Error("Failed to remove expired multipart directory", "upload_id", uploadID, "error", err)
		}
	})
	return s
}

// Sessions exposes the registry for the multipart state middleware.
func (s *Storage) Sessions() *SessionRegistry {
	return s.sessions
}

// GetObject looks up the metadata row for path and, when withFile is true,
// opens the blob for reading. Returns ErrNotFound when either the row or
// the blob is absent.
func (s *Storage) GetObject(ctx context.Context, path string, withFile bool) (*ObjectData, error) {
	meta, err := s.meta.GetByPath(ctx, path)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, fmt.Errorf("object metadata not found for path %q: %w", path, ErrNotFound)
		}
		return nil, err
	}

	data := &ObjectData{Metadata: meta}
	if withFile {
		file, err := s.blobs.Read(meta.InternalFilename)
		if err != nil {
			return nil, err
		}
		data.File = file
	}
	return data, nil
}

// PutObject persists a single-shot upload: metadata row first, then the
// blob. A blob write failure after a successful insert leaves a dangling
// row; that ordering is deliberate and surfaces as an I/O error on read.
func (s *Storage) PutObject(ctx context.Context, data WriteObjectData) error {
	internal := InternalFilename(data.Path)

	obj := &metadata.Object{
		Path:             data.Path,
		ContentSize:      data.ContentSize,
		MimeType:         data.MimeType,
		InternalFilename: internal,
		Filename:         data.Filename,
		EncodedFilename:  data.EncodedFilename,
	}
	if err := s.meta.Insert(ctx, obj); err != nil {
		return err
	}

	if _, err := s.blobs.Write(internal, data.Body, false); err != nil {
		return err
	}
	return nil
}

// CreateMultipartUpload mints a fresh upload ID, registers the session, and
// arms the TTL cleanup scheduler.
func (s *Storage) CreateMultipartUpload(path, filename, encodedFilename, mimeType string) string {
	uploadID := uuid.NewString()
	s.sessions.Add(&MultipartUploadItem{
		UploadID:        uploadID,
		Path:            path,
		Filename:        filename,
		EncodedFilename: encodedFilename,
		MimeType:        mimeType,
		LastUploadAt:    time.Now().UTC(),
	})
	return uploadID
}

// UploadPart verifies the session under the registry lock (touching its
// timestamp), then streams the body into the upload's part file. Part
// writes are not serialized: concurrent parts write distinct files.
func (s *Storage) UploadPart(ctx context.Context, uploadID string, partNumber int, body io.Reader) error {
	if _, ok := s.sessions.Touch(uploadID); !ok {
		return fmt.Errorf("uploading part %d: %w", partNumber, ErrNoSuchUpload)
	}

	if _, err := s.blobs.Write(PartPath(uploadID, partNumber), body, true); err != nil {
		return fmt.Errorf("uploading part %d of upload %q: %w", partNumber, uploadID, err)
	}
	return nil
}

// CompleteMultipartUpload atomically removes the session from the registry
// (so a concurrent UploadPart for the same ID is rejected), merges the part
// files into the final blob, inserts the metadata row, and removes the
// multipart directory.
func (s *Storage) CompleteMultipartUpload(ctx context.Context, uploadID string) error {
	item, ok := s.sessions.Remove(uploadID)
	if !ok {
		return fmt.Errorf("completing upload %q: %w", uploadID, ErrNoSuchUpload)
	}

	internal := InternalFilename(item.Path)
	size, err := s.blobs.MergePartialUploads(uploadID, internal)
	if err != nil {
		return err
	}

	obj := &metadata.Object{
		Path:             item.Path,
		ContentSize:      size,
		MimeType:         item.MimeType,
		InternalFilename: internal,
		Filename:         item.Filename,
		EncodedFilename:  item.EncodedFilename,
	}
	if err := s.meta.Insert(ctx, obj); err != nil {
		return err
	}

	return s.blobs.DeleteUploadDir(uploadID)
}

// AbortMultipartUpload drops the session (if still registered) and removes
// its on-disk directory. Tolerates a directory that never existed.
func (s *Storage) AbortMultipartUpload(ctx context.Context, uploadID string) error {
	s.sessions.Remove(uploadID)
	return s.blobs.DeleteUploadDir(uploadID)
}

// DeleteObject removes the blob and then the metadata row for path.
func (s *Storage) DeleteObject(ctx context.Context, path string) error {
	meta, err := s.meta.GetByPath(ctx, path)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return fmt.Errorf("object metadata not found for path %q: %w", path, ErrNotFound)
		}
		return err
	}

	if err := s.blobs.Delete(meta.InternalFilename, false); err != nil {
		return err
	}
	return s.meta.Delete(ctx, meta)
}
