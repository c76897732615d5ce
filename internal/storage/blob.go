// Package storage implements ofuton's storage engine: content-addressed blob
// files on the local filesystem, the in-memory multipart session registry,
// and the façade that couples them with the metadata store.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// multipartDirName is the directory under the bucket root that holds
	// in-progress part files, one subdirectory per upload ID.
	multipartDirName = ".multipart"

	// mergedTempName is the transient file a multipart merge streams into
	// before the atomic rename to the final object path.
	mergedTempName = "object-merged.tmp"

	// partSuffix is the extension of individual part files.
	partSuffix = ".part"
)

var (
	// ErrNotFound is returned when a blob or metadata row does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrAlreadyExists is returned when a write would overwrite an
	// existing blob.
	ErrAlreadyExists = errors.New("object file already exists")
	// ErrNoSuchUpload is returned for operations on an unknown or expired
	// multipart upload ID.
	ErrNoSuchUpload = errors.New("multipart upload not registered")
)

// BlobStore reads and writes content-addressed files under the bucket root.
// Finalized objects live at <root>/<internal_filename>; in-progress multipart
// parts live at <root>/.multipart/<upload_id>/<n>.part.
type BlobStore struct {
	// Root is the bucket directory all paths are resolved against.
	Root string
}

// NewBlobStore creates a BlobStore rooted at the given directory, creating
// the directory if it does not exist.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating bucket directory %q: %w", root, err)
	}
	return &BlobStore{Root: root}, nil
}

// CleanMultipartDir recursively removes the .multipart directory, discarding
// any sessions orphaned by a previous run. Called on startup.
func (b *BlobStore) CleanMultipartDir() error {
	dir := filepath.Join(b.Root, multipartDirName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing multipart directory %q: %w", dir, err)
	}
	return nil
}

// multipartDir returns the on-disk directory for the given upload ID.
func (b *BlobStore) multipartDir(uploadID string) string {
	return filepath.Join(b.Root, multipartDirName, uploadID)
}

// PartPath returns the relative path (under the bucket root) of a single
// part file, suitable for passing to Write.
func PartPath(uploadID string, partNumber int) string {
	return filepath.Join(multipartDirName, uploadID, strconv.Itoa(partNumber)+partSuffix)
}

// Read opens the blob with the given internal filename for streaming reads.
// The caller is responsible for closing the returned file.
func (b *BlobStore) Read(internalFilename string) (*os.File, error) {
	path := filepath.Join(b.Root, internalFilename)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening blob %q: %w", internalFilename, ErrNotFound)
		}
		return nil, fmt.Errorf("opening blob %q: %w", internalFilename, err)
	}
	return file, nil
}

// Write streams the reader into the file at the given path relative to the
// bucket root, refusing to overwrite an existing file. When createParent is
// true, missing parent directories are created first (used for part files).
// Returns the number of bytes written.
func (b *BlobStore) Write(internalPath string, r io.Reader, createParent bool) (int64, error) {
	path := filepath.Join(b.Root, internalPath)

	if createParent {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return 0, fmt.Errorf("creating parent directory for %q: %w", internalPath, err)
		}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return 0, fmt.Errorf("creating blob %q: %w", internalPath, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("creating blob %q: %w", internalPath, err)
	}

	w := bufio.NewWriter(file)
	written, err := io.Copy(w, r)
	if err != nil {
		file.Close()
		os.Remove(path)
		return 0, fmt.Errorf("writing blob %q: %w", internalPath, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(path)
		return 0, fmt.Errorf("flushing blob %q: %w", internalPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("closing blob %q: %w", internalPath, err)
	}

	return written, nil
}

// Delete removes a blob. For multipart, the upload's whole directory is
// removed recursively; otherwise a single file is unlinked. Deleting a
// missing single file returns ErrNotFound.
func (b *BlobStore) Delete(internalPath string, isMultipart bool) error {
	path := filepath.Join(b.Root, internalPath)

	if isMultipart {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing multipart directory %q: %w", internalPath, err)
		}
		return nil
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("removing blob %q: %w", internalPath, ErrNotFound)
		}
		return fmt.Errorf("removing blob %q: %w", internalPath, err)
	}
	return nil
}

// DeleteUploadDir removes the on-disk directory for a multipart upload.
// Tolerates a directory that never existed (no parts were uploaded).
func (b *BlobStore) DeleteUploadDir(uploadID string) error {
	if err := os.RemoveAll(b.multipartDir(uploadID)); err != nil {
		return fmt.Errorf("removing multipart directory for upload %q: %w", uploadID, err)
	}
	return nil
}

// partNumber extracts the numeric prefix of a part file name.
// Names that do not parse sort as 0.
func partNumber(name string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(name, partSuffix))
	if err != nil {
		return 0
	}
	return n
}

// MergePartialUploads concatenates all part files of the given upload, in
// ascending numeric order, into the final blob at internalFilename. The
// merge streams into a sibling temp file which is then renamed into place,
// so readers never observe a half-written object. Fails when the target
// blob already exists or the upload directory is absent. Returns the final
// object size in bytes.
func (b *BlobStore) MergePartialUploads(uploadID, internalFilename string) (int64, error) {
	target := filepath.Join(b.Root, internalFilename)
	if _, err := os.Stat(target); err == nil {
		return 0, fmt.Errorf("merging upload %q: %w", uploadID, ErrAlreadyExists)
	}

	dir := b.multipartDir(uploadID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("merging upload %q: %w", uploadID, ErrNoSuchUpload)
		}
		return 0, fmt.Errorf("reading multipart directory for upload %q: %w", uploadID, err)
	}

	var parts []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), partSuffix) {
			parts = append(parts, entry.Name())
		}
	}
	sort.Slice(parts, func(i, j int) bool {
		return partNumber(parts[i]) < partNumber(parts[j])
	})

	tmpPath := filepath.Join(dir, mergedTempName)
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating merge temp file for upload %q: %w", uploadID, err)
	}

	w := bufio.NewWriter(tmpFile)
	var total int64
	for _, name := range parts {
		part, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("opening part %q of upload %q: %w", name, uploadID, err)
		}
		n, err := io.Copy(w, part)
		part.Close()
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("copying part %q of upload %q: %w", name, uploadID, err)
		}
		total += n
	}

	if err := w.Flush(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("flushing merged object for upload %q: %w", uploadID, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing merged object for upload %q: %w", uploadID, err)
	}

	// Atomic publication: readers see either nothing or the whole object.
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming merged object for upload %q: %w", uploadID, err)
	}

	return total, nil
}
