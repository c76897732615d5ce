package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hideki0403/ofuton/internal/metadata"
	"github.com/hideki0403/ofuton/internal/storage"
)

// migrateBatchSize is the number of objects inserted (and moved) per batch.
const migrateBatchSize = 50

// migrateItem pairs a pending metadata row with the file it came from.
type migrateItem struct {
	srcPath string
	object  *metadata.Object
}

// Migrate walks a legacy object directory, inserts a metadata row for every
// regular file, and moves the file into the bucket under its
// content-addressed name. assumeYes skips the interactive confirmation.
func Migrate(ctx context.Context, store metadata.Store, bucketPath, oldDir string, assumeYes bool) error {
	slog.Info("Calculating files to migrate", "old_dir", oldDir)

	totalFiles, err := countFiles(oldDir)
	if err != nil {
		return fmt.Errorf("counting files in %q: %w", oldDir, err)
	}
	if totalFiles == 0 {
		slog.Info("No files to migrate")
		return nil
	}
	slog.Info("Found files to migrate", "count", totalFiles)

	if !assumeYes && !confirm("Continue") {
		slog.Info("Migration cancelled")
		return nil
	}

	var batch []migrateItem
	migrated := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := migrateBatch(ctx, store, bucketPath, batch); err != nil {
			return err
		}
		migrated += len(batch)
		slog.Info("Migration progress", "migrated", migrated, "total", totalFiles)
		batch = batch[:0]
		return nil
	}

	err = filepath.WalkDir(oldDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(oldDir, path)
		if err != nil {
			return err
		}
		objectPath := "/" + filepath.ToSlash(relPath)

		info, err := d.Info()
		if err != nil {
			return err
		}

		batch = append(batch, migrateItem{
			srcPath: path,
			object: &metadata.Object{
				Path:             objectPath,
				ContentSize:      info.Size(),
				MimeType:         guessMimeType(path),
				InternalFilename: storage.InternalFilename(objectPath),
			},
		})
		if len(batch) >= migrateBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrating objects from %q: %w", oldDir, err)
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("Migration completed successfully. If necessary, run the `import` command to restore accurate file information.")
	return nil
}

// countFiles counts regular files under dir, recursively.
func countFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count, err
}

// migrateBatch inserts the batch's metadata rows, then moves each file into
// the bucket under its internal filename.
func migrateBatch(ctx context.Context, store metadata.Store, bucketPath string, batch []migrateItem) error {
	objects := make([]*metadata.Object, len(batch))
	for i, item := range batch {
		objects[i] = item.object
	}
	if err := store.InsertMany(ctx, objects); err != nil {
		return err
	}

	for _, item := range batch {
		dest := filepath.Join(bucketPath, item.object.InternalFilename)
		if err := os.Rename(item.srcPath, dest); err != nil {
			return fmt.Errorf("moving %q into bucket: %w", item.srcPath, err)
		}
	}
	return nil
}

// guessMimeType resolves a file's MIME type from its extension, falling back
// to content sniffing and finally to application/octet-stream.
func guessMimeType(path string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	if detected, err := mimetype.DetectFile(path); err == nil {
		return detected.String()
	}
	return "application/octet-stream"
}
