package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/hideki0403/ofuton/internal/metadata"
)

// importBatchSize is the number of rows updated per transaction.
const importBatchSize = 100

// Import reads a headerless TSV of (name, mime_type, url) records exported
// from the legacy system and fills in the display names of already-migrated
// objects. Rows whose filename was set by a live upload are left untouched.
// assumeYes skips the interactive confirmation.
func Import(ctx context.Context, store metadata.Store, metadataPath string, assumeYes bool) error {
	slog.Info("Loading metadata", "path", metadataPath)

	file, err := os.Open(metadataPath)
	if err != nil {
		return fmt.Errorf("opening metadata file %q: %w", metadataPath, err)
	}
	defer file.Close()

	records, err := readImportRecords(file)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		slog.Warn("No valid entries found in the metadata file")
		return nil
	}

	slog.Info("Ready to import", "count", len(records))
	if !assumeYes && !confirm("Continue") {
		slog.Info("Import cancelled")
		return nil
	}

	var updated int64
	for start := 0; start < len(records); start += importBatchSize {
		end := min(start+importBatchSize, len(records))
		n, err := store.ImportMetadata(ctx, records[start:end])
		if err != nil {
			return fmt.Errorf("importing metadata batch: %w", err)
		}
		updated += n
		slog.Info("Import progress", "processed", end, "total", len(records))
	}

	slog.Info("Successfully processed entries", "count", len(records), "updated", updated)
	return nil
}

// readImportRecords parses the TSV stream. Malformed rows and unparsable
// URLs are logged and skipped rather than aborting the whole import.
func readImportRecords(r io.Reader) ([]metadata.ImportRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1

	var records []metadata.ImportRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("Failed to parse metadata row", "error", err)
			continue
		}
		if len(row) < 3 {
			slog.Error("Skipping malformed metadata row", "fields", len(row))
			continue
		}

		name, mimeType, rawURL := row[0], row[1], row[2]
		parsed, err := url.Parse(rawURL)
		if err != nil {
			slog.Error("Invalid URL in metadata row", "url", rawURL, "error", err)
			continue
		}

		normalized, encoded := NormalizeFilename(name)
		records = append(records, metadata.ImportRecord{
			Path:            parsed.Path,
			Filename:        normalized,
			EncodedFilename: encoded,
			MimeType:        mimeType,
		})
	}
	return records, nil
}
