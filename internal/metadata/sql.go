package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // Pure-Go SQLite driver
)

// dialect identifies the SQL flavor of the backing database.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements the Store interface over database/sql. The same
// implementation serves SQLite (file or in-memory) and PostgreSQL; the
// dialect only affects placeholder style, DDL, and error classification.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (or creates) a SQLite database file at path and
// initializes the schema.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	// WAL for concurrent readers, busy_timeout so writers queue instead of
	// failing immediately.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", p, err)
		}
	}

	return newSQLStore(db, dialectSQLite)
}

// NewMemorySQLiteStore opens an in-memory SQLite database. The connection
// pool is capped at one connection so every query sees the same database.
func NewMemorySQLiteStore() (*SQLStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(db, dialectSQLite)
}

// NewPostgresStore connects to PostgreSQL with the given DSN and initializes
// the schema.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening PostgreSQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing database schema: %w", err)
	}
	return s, nil
}

// initDB creates the object table and its indexes. Idempotent via
// IF NOT EXISTS, so it runs on every startup.
func (s *SQLStore) initDB() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS object (
			id                %s,
			path              TEXT NOT NULL,
			content_size      BIGINT NOT NULL,
			mime_type         TEXT NOT NULL,
			internal_filename TEXT NOT NULL,
			filename          TEXT,
			encoded_filename  TEXT
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_object_path ON object(path);
	`, idColumn)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	versionStmt := `INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, CURRENT_TIMESTAMP)`
	if s.dialect == dialectPostgres {
		versionStmt = `INSERT INTO schema_version (version, applied_at) VALUES (1, CURRENT_TIMESTAMP) ON CONFLICT DO NOTHING`
	}
	if _, err := s.db.Exec(versionStmt); err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}

	return nil
}

// Close closes the underlying database connection pool.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity to the database.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites "?" placeholders to "$1".."$n" for PostgreSQL. SQLite
// statements pass through unchanged.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
		} else {
			sb.WriteByte(query[i])
		}
	}
	return sb.String()
}

// isUniqueViolation reports whether err indicates a duplicate key insert.
func (s *SQLStore) isUniqueViolation(err error) bool {
	if s.dialect == dialectPostgres {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

// GetByPath retrieves the object row for the given logical path.
func (s *SQLStore) GetByPath(ctx context.Context, path string) (*Object, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, path, content_size, mime_type, internal_filename, filename, encoded_filename
		 FROM object WHERE path = ?`),
		path,
	)

	var obj Object
	var filename, encodedFilename sql.NullString
	err := row.Scan(&obj.ID, &obj.Path, &obj.ContentSize, &obj.MimeType,
		&obj.InternalFilename, &filename, &encodedFilename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to fetch object metadata", "path", path, "error", err)
		return nil, fmt.Errorf("getting object metadata for %q: %w", path, err)
	}
	obj.Filename = filename.String
	obj.EncodedFilename = encodedFilename.String
	return &obj, nil
}

// nullable converts an empty string to a NULL database value.
func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Insert creates a new object row. Duplicate paths fail with ErrConflict.
func (s *SQLStore) Insert(ctx context.Context, obj *Object) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO object (path, content_size, mime_type, internal_filename, filename, encoded_filename)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		obj.Path,
		obj.ContentSize,
		obj.MimeType,
		obj.InternalFilename,
		nullable(obj.Filename),
		nullable(obj.EncodedFilename),
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("inserting object metadata for %q: %w", obj.Path, ErrConflict)
		}
		slog.Error("Failed to create object metadata", "path", obj.Path, "error", err)
		return fmt.Errorf("inserting object metadata for %q: %w", obj.Path, err)
	}

	if id, err := res.LastInsertId(); err == nil {
		obj.ID = id
	}
	return nil
}

// InsertMany creates multiple object rows in one multi-row insert.
// A no-op on empty input.
func (s *SQLStore) InsertMany(ctx context.Context, objs []*Object) error {
	if len(objs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO object (path, content_size, mime_type, internal_filename, filename, encoded_filename) VALUES `)
	args := make([]any, 0, len(objs)*6)
	for i, obj := range objs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args,
			obj.Path, obj.ContentSize, obj.MimeType, obj.InternalFilename,
			nullable(obj.Filename), nullable(obj.EncodedFilename))
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(sb.String()), args...); err != nil {
		slog.Error("Failed to create multiple object metadata", "count", len(objs), "error", err)
		return fmt.Errorf("inserting %d object metadata rows: %w", len(objs), err)
	}
	return nil
}

// Delete removes the given object row.
func (s *SQLStore) Delete(ctx context.Context, obj *Object) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM object WHERE path = ?`), obj.Path); err != nil {
		slog.Error("Failed to delete object metadata", "path", obj.Path, "error", err)
		return fmt.Errorf("deleting object metadata for %q: %w", obj.Path, err)
	}
	return nil
}

// ImportMetadata applies a batch of import records in a single transaction.
// Only rows whose filename is still NULL are touched, so re-running an
// import never clobbers names set by live uploads.
func (s *SQLStore) ImportMetadata(ctx context.Context, records []ImportRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`UPDATE object SET filename = ?, encoded_filename = ?, mime_type = ?
		 WHERE filename IS NULL AND path = ?`))
	if err != nil {
		return 0, fmt.Errorf("preparing import statement: %w", err)
	}
	defer stmt.Close()

	var updated int64
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx,
			nullable(rec.Filename), nullable(rec.EncodedFilename), rec.MimeType, rec.Path)
		if err != nil {
			slog.Error("Failed to update imported metadata", "path", rec.Path, "error", err)
			return 0, fmt.Errorf("updating imported metadata for %q: %w", rec.Path, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			updated += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import transaction: %w", err)
	}
	return updated, nil
}
