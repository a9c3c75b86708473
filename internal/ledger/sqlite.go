package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (processed_resources without status)
// 1 - Added processed_resources.status
const currentSchemaVersion = 1

// SQLiteLedger is the default Ledger backend.
// Uses SQLite with WAL mode so status queries can run while a sync commits.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

// OpenSQLite creates or opens a ledger database at path.
// Parent directories are created. Pragmas and migrations are applied
// automatically, and opening an existing database is safe.
//
// Databases written by the earlier processing tool (no status column) are
// upgraded in place; their rows become completed records.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteLedger{db: db, path: path}, nil
}

// Path returns the database file location.
func (l *SQLiteLedger) Path() string { return l.path }

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) HasProcessed(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_resources WHERE resource_id = ? AND status = 'completed'`,
		id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("check processed", err)
	}
	return true, nil
}

// MarkProcessed upserts a completed record. An existing completed record is
// left untouched, so its processed_at keeps the time of the first commit.
func (l *SQLiteLedger) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_resources (resource_id, processed_at, status)
		VALUES (?, ?, 'completed')
		ON CONFLICT(resource_id) DO UPDATE SET
			status = 'completed',
			processed_at = excluded.processed_at
		WHERE processed_resources.status <> 'completed'
	`, id, at.UTC())
	if err != nil {
		return storageErr("mark processed", err)
	}
	return nil
}

func (l *SQLiteLedger) Forget(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM processed_resources WHERE resource_id = ?`, id,
	); err != nil {
		return storageErr("forget", err)
	}
	return nil
}

func (l *SQLiteLedger) Get(ctx context.Context, id string) (Record, error) {
	if err := validateID(id); err != nil {
		return Record{}, err
	}
	row := l.db.QueryRowContext(ctx,
		`SELECT resource_id, processed_at, status FROM processed_resources WHERE resource_id = ?`,
		id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storageErr("get record", err)
	}
	return rec, nil
}

func (l *SQLiteLedger) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT resource_id, processed_at, status
		FROM processed_resources
		ORDER BY processed_at DESC, resource_id ASC COLLATE BINARY
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list records", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec    Record
		at     any
		status string
	)
	if err := row.Scan(&rec.ResourceID, &at, &status); err != nil {
		return Record{}, err
	}
	t, err := parseTime(at)
	if err != nil {
		return Record{}, err
	}
	rec.ProcessedAt = t
	rec.Status = Status(status)
	return rec, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the status column to databases created without it.
// New databases already have it from schema.sql.
func migrateToV1(db *sql.DB) error {
	has, err := hasColumn(db, "processed_resources", "status")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if has {
		return nil
	}
	_, err = db.Exec(`
		ALTER TABLE processed_resources
		ADD COLUMN status TEXT NOT NULL DEFAULT 'completed'
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *SQLiteLedger) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := l.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
