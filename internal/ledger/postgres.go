package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTableName        = "processed_resources"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresLedger stores records in a PostgreSQL table, for deployments where
// several workers share one ledger.
//
// The table is created lazily on first use.
type PostgresLedger struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresLedger returns a ledger backed by the database at dsn.
// No connection is made until the first operation.
func NewPostgresLedger(dsn string) (*PostgresLedger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	return &PostgresLedger{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

func (l *PostgresLedger) HasProcessed(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	if err := l.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE resource_id = $1 AND status = 'completed'", quoteIdentifier(l.tableName))
	var one int
	err := l.db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("check processed", err)
	}
	return true, nil
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	table := quoteIdentifier(l.tableName)
	query := fmt.Sprintf(`
		INSERT INTO %s (resource_id, processed_at, status)
		VALUES ($1, $2, 'completed')
		ON CONFLICT (resource_id)
		DO UPDATE SET status = 'completed', processed_at = EXCLUDED.processed_at
		WHERE %s.status <> 'completed'`, table, table)
	if _, err := l.db.ExecContext(ctx, query, id, at.UTC()); err != nil {
		return storageErr("mark processed", err)
	}
	return nil
}

func (l *PostgresLedger) Forget(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE resource_id = $1", quoteIdentifier(l.tableName))
	if _, err := l.db.ExecContext(ctx, query, id); err != nil {
		return storageErr("forget", err)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (Record, error) {
	if err := validateID(id); err != nil {
		return Record{}, err
	}
	if err := l.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT resource_id, processed_at, status FROM %s WHERE resource_id = $1", quoteIdentifier(l.tableName))
	rec, err := scanRecord(l.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storageErr("get record", err)
	}
	return rec, nil
}

func (l *PostgresLedger) List(ctx context.Context, limit int) ([]Record, error) {
	if err := l.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT resource_id, processed_at, status FROM %s
		ORDER BY processed_at DESC, resource_id ASC`, quoteIdentifier(l.tableName))
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
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

func (l *PostgresLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *PostgresLedger) ensureReady() error {
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = storageErr("open postgres", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				resource_id TEXT PRIMARY KEY,
				processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				status TEXT NOT NULL DEFAULT 'completed'
			)`, quoteIdentifier(l.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			l.initErr = storageErr("create ledger table", err)
			return
		}
		l.db = db
	})
	return l.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
