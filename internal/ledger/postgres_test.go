package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/model"
)

func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CRMSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set CRMSYNC_TEST_POSTGRES_DSN to run Postgres ledger tests")
	}
	return dsn
}

func openPostgresTestLedger(t *testing.T) *PostgresLedger {
	t.Helper()
	dsn := postgresTestDSN(t)
	l, err := NewPostgresLedger(dsn)
	require.NoError(t, err)
	l.tableName = fmt.Sprintf("processed_resources_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		if l.db != nil {
			_, _ = l.db.Exec("DROP TABLE IF EXISTS " + quoteIdentifier(l.tableName))
		}
		l.Close()
	})
	return l
}

func TestPostgresLedger_Lifecycle(t *testing.T) {
	l := openPostgresTestLedger(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	done, err := l.HasProcessed(ctx, "<msg-123>")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, l.MarkProcessed(ctx, "<msg-123>", at))
	require.NoError(t, l.MarkProcessed(ctx, "<msg-123>", at.Add(time.Hour)))

	rec, err := l.Get(ctx, "<msg-123>")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.True(t, rec.ProcessedAt.Equal(at))

	recs, err := l.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, l.Forget(ctx, "<msg-123>"))
	_, err = l.Get(ctx, "<msg-123>")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresLedger_OpenFailureIsStorageError(t *testing.T) {
	l, err := NewPostgresLedger("postgres://unused")
	require.NoError(t, err)
	l.openDB = func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("boom")
	}

	_, err = l.HasProcessed(context.Background(), "<msg-1>")
	require.Error(t, err)
	assert.True(t, model.IsStorageUnavailable(err))
}

func TestNewPostgresLedger_EmptyDSN(t *testing.T) {
	_, err := NewPostgresLedger("  ")
	assert.Error(t, err)
}
