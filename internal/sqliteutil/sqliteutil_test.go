package sqliteutil_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/sqliteutil"
)

func TestOpenAppliesSchemaIdempotently(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "garden.db")

	db, err := sqliteutil.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO entity (uuid, type, data, metadata, hash, previous_hash, version, created_at, updated_at, group_id, derived_from) VALUES ('e1','note','{}','{}','h1',NULL,1,'now','now','e1',NULL)`)
	require.NoError(t, err)

	// reopening the same path must not choke on the tables already existing
	db2, err := sqliteutil.Open(ctx, path)
	require.NoError(t, err)
	defer db2.Close()

	var count int
	require.NoError(t, db2.QueryRowContext(ctx, `SELECT count(*) FROM entity WHERE uuid = 'e1'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestOpenEnablesForeignKeysAndWAL(t *testing.T) {
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestWithConnRunsFnAgainstACheckedOutConnection(t *testing.T) {
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	defer db.Close()

	var got int
	err = sqliteutil.WithConn(ctx, db, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT 1").Scan(&got)
	})
	require.NoError(t, err)
	require.Equal(t, 1, got)
}
