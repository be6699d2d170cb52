// Package sqliteutil holds the schema and connection helpers shared by the
// Fact Store and Entity Store. Both stores live in the same sqlite file but
// own disjoint table sets, matching the persistent layout table in spec §6.
package sqliteutil

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Open opens (creating if absent) the sqlite database at path and applies
// the schema. A single *sql.DB is shared by both stores, mirroring the
// teacher's single-connection-per-process storage design.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 connections are not safe to share across goroutines concurrently
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS entity (
	uuid          TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	data          TEXT NOT NULL DEFAULT '{}',
	metadata      TEXT NOT NULL DEFAULT '{}',
	hash          TEXT NOT NULL,
	previous_hash TEXT,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	superseded_by TEXT,
	superseded_at TEXT,
	group_id      TEXT NOT NULL,
	derived_from  TEXT
);
CREATE INDEX IF NOT EXISTS idx_entity_type ON entity(type);
CREATE INDEX IF NOT EXISTS idx_entity_group ON entity(group_id);
CREATE INDEX IF NOT EXISTS idx_entity_superseded ON entity(superseded_by);

CREATE TABLE IF NOT EXISTS user_relation (
	uuid           TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	source         TEXT NOT NULL,
	source_type    TEXT NOT NULL,
	target         TEXT NOT NULL,
	target_type    TEXT NOT NULL,
	time_horizon   INTEGER NOT NULL,
	last_access_at INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	metadata       TEXT NOT NULL DEFAULT '{}',
	evidence       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_relation_source ON user_relation(source);
CREATE INDEX IF NOT EXISTS idx_relation_target ON user_relation(target);

CREATE TABLE IF NOT EXISTS item (
	uuid           TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	data           TEXT NOT NULL DEFAULT '{}',
	metadata       TEXT NOT NULL DEFAULT '{}',
	integrity_hash TEXT NOT NULL,
	fidelity       TEXT NOT NULL DEFAULT 'full',
	realized_at    TEXT NOT NULL,
	canonical_at   TEXT NOT NULL,
	superseded_by  TEXT,
	superseded_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_item_type ON item(type);
CREATE INDEX IF NOT EXISTS idx_item_superseded ON item(superseded_by);

CREATE TABLE IF NOT EXISTS system_relation (
	uuid        TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source      TEXT NOT NULL,
	source_type TEXT NOT NULL,
	target      TEXT NOT NULL,
	target_type TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	evidence    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sysrel_source ON system_relation(source);
CREATE INDEX IF NOT EXISTS idx_sysrel_target ON system_relation(target);
CREATE INDEX IF NOT EXISTS idx_sysrel_kind ON system_relation(kind);

CREATE TABLE IF NOT EXISTS artifact_delta (
	uuid            TEXT PRIMARY KEY,
	artifact_uuid   TEXT NOT NULL,
	ops             TEXT NOT NULL,
	based_on_hash   TEXT NOT NULL,
	new_hash        TEXT NOT NULL,
	new_content     TEXT NOT NULL,
	line_count      INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifact_delta_artifact ON artifact_delta(artifact_uuid);
`

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// WithConn runs fn against a single checked-out connection, used by the
// Transaction Coordinator to guarantee a fixed Fact-before-Entity
// acquisition order within one BEGIN IMMEDIATE scope.
func WithConn(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}
