package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/coterie-ai/coterie/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS channels (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT,
    created_by      TEXT NOT NULL,
    created_by_name TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'active',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_members (
    channel_id   TEXT NOT NULL,
    member_id    TEXT NOT NULL,
    member_name  TEXT NOT NULL DEFAULT '',
    role         TEXT NOT NULL DEFAULT 'member',
    member_type  TEXT NOT NULL DEFAULT 'assistant',
    joined_at    INTEGER NOT NULL,
    last_read_at INTEGER,
    PRIMARY KEY (channel_id, member_id)
);

CREATE TABLE IF NOT EXISTS channel_messages (
    id          TEXT PRIMARY KEY,
    channel_id  TEXT NOT NULL,
    sender_id   TEXT NOT NULL,
    sender_name TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_channel_messages_channel_created
    ON channel_messages (channel_id, created_at);

CREATE INDEX IF NOT EXISTS idx_channel_members_member
    ON channel_members (member_id);
`

// OpenDB opens (and bootstraps) a SQLite database at path.
// ":memory:" gives an ephemeral database, used by tests.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc.org/sqlite connections don't share in-memory databases,
	// and writes are single-connection anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStores creates all stores backed by SQLite (standalone mode).
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = ":memory:"
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Channels: NewSQLiteChannelStore(db),
	}, nil
}
