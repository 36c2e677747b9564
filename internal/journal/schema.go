// Package journal keeps an optional SQLite audit record of sync runs. It is
// write-only from the sync's point of view: nothing in it decides what a run
// does.
package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	space_key   TEXT NOT NULL DEFAULT '',
	simulate    INTEGER NOT NULL DEFAULT 0,
	created     INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	unchanged   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	deleted     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS page_events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id   INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	path     TEXT NOT NULL DEFAULT '',
	title    TEXT NOT NULL DEFAULT '',
	page_id  TEXT NOT NULL DEFAULT '',
	action   TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	error    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_page_events_run ON page_events(run_id);
CREATE INDEX IF NOT EXISTS idx_page_events_path ON page_events(path);
`

// DB is an open journal.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the journal database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
