package journal

import (
	"fmt"
	"time"
)

// Run is one row of the runs table.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	SpaceKey   string
	Simulate   bool
	Created    int
	Updated    int
	Unchanged  int
	Failed     int
	Skipped    int
	Deleted    int
}

// Event is the outcome of one page within a run.
type Event struct {
	Path     string
	Title    string
	PageID   string
	Action   string
	Checksum string
	Error    string
}

// Record stores a run and its page events in one transaction and returns
// the new run id.
func (db *DB) Record(run Run, events []Event) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.Exec(`
		INSERT INTO runs (started_at, finished_at, space_key, simulate,
			created, updated, unchanged, failed, skipped, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.SpaceKey, run.Simulate,
		run.Created, run.Updated, run.Unchanged, run.Failed, run.Skipped, run.Deleted)
	if err != nil {
		return 0, fmt.Errorf("journal: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: run id: %w", err)
	}

	if len(events) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO page_events (run_id, path, title, page_id, action, checksum, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return 0, fmt.Errorf("journal: prepare event insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.Exec(id, e.Path, e.Title, e.PageID, e.Action, e.Checksum, e.Error); err != nil {
				return 0, fmt.Errorf("journal: insert event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal: commit: %w", err)
	}
	return id, nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(`
		SELECT id, started_at, finished_at, space_key, simulate,
			created, updated, unchanged, failed, skipped, deleted
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.SpaceKey, &r.Simulate,
			&r.Created, &r.Updated, &r.Unchanged, &r.Failed, &r.Skipped, &r.Deleted); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the page events of a run in the order they were recorded.
func (db *DB) Events(runID int64) ([]Event, error) {
	rows, err := db.conn.Query(`
		SELECT path, title, page_id, action, checksum, error
		FROM page_events WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Path, &e.Title, &e.PageID, &e.Action, &e.Checksum, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// History returns the events recorded for one document path, newest first.
func (db *DB) History(path string, limit int) ([]Event, error) {
	rows, err := db.conn.Query(`
		SELECT path, title, page_id, action, checksum, error
		FROM page_events WHERE path = ? ORDER BY id DESC LIMIT ?
	`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Path, &e.Title, &e.PageID, &e.Action, &e.Checksum, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
