package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&count); err != nil {
		t.Fatalf("runs table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM page_events`).Scan(&count); err != nil {
		t.Fatalf("page_events table missing: %v", err)
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Record(Run{StartedAt: time.Now(), FinishedAt: time.Now()}, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	runs, err := db.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}
}

func TestRecordAndReadBack(t *testing.T) {
	db := testDB(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	run := Run{
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		SpaceKey:   "DOC",
		Simulate:   true,
		Created:    2,
		Failed:     1,
	}
	events := []Event{
		{Path: "/docs/a.md", Title: "A", PageID: "11", Action: "created", Checksum: "c1"},
		{Path: "/docs/b.md", Title: "B", Action: "failed", Error: "boom"},
	}
	id, err := db.Record(run, events)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := db.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != id || got.SpaceKey != "DOC" || !got.Simulate || got.Created != 2 || got.Failed != 1 {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, start)
	}
	if d := got.FinishedAt.Sub(got.StartedAt); d != 3*time.Second {
		t.Errorf("duration = %v, want 3s", d)
	}

	evs, err := db.Events(id)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0] != events[0] || evs[1] != events[1] {
		t.Errorf("events = %+v, want %+v", evs, events)
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := db.Record(Run{StartedAt: now, FinishedAt: now, Created: i}, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Created != 2 || runs[1].Created != 1 {
		t.Errorf("order = %d,%d, want 2,1", runs[0].Created, runs[1].Created)
	}
}

func TestHistoryForPath(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_, _ = db.Record(Run{StartedAt: now, FinishedAt: now}, []Event{{Path: "/a.md", Action: "created"}})
	_, _ = db.Record(Run{StartedAt: now, FinishedAt: now}, []Event{{Path: "/a.md", Action: "unchanged"}, {Path: "/b.md", Action: "created"}})

	evs, err := db.History("/a.md", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Action != "unchanged" || evs[1].Action != "created" {
		t.Errorf("history = %+v", evs)
	}
}
