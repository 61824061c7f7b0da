package historydb

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndList(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	older := Entry{
		ID: "aaaa1111", Name: "build", Command: []string{"make", "all"},
		WorkingDir: "/src", Cols: 80, Rows: 24,
		StartedAt: base, ExitedAt: base.Add(time.Minute), ExitCode: 0,
		RecordingPath: "/data/aaaa1111/recording.cast",
	}
	newer := Entry{
		ID: "bbbb2222", Command: []string{"sh", "-c", "sleep 1"},
		WorkingDir: "/tmp", Cols: 120, Rows: 40,
		StartedAt: base.Add(time.Hour), ExitedAt: base.Add(2 * time.Hour), ExitCode: -15,
		RecordingPath: "/data/bbbb2222/recording.cast",
	}
	if err := db.Record(older); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := db.Record(newer); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := db.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "bbbb2222" || entries[1].ID != "aaaa1111" {
		t.Fatalf("wrong order: %s, %s", entries[0].ID, entries[1].ID)
	}
	if !reflect.DeepEqual(entries[1].Command, older.Command) {
		t.Fatalf("command roundtrip = %v, want %v", entries[1].Command, older.Command)
	}
	if entries[0].ExitCode != -15 {
		t.Fatalf("exitCode = %d, want -15", entries[0].ExitCode)
	}
}

func TestRecordUpsertsOnConflict(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	e := Entry{
		ID: "cccc3333", Command: []string{"true"}, WorkingDir: "/tmp",
		Cols: 80, Rows: 24, StartedAt: base, ExitedAt: base, ExitCode: 1,
		RecordingPath: "/data/cccc3333/recording.cast",
	}
	if err := db.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e.ExitCode = 0
	e.ExitedAt = base.Add(time.Second)
	if err := db.Record(e); err != nil {
		t.Fatalf("Record (upsert): %v", err)
	}

	entries, err := db.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 after upsert", len(entries))
	}
	if entries[0].ExitCode != 0 {
		t.Fatalf("exitCode = %d, want the upserted 0", entries[0].ExitCode)
	}
}

func TestListLimit(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := Entry{
			ID: string(rune('a'+i)) + "0000000", Command: []string{"true"},
			WorkingDir: "/tmp", Cols: 80, Rows: 24,
			StartedAt: base, ExitedAt: base.Add(time.Duration(i) * time.Minute),
			RecordingPath: "/data/x/recording.cast",
		}
		if err := db.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, err := db.List(3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
}
