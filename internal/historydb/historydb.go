// Package historydb persists a durable index of exited sessions backing
// GET /api/sessions/history, independent of the in-memory registry
// (which drops a session from its map on cleanup).
package historydb

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a sqlite-backed history index.
type DB struct {
	*sql.DB
}

// Open creates or reuses the sqlite file at path and applies migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("historydb: open: %w", err)
	}
	// sqlite's single-writer model: serialize writers through one
	// connection so concurrent Record calls don't hit
	// SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("historydb: migrate: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_history (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			cols INTEGER NOT NULL,
			rows INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			exited_at DATETIME NOT NULL,
			exit_code INTEGER NOT NULL,
			recording_path TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_history_exited_at ON session_history(exited_at DESC)`,
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("statement %q: %w", stmt, err)
		}
	}
	return nil
}

// Entry is one row of the history index.
type Entry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Command       []string  `json:"command"`
	WorkingDir    string    `json:"workingDir"`
	Cols          int       `json:"cols"`
	Rows          int       `json:"rows"`
	StartedAt     time.Time `json:"startedAt"`
	ExitedAt      time.Time `json:"exitedAt"`
	ExitCode      int       `json:"exitCode"`
	RecordingPath string    `json:"recordingPath"`
}

// Record upserts one exited session's summary into the index.
func (db *DB) Record(e Entry) error {
	commandJSON := joinCommand(e.Command)
	_, err := db.Exec(`
		INSERT INTO session_history
			(id, name, command, working_dir, cols, rows, started_at, exited_at, exit_code, recording_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exited_at = excluded.exited_at,
			exit_code = excluded.exit_code`,
		e.ID, e.Name, commandJSON, e.WorkingDir, e.Cols, e.Rows,
		e.StartedAt, e.ExitedAt, e.ExitCode, e.RecordingPath)
	if err != nil {
		return fmt.Errorf("historydb: record: %w", err)
	}
	return nil
}

// List returns up to limit history entries, most recently exited first.
func (db *DB) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, name, command, working_dir, cols, rows, started_at, exited_at, exit_code, recording_path
		FROM session_history
		ORDER BY exited_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("historydb: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var commandJSON string
		if err := rows.Scan(&e.ID, &e.Name, &commandJSON, &e.WorkingDir, &e.Cols, &e.Rows,
			&e.StartedAt, &e.ExitedAt, &e.ExitCode, &e.RecordingPath); err != nil {
			return nil, fmt.Errorf("historydb: scan: %w", err)
		}
		e.Command = splitCommand(commandJSON)
		out = append(out, e)
	}
	return out, rows.Err()
}

// joinCommand/splitCommand use a NUL separator: session command tokens
// are argv entries and never contain NUL.
func joinCommand(cmd []string) string {
	s := ""
	for i, c := range cmd {
		if i > 0 {
			s += "\x00"
		}
		s += c
	}
	return s
}

func splitCommand(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
