// Package history persists terminal execution results to a local
// sqlite database for later inspection.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL,
	exit_code    INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL,
	stdout       TEXT NOT NULL DEFAULT '',
	stderr       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
`

// maxFieldSize truncates captured output before persisting; the wire
// response still carries the full capture.
const maxFieldSize = 16 * 1024

// Entry is one persisted terminal result.
type Entry struct {
	ExecutionID string
	Kind        string
	Status      string
	ExitCode    int
	DurationMS  int64
	Stdout      string
	Stderr      string
	CreatedAt   time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// The broker is the single writer; one connection avoids lock
	// contention in sqlite.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func truncate(v string) string {
	if len(v) > maxFieldSize {
		return v[:maxFieldSize]
	}
	return v
}

// Record implements the broker's Recorder. Write failures are
// discarded without logging; history must never block an execution.
func (s *Store) Record(executionID, kind, status string, exitCode int, duration time.Duration, stdout, stderr string) {
	_, _ = s.db.Exec(
		`INSERT INTO executions (execution_id, kind, status, exit_code, duration_ms, stdout, stderr, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, kind, status, exitCode, duration.Milliseconds(),
		truncate(stdout), truncate(stderr),
		time.Now().UTC().Format(time.RFC3339),
	)
}

// Recent returns the latest n entries, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(
		`SELECT execution_id, kind, status, exit_code, duration_ms, stdout, stderr, created_at
		 FROM executions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ExecutionID, &e.Kind, &e.Status, &e.ExitCode, &e.DurationMS, &e.Stdout, &e.Stderr, &created); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
