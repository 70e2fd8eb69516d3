// Package sessionlog provides a WAL-mode SQLite-backed record of TRACE RUN
// session history for the atrace daemon: one row per spawned child process,
// recording its command line, filter, start/end times, and exit code.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL. Store holds a
// single connection, so the RUN recorder's writes and List reads are
// serialised through it.
//
// # Retention
//
// Session records are not pruned automatically; Prune removes rows older
// than a caller-supplied cutoff, intended to be called periodically by the
// daemon orchestrator (spec.md's core itself places no bound on history
// retention).
package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Store is a WAL-mode SQLite-backed record of TRACE RUN session history. It
// is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; suitable for tests but loses all data when closed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors from concurrent Begin/End calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionlog: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionlog: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionlog: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS run_sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_handle INTEGER NOT NULL,
    command     TEXT    NOT NULL,
    filter      TEXT    NOT NULL DEFAULT '',
    started_at  TEXT    NOT NULL,
    ended_at    TEXT,
    exit_code   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_run_sessions_started
    ON run_sessions (started_at);
`

// Session is one recorded TRACE RUN invocation.
type Session struct {
	ID         int64
	TaskHandle uint64
	Command    string
	Filter     string
	StartedAt  time.Time
	EndedAt    *time.Time
	ExitCode   *int
}

// Begin inserts a new session row for a just-spawned child and returns its
// ID, to be passed to End once the child exits.
func (s *Store) Begin(ctx context.Context, taskHandle uint64, command, filter string, startedAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sessions (task_handle, command, filter, started_at) VALUES (?, ?, ?, ?)`,
		taskHandle, command, filter, startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("sessionlog: begin: %w", err)
	}
	return result.LastInsertId()
}

// End records a session's completion: its end time and exit code.
func (s *Store) End(ctx context.Context, id int64, endedAt time.Time, exitCode int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_sessions SET ended_at = ?, exit_code = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), exitCode, id,
	)
	if err != nil {
		return fmt.Errorf("sessionlog: end: %w", err)
	}
	return nil
}

// List returns up to limit sessions, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_handle, command, filter, started_at, ended_at, exit_code
		 FROM run_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess       Session
			startedStr string
			endedStr   sql.NullString
			exitCode   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.TaskHandle, &sess.Command, &sess.Filter, &startedStr, &endedStr, &exitCode); err != nil {
			return nil, fmt.Errorf("sessionlog: list scan: %w", err)
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		if endedStr.Valid {
			t, _ := time.Parse(time.RFC3339Nano, endedStr.String)
			sess.EndedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			sess.ExitCode = &code
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionlog: list rows: %w", err)
	}
	return out, nil
}

// Prune deletes every session whose started_at is older than cutoff,
// returning the number of rows removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM run_sessions WHERE started_at < ?`, cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("sessionlog: prune: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
