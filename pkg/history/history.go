// Package history keeps a durable, append-style log of every run outcome
// in a SQLite database. The latest-run record in the state directory is
// the source of truth for resume decisions; history exists for the
// operator's audit trail and the `history` command.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fouchger/homelab/pkg/lifecycle"
)

// Entry is one recorded run.
type Entry struct {
	RunID      string
	Command    string
	DryRun     bool
	State      string
	ExitCode   sql.NullInt64 // null while the run is in flight
	FailStep   string
	FailReason string
	StartedAt  time.Time
	FinishedAt sql.NullString
}

// Log is a SQLite-backed run history implementing lifecycle.History.
type Log struct {
	db *sql.DB
}

// Open opens or creates the history database at the given path and runs
// the schema migration.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			dry_run INTEGER NOT NULL,
			state TEXT NOT NULL,
			exit_code INTEGER,
			failure_step TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the database.
func (l *Log) Close() error { return l.db.Close() }

// RecordStarted inserts the run at launch time with a null exit code.
func (l *Log) RecordStarted(run *lifecycle.Run) error {
	_, err := l.db.Exec(
		`INSERT INTO runs (run_id, command, dry_run, state, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET state = excluded.state`,
		run.ID,
		run.Command,
		boolToInt(run.DryRun),
		string(run.State),
		run.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordFinished updates the run with its settled state and exit code.
// Resume re-finishes the same run id; the latest outcome wins.
func (l *Log) RecordFinished(run *lifecycle.Run, exitCode int) error {
	_, err := l.db.Exec(
		`UPDATE runs SET state = ?, exit_code = ?, failure_step = ?, failure_reason = ?, finished_at = ?
		 WHERE run_id = ?`,
		string(run.State),
		exitCode,
		run.FailureStep,
		run.FailureReason,
		time.Now().UTC().Format(time.RFC3339),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(
		`SELECT run_id, command, dry_run, state, exit_code, failure_step, failure_reason, started_at, finished_at
		 FROM runs ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var dryRun int
		var startedAt string
		if err := rows.Scan(&e.RunID, &e.Command, &dryRun, &e.State, &e.ExitCode,
			&e.FailStep, &e.FailReason, &startedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.DryRun = dryRun != 0
		if ts, perr := time.Parse(time.RFC3339, startedAt); perr == nil {
			e.StartedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
