package persistence

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskforge/engine/internal/task"
)

// Archive is a durable, queryable log of every execution attempt ever
// recorded, independent of the rolling queue-state snapshot (spec §4.8
// describes the snapshot/backup pair for live recovery; it says nothing
// about how long execution history should be kept once a task's record
// ages out of CompletedRecords on the in-memory Pool). The live snapshot
// is optimized for "restart and keep going"; the archive is optimized for
// "what happened to this task six months ago", so it is its own SQLite
// file rather than another JSON blob that would grow unbounded.
type Archive struct {
	db *sql.DB
}

const archiveFileName = "history.db"

// OpenArchive opens (creating if absent) storageDir/history.db and
// ensures its schema exists.
func OpenArchive(storageDir string) (*Archive, error) {
	path := filepath.Join(storageDir, archiveFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &PersistenceError{Op: "archive-open", Err: err}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	const schema = `
CREATE TABLE IF NOT EXISTS execution_records (
	task_id     TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	started_at  TEXT NOT NULL,
	ended_at    TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	artifacts   TEXT NOT NULL DEFAULT '{}',
	work_units  INTEGER NOT NULL DEFAULT 0,
	child_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, attempt)
);
CREATE INDEX IF NOT EXISTS idx_execution_records_task_id ON execution_records(task_id);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "archive-schema", Err: err}
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error { return a.db.Close() }

// Append durably records every entry in records, upserting on
// (task_id, attempt) so a re-append of an already-archived attempt
// (e.g. after a crash mid-autosave) is idempotent.
func (a *Archive) Append(records []task.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := a.db.Begin()
	if err != nil {
		return &PersistenceError{Op: "archive-begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO execution_records
	(task_id, attempt, started_at, ended_at, duration_ns, success, error, artifacts, work_units, child_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id, attempt) DO UPDATE SET
	started_at = excluded.started_at,
	ended_at = excluded.ended_at,
	duration_ns = excluded.duration_ns,
	success = excluded.success,
	error = excluded.error,
	artifacts = excluded.artifacts,
	work_units = excluded.work_units,
	child_count = excluded.child_count
`)
	if err != nil {
		return &PersistenceError{Op: "archive-prepare", Err: err}
	}
	defer stmt.Close()

	for _, r := range records {
		artifacts, err := json.Marshal(r.Artifacts)
		if err != nil {
			return &PersistenceError{Op: "archive-marshal", Err: err}
		}
		success := 0
		if r.Success {
			success = 1
		}
		if _, err := stmt.Exec(
			r.TaskID, r.Attempt, r.StartedAt.Format(timeLayout), r.EndedAt.Format(timeLayout),
			int64(r.Duration), success, r.Error, string(artifacts), r.WorkUnits, r.ChildTaskCount,
		); err != nil {
			return &PersistenceError{Op: "archive-exec", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "archive-commit", Err: err}
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ForTask returns every archived execution attempt for taskID, ordered
// by attempt number.
func (a *Archive) ForTask(taskID string) ([]task.ExecutionRecord, error) {
	rows, err := a.db.Query(`
SELECT task_id, attempt, started_at, ended_at, duration_ns, success, error, artifacts, work_units, child_count
FROM execution_records WHERE task_id = ? ORDER BY attempt ASC`, taskID)
	if err != nil {
		return nil, &PersistenceError{Op: "archive-query", Err: err}
	}
	defer rows.Close()

	var out []task.ExecutionRecord
	for rows.Next() {
		var r task.ExecutionRecord
		var startedAt, endedAt, artifacts string
		var durationNS int64
		var success int
		if err := rows.Scan(&r.TaskID, &r.Attempt, &startedAt, &endedAt, &durationNS, &success, &r.Error, &artifacts, &r.WorkUnits, &r.ChildTaskCount); err != nil {
			return nil, &PersistenceError{Op: "archive-scan", Err: err}
		}
		r.Duration = time.Duration(durationNS)
		r.Success = success != 0
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, &PersistenceError{Op: "archive-parse-time", Err: err}
		}
		if r.EndedAt, err = time.Parse(timeLayout, endedAt); err != nil {
			return nil, &PersistenceError{Op: "archive-parse-time", Err: err}
		}
		if err := json.Unmarshal([]byte(artifacts), &r.Artifacts); err != nil {
			return nil, &PersistenceError{Op: "archive-unmarshal", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "archive-rows", Err: err}
	}
	return out, nil
}

// Count returns the total number of archived execution records, mainly
// useful for metrics/diagnostics.
func (a *Archive) Count() (int64, error) {
	var n int64
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM execution_records`).Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "archive-count", Err: err}
	}
	return n, nil
}
