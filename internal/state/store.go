// Package state provides the durable, SQLite-backed task queue the
// scheduler drains. It is deliberately small: a single "tasks" table keyed
// by a deterministic content hash, plus an append-only "scheduler_stats"
// table recording one row per drain iteration.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
)

// Store provides SQLite-backed persistence for the task queue.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash TEXT UNIQUE NOT NULL,
	tool TEXT NOT NULL,
	args_json TEXT NOT NULL,
	target TEXT NOT NULL,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	logs_path TEXT NOT NULL DEFAULT '',
	output_tail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority);

CREATE TABLE IF NOT EXISTS scheduler_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick_at TEXT NOT NULL,
	dispatched INTEGER NOT NULL DEFAULT 0,
	done INTEGER NOT NULL DEFAULT 0,
	errored INTEGER NOT NULL DEFAULT 0,
	pending INTEGER NOT NULL DEFAULT 0
);
`

// Open creates or opens a SQLite database at dbPath and ensures the schema
// exists. WAL mode and a busy timeout are set so a scheduler running tasks
// with max_parallel > 1 does not deadlock under contended writes.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// TaskHash returns the deterministic content hash for (tool, args, target):
// SHA-256 of the canonical JSON encoding of {"tool":...,"args":...,"target":...}.
func TaskHash(tool string, args map[string]interface{}, target string) (string, error) {
	return reconutil.SHA256Of(map[string]interface{}{
		"tool":   tool,
		"args":   args,
		"target": target,
	})
}

// Upsert inserts the action's (tool, args, target) keyed by its content hash
// if no row with that hash exists yet, and returns the row's id either way.
// An existing row's priority and status are left untouched: upsert is
// insert-if-absent, never an update.
func (s *Store) Upsert(action model.Action) (int64, error) {
	h, err := TaskHash(action.Tool, action.Args, action.Target)
	if err != nil {
		return 0, fmt.Errorf("state: upsert: hash: %w", err)
	}
	argsJSON, err := reconutil.CanonicalJSON(action.Args)
	if err != nil {
		return 0, fmt.Errorf("state: upsert: encode args: %w", err)
	}
	now := reconutil.UTCNowISO()

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO tasks(hash, tool, args_json, target, priority, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		h, action.Tool, string(argsJSON), action.Target, action.Priority, now, now,
	); err != nil {
		return 0, fmt.Errorf("state: upsert: insert: %w", err)
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM tasks WHERE hash = ?`, h).Scan(&id); err != nil {
		return 0, fmt.Errorf("state: upsert: select id: %w", err)
	}
	return id, nil
}

// GetPending returns up to limit rows with status='pending', ordered by
// (priority ASC, id ASC).
func (s *Store) GetPending(limit int) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, hash, tool, args_json, target, priority, status, logs_path, output_tail, created_at, updated_at
		 FROM tasks WHERE status = 'pending' ORDER BY priority ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("state: get pending: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetAll returns every task ordered by id, for debugging/resumption.
func (s *Store) GetAll() ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, hash, tool, args_json, target, priority, status, logs_path, output_tail, created_at, updated_at
		 FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("state: get all: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	var out []model.Task
	for rows.Next() {
		var t model.Task
		var argsJSON string
		var status string
		if err := rows.Scan(&t.ID, &t.Hash, &t.Tool, &argsJSON, &t.Target, &t.Priority, &status, &t.LogsPath, &t.OutputTail, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("state: scan task: %w", err)
		}
		t.Status = model.TaskStatus(status)
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, fmt.Errorf("state: decode args for task %d: %w", t.ID, err)
		}
		t.Args = args
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetStatus atomically updates a task's status and, if logsPath is non-empty,
// its logs_path. An empty logsPath leaves the existing value untouched.
func (s *Store) SetStatus(id int64, status model.TaskStatus, logsPath string) error {
	now := reconutil.UTCNowISO()
	var err error
	if logsPath == "" {
		_, err = s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id)
	} else {
		_, err = s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ?, logs_path = ? WHERE id = ?`, string(status), now, logsPath, id)
	}
	if err != nil {
		return fmt.Errorf("state: set status: %w", err)
	}
	return nil
}

// SetOutputTail records a redacted tail of a task's captured output,
// supplementing the on-disk log file referenced by logs_path.
func (s *Store) SetOutputTail(id int64, tail string) error {
	if _, err := s.db.Exec(`UPDATE tasks SET output_tail = ? WHERE id = ?`, tail, id); err != nil {
		return fmt.Errorf("state: set output tail: %w", err)
	}
	return nil
}

// CountSchedulerStats returns the number of recorded drain-iteration rows,
// for debugging/resumption.
func (s *Store) CountSchedulerStats() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scheduler_stats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("state: count scheduler stats: %w", err)
	}
	return n, nil
}

// RecordTick appends one scheduler_stats row summarizing a single drain
// iteration.
func (s *Store) RecordTick(dispatched, done, errored, pending int) error {
	_, err := s.db.Exec(
		`INSERT INTO scheduler_stats(tick_at, dispatched, done, errored, pending) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), dispatched, done, errored, pending,
	)
	if err != nil {
		return fmt.Errorf("state: record tick: %w", err)
	}
	return nil
}
