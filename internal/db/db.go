// Package db is the durable store for task definitions and execution
// logs, backed by SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("db: not found")

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies the
// schema. Foreign keys are enabled so execution logs cascade with their
// task.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		api_endpoint TEXT NOT NULL,
		api_key TEXT NOT NULL,
		schedule_type TEXT NOT NULL,
		interval_minutes INTEGER,
		interval_seconds INTEGER,
		fixed_time TEXT,
		message_content TEXT NOT NULL,
		model TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS execution_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		executed_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		response_summary TEXT,
		error_message TEXT,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_execution_logs_task_id ON execution_logs(task_id);
	CREATE INDEX IF NOT EXISTS idx_execution_logs_executed_at ON execution_logs(executed_at);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	// Migration: interval_seconds was added after the first release.
	_, _ = db.conn.Exec("ALTER TABLE tasks ADD COLUMN interval_seconds INTEGER")

	return nil
}

const taskColumns = `id, name, api_endpoint, api_key, schedule_type, interval_minutes, interval_seconds, fixed_time, message_content, model, enabled, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	task := &Task{}
	err := row.Scan(&task.ID, &task.Name, &task.APIEndpoint, &task.APIKey,
		&task.ScheduleType, &task.IntervalMinutes, &task.IntervalSeconds,
		&task.FixedTime, &task.MessageContent, &task.Model, &task.Enabled,
		&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CreateTask inserts a new task. Timestamps are assigned here rather
// than by column defaults.
func (db *DB) CreateTask(task *Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	result, err := db.conn.Exec(`
		INSERT INTO tasks (name, api_endpoint, api_key, schedule_type, interval_minutes, interval_seconds, fixed_time, message_content, model, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.Name, task.APIEndpoint, task.APIKey, task.ScheduleType,
		task.IntervalMinutes, task.IntervalSeconds, task.FixedTime,
		task.MessageContent, task.Model, task.Enabled, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	task.ID = id
	return nil
}

// GetTask retrieves a task by ID.
func (db *DB) GetTask(id int64) (*Task, error) {
	task, err := scanTask(db.conn.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks retrieves all tasks ordered by ID.
func (db *DB) ListTasks() ([]*Task, error) {
	return db.queryTasks(`SELECT ` + taskColumns + ` FROM tasks ORDER BY id`)
}

// ListEnabledTasks retrieves all enabled tasks.
func (db *DB) ListEnabledTasks() ([]*Task, error) {
	return db.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE enabled = 1 ORDER BY id`)
}

func (db *DB) queryTasks(query string, args ...any) ([]*Task, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask persists all mutable fields of task and refreshes its
// updated_at timestamp.
func (db *DB) UpdateTask(task *Task) error {
	task.UpdatedAt = time.Now().UTC()
	result, err := db.conn.Exec(`
		UPDATE tasks SET name = ?, api_endpoint = ?, api_key = ?, schedule_type = ?, interval_minutes = ?, interval_seconds = ?, fixed_time = ?, message_content = ?, model = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, task.Name, task.APIEndpoint, task.APIKey, task.ScheduleType,
		task.IntervalMinutes, task.IntervalSeconds, task.FixedTime,
		task.MessageContent, task.Model, task.Enabled, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask deletes a task; its execution logs cascade.
func (db *DB) DeleteTask(id int64) error {
	result, err := db.conn.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateExecutionLog inserts one outcome record. Logs are append-only.
func (db *DB) CreateExecutionLog(log *ExecutionLog) error {
	result, err := db.conn.Exec(`
		INSERT INTO execution_logs (task_id, executed_at, status, response_summary, error_message)
		VALUES (?, ?, ?, ?, ?)
	`, log.TaskID, log.ExecutedAt, log.Status, log.ResponseSummary, log.ErrorMessage)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	log.ID = id
	return nil
}

// ListExecutionLogs retrieves the most recent logs for a task, newest
// first.
func (db *DB) ListExecutionLogs(taskID int64, limit int) ([]*ExecutionLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, task_id, executed_at, status, response_summary, error_message
		FROM execution_logs WHERE task_id = ? ORDER BY executed_at DESC, id DESC LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ExecutionLog
	for rows.Next() {
		log := &ExecutionLog{}
		err := rows.Scan(&log.ID, &log.TaskID, &log.ExecutedAt, &log.Status,
			&log.ResponseSummary, &log.ErrorMessage)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
