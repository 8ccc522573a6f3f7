// Package journal persists the history of model pulls and task runs in SQLite
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/download"
	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// goose keeps its configuration in package globals
var migrateMu sync.Mutex

type PullRecord struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type TaskRecord struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Role         string     `json:"role"`
	Goal         string     `json:"goal"`
	Task         string     `json:"task"`
	Status       string     `json:"status"`
	ErrorType    string     `json:"error_type,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type Journal struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the database at path and applies pending migrations
func Open(path string, logger logging.Logger) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.NewIOError("failed to open journal database", err).WithContext("path", path)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewIOError("failed to ping journal database", err).WithContext("path", path)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("Journal opened, path: %s", path)
	return &Journal{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.NewInternalError("failed to set migration dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return errors.NewIOError("failed to run journal migrations", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) PullStarted(ctx context.Context, jobID, model string, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO pulls (id, model, status, started_at) VALUES (?, ?, ?, ?)`,
		jobID, model, StatusRunning, startedAt.UTC())
	if err != nil {
		return errors.NewIOError("failed to record pull start", err).WithContext("job_id", jobID)
	}
	return nil
}

func (j *Journal) PullFinished(ctx context.Context, jobID string, outcome download.Outcome, finishedAt time.Time) error {
	status := StatusSucceeded
	if !outcome.Succeeded {
		status = StatusFailed
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE pulls SET status = ?, message = ?, finished_at = ? WHERE id = ?`,
		status, nullString(outcome.Message), finishedAt.UTC(), jobID)
	if err != nil {
		return errors.NewIOError("failed to record pull outcome", err).WithContext("job_id", jobID)
	}
	return expectOneRow(res, "pull", jobID)
}

func (j *Journal) TaskStarted(ctx context.Context, runID string, req taskbridge.Request, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO task_runs (id, model, role, goal, task, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, req.ModelName, req.Role, req.Goal, req.Task, StatusRunning, startedAt.UTC())
	if err != nil {
		return errors.NewIOError("failed to record task start", err).WithContext("run_id", runID)
	}
	return nil
}

func (j *Journal) TaskFinished(ctx context.Context, runID string, runErr error, finishedAt time.Time) error {
	status := StatusSucceeded
	var errType, errMessage sql.NullString
	if runErr != nil {
		status = StatusFailed
		errType = nullString(string(errors.TypeOf(runErr)))
		errMessage = nullString(runErr.Error())
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE task_runs SET status = ?, error_type = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, errType, errMessage, finishedAt.UTC(), runID)
	if err != nil {
		return errors.NewIOError("failed to record task outcome", err).WithContext("run_id", runID)
	}
	return expectOneRow(res, "task run", runID)
}

// RecentPulls returns up to limit pulls, newest first
func (j *Journal) RecentPulls(ctx context.Context, limit int) ([]PullRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, model, status, message, started_at, finished_at FROM pulls ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewIOError("failed to query pulls", err)
	}
	defer rows.Close()

	var out []PullRecord
	for rows.Next() {
		var r PullRecord
		var message sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Model, &r.Status, &message, &r.StartedAt, &finished); err != nil {
			return nil, errors.NewIOError("failed to scan pull", err)
		}
		r.Message = message.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIOError("failed to iterate pulls", err)
	}
	return out, nil
}

// RecentTasks returns up to limit task runs, newest first
func (j *Journal) RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, model, role, goal, task, status, error_type, error_message, started_at, finished_at
		 FROM task_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewIOError("failed to query task runs", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var errType, errMessage sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Model, &r.Role, &r.Goal, &r.Task, &r.Status, &errType, &errMessage, &r.StartedAt, &finished); err != nil {
			return nil, errors.NewIOError("failed to scan task run", err)
		}
		r.ErrorType = errType.String
		r.ErrorMessage = errMessage.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIOError("failed to iterate task runs", err)
	}
	return out, nil
}

// MarkInterrupted fails records left running by a previous process
func (j *Journal) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var total int64
	for _, table := range []string{"pulls", "task_runs"} {
		column := "message"
		if table == "task_runs" {
			column = "error_message"
		}
		res, err := j.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET status = ?, %s = ?, finished_at = ? WHERE status = ?`, table, column),
			StatusFailed, "interrupted", now, StatusRunning)
		if err != nil {
			return total, errors.NewIOError("failed to mark interrupted records", err).WithContext("table", table)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		j.logger.Warnf("Marked interrupted journal records, count: %d", total)
	}
	return total, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewIOError("failed to read affected rows", err)
	}
	if n == 0 {
		return errors.NewNotFoundError(kind+" not found in journal", nil).WithContext("id", id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
