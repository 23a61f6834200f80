// SPDX-License-Identifier: MIT

// Package store persists bulk jobs and their per-video tasks in SQLite.
// The database runs in WAL mode so status polling never blocks the writer.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	"github.com/tubescribe/tubescribe/internal/faults"
)

// ErrNotFound is returned for lookups of unknown jobs or tasks.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open initializes the database, applying WAL mode and busy_timeout through
// the DSN so every pooled connection gets them.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate failed: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for packages sharing the database file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bulk_jobs (
		id TEXT PRIMARY KEY,
		owner_type TEXT NOT NULL CHECK(owner_type IN ('user', 'guest')),
		owner_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'cancelled', 'paused')),
		method TEXT NOT NULL,
		format TEXT NOT NULL,
		source_url TEXT NOT NULL,
		total_videos INTEGER NOT NULL DEFAULT 0,
		completed_videos INTEGER NOT NULL DEFAULT 0,
		failed_videos INTEGER NOT NULL DEFAULT 0,
		zip_path TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bulk_jobs_owner ON bulk_jobs(owner_type, owner_id);
	CREATE INDEX IF NOT EXISTS idx_bulk_jobs_status ON bulk_jobs(status);

	CREATE TABLE IF NOT EXISTS video_tasks (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES bulk_jobs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		video_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'retry_pending')),
		duration_seconds REAL NOT NULL DEFAULT 0,
		method TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT NOT NULL DEFAULT '',
		completed_at TEXT NOT NULL DEFAULT '',
		UNIQUE(job_id, video_id)
	);

	CREATE INDEX IF NOT EXISTS idx_video_tasks_job ON video_tasks(job_id, position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO bulk_jobs (id, owner_type, owner_id, tier, status, method, format, source_url,
		total_videos, completed_videos, failed_videos, zip_path, webhook_url, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OwnerType, j.OwnerID, j.Tier, j.Status, j.Method, j.Format, j.SourceURL,
		j.TotalVideos, j.CompletedVideos, j.FailedVideos, j.ZipPath, j.WebhookURL, j.Error,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

const jobColumns = `id, owner_type, owner_id, tier, status, method, format, source_url,
	total_videos, completed_videos, failed_videos, zip_path, webhook_url, error, created_at, updated_at`

// GetJob fetches one job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM bulk_jobs WHERE id = ?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var created, updated string
	err := row.Scan(&j.ID, &j.OwnerType, &j.OwnerID, &j.Tier, &j.Status, &j.Method, &j.Format, &j.SourceURL,
		&j.TotalVideos, &j.CompletedVideos, &j.FailedVideos, &j.ZipPath, &j.WebhookURL, &j.Error,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, created)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &j, nil
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (s *Store) ListJobsByOwner(ctx context.Context, ownerType OwnerType, ownerID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM bulk_jobs
	WHERE owner_type = ? AND owner_id = ? ORDER BY created_at DESC`, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountActiveJobs counts the owner's jobs that still hold a concurrency
// slot.
func (s *Store) CountActiveJobs(ctx context.Context, ownerType OwnerType, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bulk_jobs
	WHERE owner_type = ? AND owner_id = ? AND status IN ('pending', 'processing', 'paused')`,
		ownerType, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count active jobs: %w", err)
	}
	return n, nil
}

// UpdateJobStatus transitions a job, recording an error message for
// terminal failures.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status JobStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bulk_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: update job status: %w", err)
	}
	return requireRow(res)
}

// SetJobZip records the archive location after packaging.
func (s *Store) SetJobZip(ctx context.Context, id, zipPath string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bulk_jobs SET zip_path = ?, updated_at = ? WHERE id = ?`,
		zipPath, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: set job zip: %w", err)
	}
	return requireRow(res)
}

// AddJobProgress bumps the completed/failed totals atomically in one
// statement, so concurrent task finishers never lose an update.
func (s *Store) AddJobProgress(ctx context.Context, id string, completedDelta, failedDelta int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bulk_jobs
	SET completed_videos = completed_videos + ?, failed_videos = failed_videos + ?, updated_at = ?
	WHERE id = ?`,
		completedDelta, failedDelta, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: add job progress: %w", err)
	}
	return requireRow(res)
}

// CreateTasks bulk-inserts a job's tasks in one transaction. Re-inserting
// a (job, video) pair is a no-op, so enqueue retries stay idempotent.
func (s *Store) CreateTasks(ctx context.Context, tasks []*Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR IGNORE INTO video_tasks (id, job_id, position, video_id, url, title, status, duration_seconds, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)
	for _, t := range tasks {
		t.CreatedAt, t.UpdatedAt = now, now
		if _, err := stmt.ExecContext(ctx, t.ID, t.JobID, t.Position, t.VideoID, t.URL, t.Title, t.Status, t.DurationSeconds, ts, ts); err != nil {
			return fmt.Errorf("store: insert task %s: %w", t.VideoID, err)
		}
	}
	return tx.Commit()
}

const taskColumns = `id, job_id, position, video_id, url, title, status, duration_seconds, method, language, transcript, error, created_at, updated_at, started_at, completed_at`

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var created, updated, started, completed string
	err := row.Scan(&t.ID, &t.JobID, &t.Position, &t.VideoID, &t.URL, &t.Title, &t.Status,
		&t.DurationSeconds, &t.Method, &t.Language, &t.Transcript, &t.Error,
		&created, &updated, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	if started != "" {
		t.StartedAt, _ = time.Parse(time.RFC3339, started)
	}
	if completed != "" {
		t.CompletedAt, _ = time.Parse(time.RFC3339, completed)
	}
	return &t, nil
}

// GetTask fetches one task.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM video_tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns a job's tasks in submission order.
func (s *Store) ListTasks(ctx context.Context, jobID string) ([]*Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM video_tasks WHERE job_id = ? ORDER BY position`, jobID)
}

// ListTasksByStatus returns a job's tasks in one state, in submission order.
func (s *Store) ListTasksByStatus(ctx context.Context, jobID string, status TaskStatus) ([]*Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM video_tasks WHERE job_id = ? AND status = ? ORDER BY position`,
		jobID, status)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task. The first processing transition
// stamps started_at; terminal transitions stamp completed_at.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	started, completed := "", ""
	switch status {
	case TaskProcessing:
		started = now
	case TaskCompleted, TaskFailed:
		completed = now
	}
	res, err := s.db.ExecContext(ctx, `UPDATE video_tasks SET status = ?, error = ?, updated_at = ?,
	started_at = CASE WHEN ? != '' AND started_at = '' THEN ? ELSE started_at END,
	completed_at = CASE WHEN ? != '' THEN ? ELSE completed_at END
	WHERE id = ?`,
		status, errMsg, now, started, started, completed, completed, id)
	if err != nil {
		return fmt.Errorf("store: update task status: %w", err)
	}
	return requireRow(res)
}

// CompleteTask stores the finished transcript alongside the path and
// language that produced it.
func (s *Store) CompleteTask(ctx context.Context, id, method, language, transcriptText, title string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE video_tasks
	SET status = ?, method = ?, language = ?, transcript = ?, title = ?, error = '', updated_at = ?, completed_at = ?
	WHERE id = ?`,
		TaskCompleted, method, language, transcriptText, title, now, now, id)
	if err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	return requireRow(res)
}

// FailPendingTasks marks every not-yet-terminal task of a job failed with
// the given reason. Used on cancellation.
func (s *Store) FailPendingTasks(ctx context.Context, jobID, reason string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE video_tasks SET status = ?, error = ?, updated_at = ?, completed_at = ?
	WHERE job_id = ? AND status IN ('pending', 'processing', 'retry_pending')`,
		TaskFailed, reason, now, now, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: fail pending tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return faults.Wrap(faults.KindInternal, "no row matched", ErrNotFound)
	}
	return nil
}
