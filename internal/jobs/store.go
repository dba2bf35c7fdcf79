package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("jobs: not found")

const createJobsSQL = `
CREATE TABLE IF NOT EXISTS ingest_jobs (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL DEFAULT '',
	file_name     TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	format        TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	status        TEXT NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	rows_loaded   INTEGER NOT NULL DEFAULT 0,
	corrections   TEXT NOT NULL DEFAULT '[]',
	error_message TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at    TIMESTAMP,
	completed_at  TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs (status, created_at);`

// Store is the durable job queue backed by SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and creates if needed) the queue database at path.
// Pass ":memory:" for an ephemeral queue in tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobs: open store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between claim and update.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createJobsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the queue database.
func (s *Store) Close() error { return s.db.Close() }

// Enqueue inserts a new queued job.
func (s *Store) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("jobs: enqueue without id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, owner, file_name, file_path, format, table_name, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Owner, job.FileName, job.FilePath, job.Format, job.TableName, string(StatusQueued))
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", job.ID, err)
	}
	return nil
}

const selectJobSQL = `
	SELECT id, owner, file_name, file_path, format, table_name, status, progress,
	       rows_loaded, corrections, error_message,
	       created_at, started_at, completed_at, updated_at
	FROM ingest_jobs`

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	return s.getOne(ctx, selectJobSQL+` WHERE id = ?`, id)
}

// Claim atomically takes the oldest queued job and marks it running.
// Returns ErrNotFound when the queue is empty.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE ingest_jobs
		SET status = ?, started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM ingest_jobs WHERE status = ? ORDER BY created_at, id LIMIT 1
		)
		RETURNING id
	`, string(StatusRunning), string(StatusQueued)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}
	return s.Get(ctx, id)
}

// Touch refreshes a job's freshness stamp without changing its state. Long
// loads call this between batches so the stale reaper does not mistake a
// live job for an orphan.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.update(ctx, `
		UPDATE ingest_jobs SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
}

// SetProgress records a progress milestone.
func (s *Store) SetProgress(ctx context.Context, id string, pct int) error {
	return s.update(ctx, `
		UPDATE ingest_jobs SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, pct, id)
}

// MarkCompleted finishes a job successfully.
func (s *Store) MarkCompleted(ctx context.Context, id string, rows int64, correctionsJSON string) error {
	if correctionsJSON == "" {
		correctionsJSON = "[]"
	}
	return s.update(ctx, `
		UPDATE ingest_jobs
		SET status = ?, progress = 100, rows_loaded = ?, corrections = ?,
		    error_message = NULL, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(StatusCompleted), rows, correctionsJSON, id)
}

// MarkFailed finishes a job with an error message.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	return s.update(ctx, `
		UPDATE ingest_jobs
		SET status = ?, error_message = ?, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(StatusFailed), message, id)
}

// PurgeTerminal deletes terminal jobs older than the retention window and
// returns what was deleted so the caller can clean up files.
func (s *Store) PurgeTerminal(ctx context.Context, status Status, olderThan time.Duration) ([]Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	victims, err := s.list(ctx, selectJobSQL+`
		WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?
	`, string(status), cutoff)
	if err != nil {
		return nil, err
	}
	for _, j := range victims {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM ingest_jobs WHERE id = ?`, j.ID); err != nil {
			return nil, fmt.Errorf("jobs: purge %s: %w", j.ID, err)
		}
	}
	return victims, nil
}

// StaleRunning lists running jobs untouched for longer than age. After a
// crash these are orphans: no worker will finish them.
func (s *Store) StaleRunning(ctx context.Context, age time.Duration) ([]Job, error) {
	cutoff := time.Now().UTC().Add(-age)
	return s.list(ctx, selectJobSQL+`
		WHERE status = ? AND updated_at < ?
	`, string(StatusRunning), cutoff)
}

func (s *Store) update(ctx context.Context, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("jobs: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobs: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, stmt string, args ...any) (*Job, error) {
	row := s.db.QueryRowContext(ctx, stmt, args...)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get: %w", err)
	}
	return job, nil
}

func (s *Store) list(ctx context.Context, stmt string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("jobs: scan: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var (
		job                    Job
		status                 string
		errMsg                 sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := scan(
		&job.ID, &job.Owner, &job.FileName, &job.FilePath, &job.Format, &job.TableName,
		&status, &job.Progress, &job.RowsLoaded, &job.Corrections, &errMsg,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
