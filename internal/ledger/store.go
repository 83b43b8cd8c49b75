// Package ledger records compression job outcomes in Postgres. Work queues
// deliver at least once, so the ledger is what lets a worker recognise a
// redelivered job that already completed.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations for the ledger
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Claim marks a job RUNNING for workerID and returns its attempt number.
// Jobs seen before are claimed again unless they already completed.
func (s *Store) Claim(ctx context.Context, desc *job.Descriptor, workerID string) (int, error) {
	query := `
		INSERT INTO compression_jobs (
			job_id, video_id, source_location, status, worker_id, attempts
		) VALUES (
			$1, $2, $3, $4, $5, 1
		)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    worker_id = EXCLUDED.worker_id,
		    attempts = compression_jobs.attempts + 1,
		    updated_at = NOW()
		WHERE compression_jobs.status <> $6
		RETURNING attempts
	`

	var attempts int
	err := s.db.QueryRowxContext(ctx, query,
		desc.JobID,
		desc.VideoID,
		desc.SourceLocation,
		StatusRunning,
		workerID,
		StatusCompleted,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAlreadyCompleted
		}
		return 0, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", desc.JobID),
		slog.String("worker_id", workerID),
		slog.Int("attempts", attempts),
	)

	return attempts, nil
}

// Complete records a successful run
func (s *Store) Complete(ctx context.Context, jobID string) error {
	query := `
		UPDATE compression_jobs
		SET status = $1,
		    last_error = '',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2
	`

	return s.update(ctx, query, StatusCompleted, jobID)
}

// Fail records a failed run and its reason
func (s *Store) Fail(ctx context.Context, jobID, reason string) error {
	query := `
		UPDATE compression_jobs
		SET status = $1,
		    last_error = $2,
		    updated_at = NOW()
		WHERE job_id = $3
	`

	return s.update(ctx, query, StatusFailed, reason, jobID)
}

// Heartbeat refreshes updated_at of a running job so stalled work can be told
// apart from long work
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE compression_jobs
		SET updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	res, err := s.db.ExecContext(ctx, query, jobID, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

// Get retrieves a ledger row by job id
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	query := `
		SELECT
			job_id, video_id, source_location, status, worker_id,
			attempts, last_error, created_at, updated_at, completed_at
		FROM compression_jobs
		WHERE job_id = $1
	`

	var rec Record
	if err := s.db.GetContext(ctx, &rec, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &rec, nil
}

// List returns up to PageSize+1 rows so callers can tell whether another page exists
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT
			job_id, video_id, source_location, status, worker_id,
			attempts, last_error, created_at, updated_at, completed_at
		FROM compression_jobs
		WHERE 1=1
	`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.VideoID != "" {
		query += fmt.Sprintf(" AND video_id = $%d", argIdx)
		args = append(args, filter.VideoID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return records, nil
}
