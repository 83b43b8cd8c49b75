package ledger

import (
	"database/sql"
	"errors"
	"time"
)

// Job status constants
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

var (
	// ErrJobNotFound is returned when a job has no ledger row
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyCompleted is returned by Claim for a job that already finished
	ErrAlreadyCompleted = errors.New("job already completed")
)

// Record is one row of the compression job ledger
type Record struct {
	JobID          string       `db:"job_id"`
	VideoID        string       `db:"video_id"`
	SourceLocation string       `db:"source_location"`
	Status         string       `db:"status"`
	WorkerID       string       `db:"worker_id"`
	Attempts       int          `db:"attempts"`
	LastError      string       `db:"last_error"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
}

// Filter narrows List results. Results are ordered newest first.
type Filter struct {
	Status   string
	VideoID  string
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset position after which List continues
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}
