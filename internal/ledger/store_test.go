package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(sqlx.NewDb(db, "postgres"), testLogger()), mock
}

var recordColumns = []string{
	"job_id", "video_id", "source_location", "status", "worker_id",
	"attempts", "last_error", "created_at", "updated_at", "completed_at",
}

func TestStore_Claim(t *testing.T) {
	desc := &job.Descriptor{JobID: "job-1", VideoID: "video-1", SourceLocation: "uploads/a.mp4"}
	claimQuery := regexp.QuoteMeta("INSERT INTO compression_jobs")

	t.Run("first claim", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(claimQuery).
			WithArgs("job-1", "video-1", "uploads/a.mp4", StatusRunning, "worker-a", StatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))

		attempts, err := store.Claim(context.Background(), desc, "worker-a")
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivery of a failed job", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(claimQuery).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(3))

		attempts, err := store.Claim(context.Background(), desc, "worker-b")
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("already completed", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(claimQuery).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}))

		_, err := store.Claim(context.Background(), desc, "worker-a")
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
	})

	t.Run("database error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(claimQuery).WillReturnError(errors.New("connection reset"))

		_, err := store.Claim(context.Background(), desc, "worker-a")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAlreadyCompleted)
		assert.Contains(t, err.Error(), "failed to claim job")
	})
}

func TestStore_CompleteAndFail(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE compression_jobs")).
			WithArgs(StatusCompleted, "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Complete(context.Background(), "job-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fail", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE compression_jobs")).
			WithArgs(StatusFailed, "codec missing", "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Fail(context.Background(), "job-1", "codec missing"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown job", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE compression_jobs")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.Complete(context.Background(), "missing"), ErrJobNotFound)
	})
}

func TestStore_Heartbeat(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("SET updated_at = NOW()")).
		WithArgs("job-1", StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.Heartbeat(context.Background(), "job-1"))

	// a finished job is not an error
	mock.ExpectExec(regexp.QuoteMeta("SET updated_at = NOW()")).
		WithArgs("job-2", StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, store.Heartbeat(context.Background(), "job-2"))

	mock.ExpectExec(regexp.QuoteMeta("SET updated_at = NOW()")).
		WillReturnError(errors.New("connection reset"))
	assert.Error(t, store.Heartbeat(context.Background(), "job-3"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM compression_jobs")).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows(recordColumns).
				AddRow("job-1", "video-1", "uploads/a.mp4", StatusCompleted, "worker-a", 1, "", now, now, now))

		rec, err := store.Get(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, "job-1", rec.JobID)
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.True(t, rec.CompletedAt.Valid)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM compression_jobs")).
			WillReturnError(sql.ErrNoRows)

		_, err := store.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestStore_List(t *testing.T) {
	now := time.Now().UTC()
	cursor := &Cursor{CreatedAt: now, JobID: "job-9"}

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("AND status = $1 AND video_id = $2 AND (created_at, job_id) < ($3, $4) ORDER BY created_at DESC, job_id DESC LIMIT $5")).
		WithArgs(StatusFailed, "video-1", now, "job-9", 3).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("job-8", "video-1", "uploads/a.mp4", StatusFailed, "worker-a", 2, "timeout", now, now, nil))

	records, err := store.List(context.Background(), Filter{
		Status:   StatusFailed,
		VideoID:  "video-1",
		PageSize: 2,
		Cursor:   cursor,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "timeout", records[0].LastError)
	assert.False(t, records[0].CompletedAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
