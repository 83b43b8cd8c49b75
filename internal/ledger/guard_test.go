package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/broker"
	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Claim(ctx context.Context, desc *job.Descriptor, workerID string) (int, error) {
	args := m.Called(ctx, desc, workerID)
	return args.Int(0), args.Error(1)
}

func (m *mockRecorder) Complete(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *mockRecorder) Fail(ctx context.Context, jobID, reason string) error {
	return m.Called(ctx, jobID, reason).Error(0)
}

func (m *mockRecorder) Heartbeat(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func TestGuard_Handle(t *testing.T) {
	desc := &job.Descriptor{JobID: "job-1", SourceLocation: "uploads/a.mp4"}
	handlerErr := errors.New("encoder crashed")

	tests := []struct {
		name        string
		claimErr    error
		handlerErr  error
		completeErr error
		wantCalled  bool
		wantErr     error
		wantRetry   bool
	}{
		{name: "first run succeeds", wantCalled: true},
		{name: "completed job is skipped", claimErr: ErrAlreadyCompleted},
		{name: "ledger unavailable is retryable", claimErr: errors.New("connection refused"), wantRetry: true},
		{name: "handler failure is recorded", handlerErr: handlerErr, wantCalled: true, wantErr: handlerErr},
		{name: "completion write failure still succeeds", completeErr: errors.New("timeout"), wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			rec.On("Claim", mock.Anything, desc, "worker-a").Return(1, tt.claimErr)
			if tt.claimErr == nil {
				if tt.handlerErr != nil {
					rec.On("Fail", mock.Anything, "job-1", tt.handlerErr.Error()).Return(nil)
				} else {
					rec.On("Complete", mock.Anything, "job-1").Return(tt.completeErr)
				}
			}

			called := false
			next := broker.HandlerFunc(func(context.Context, *job.Descriptor) error {
				called = true
				return tt.handlerErr
			})

			err := NewGuard(rec, next, "worker-a", testLogger()).Handle(context.Background(), desc)

			assert.Equal(t, tt.wantCalled, called)
			switch {
			case tt.wantRetry:
				var retryable *broker.RetryableError
				require.ErrorAs(t, err, &retryable)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
			rec.AssertExpectations(t)
		})
	}
}

func TestGuard_HeartbeatWhileRunning(t *testing.T) {
	desc := &job.Descriptor{JobID: "job-1", SourceLocation: "uploads/a.mp4"}

	rec := &mockRecorder{}
	rec.On("Claim", mock.Anything, desc, "worker-a").Return(1, nil)
	rec.On("Heartbeat", mock.Anything, "job-1").Return(nil)
	rec.On("Complete", mock.Anything, "job-1").Return(nil)

	next := broker.HandlerFunc(func(context.Context, *job.Descriptor) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	guard := NewGuard(rec, next, "worker-a", testLogger()).WithHeartbeat(10 * time.Millisecond)
	require.NoError(t, guard.Handle(context.Background(), desc))

	rec.AssertCalled(t, "Heartbeat", mock.Anything, "job-1")
	rec.AssertExpectations(t)
}
