package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/broker"
	"github.com/cuongbtq/ms-media-worker/internal/job"
)

// Recorder is the part of Store the guard needs
type Recorder interface {
	Claim(ctx context.Context, desc *job.Descriptor, workerID string) (int, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, reason string) error
	Heartbeat(ctx context.Context, jobID string) error
}

// DefaultHeartbeatInterval is how often a running job refreshes its ledger row
const DefaultHeartbeatInterval = 30 * time.Second

// Guard makes a handler idempotent across redeliveries: jobs the ledger
// already holds as completed are acknowledged without running next again.
type Guard struct {
	recorder  Recorder
	next      broker.Handler
	workerID  string
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewGuard(recorder Recorder, next broker.Handler, workerID string, logger *slog.Logger) *Guard {
	return &Guard{
		recorder:  recorder,
		next:      next,
		workerID:  workerID,
		heartbeat: DefaultHeartbeatInterval,
		logger:    logger,
	}
}

// WithHeartbeat sets the heartbeat interval. Zero or less disables heartbeats.
func (g *Guard) WithHeartbeat(interval time.Duration) *Guard {
	g.heartbeat = interval
	return g
}

func (g *Guard) Handle(ctx context.Context, desc *job.Descriptor) error {
	attempts, err := g.recorder.Claim(ctx, desc, g.workerID)
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			g.logger.Warn("Skipping job already completed",
				slog.String("job_id", desc.JobID),
			)
			return nil
		}
		// the ledger being down is transient, let the queue redeliver
		return broker.NewRetryableError(fmt.Errorf("ledger claim: %w", err))
	}

	g.logger.Debug("Running guarded job",
		slog.String("job_id", desc.JobID),
		slog.Int("attempt", attempts),
	)

	if err := g.run(ctx, desc); err != nil {
		if failErr := g.recorder.Fail(context.WithoutCancel(ctx), desc.JobID, err.Error()); failErr != nil {
			g.logger.Error("Failed to record job failure",
				slog.String("job_id", desc.JobID),
				slog.Any("error", failErr),
			)
		}
		return err
	}

	if err := g.recorder.Complete(context.WithoutCancel(ctx), desc.JobID); err != nil {
		// the work is done; a redelivery would only repeat it
		g.logger.Error("Failed to record job completion",
			slog.String("job_id", desc.JobID),
			slog.Any("error", err),
		)
	}

	return nil
}

func (g *Guard) run(ctx context.Context, desc *job.Descriptor) error {
	if g.heartbeat > 0 {
		done := make(chan struct{})
		defer close(done)
		go g.sendHeartbeat(ctx, desc.JobID, done)
	}
	return g.next.Handle(ctx, desc)
}

// sendHeartbeat periodically touches the job row until done is closed
func (g *Guard) sendHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.recorder.Heartbeat(ctx, jobID); err != nil {
				g.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
