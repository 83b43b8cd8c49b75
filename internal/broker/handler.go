package broker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/ms-media-worker/internal/job"
)

// Handler performs the compression work for one job. Under a work queue a job
// may be delivered more than once, so implementations must be idempotent.
// Wrap errors with NewRetryableError to ask for a redelivery.
type Handler interface {
	Handle(ctx context.Context, desc *job.Descriptor) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, desc *job.Descriptor) error

func (f HandlerFunc) Handle(ctx context.Context, desc *job.Descriptor) error {
	return f(ctx, desc)
}

// LogHandler only reports the jobs it receives
type LogHandler struct {
	logger *slog.Logger
}

func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(ctx context.Context, desc *job.Descriptor) error {
	h.logger.Info("Compressing video",
		slog.String("job_id", desc.JobID),
		slog.String("video_id", desc.VideoID),
		slog.String("source", desc.SourceLocation),
	)

	if err := ctx.Err(); err != nil {
		return err
	}

	h.logger.Info("Completed compression",
		slog.String("job_id", desc.JobID),
		slog.String("video_id", desc.VideoID),
	)
	return nil
}
