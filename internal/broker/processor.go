package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/cuongbtq/ms-media-worker/internal/transport"
)

// processEnvelope decodes one envelope, runs the handler and settles the
// delivery. No error or panic leaves this function.
func (w *Worker) processEnvelope(ctx context.Context, env *transport.Envelope) {
	desc, err := job.Decode(env.Payload)
	if err != nil {
		w.discarded.Add(1)
		w.logger.Error("Discarding malformed job",
			slog.String("channel", env.Channel),
			slog.Int("body_size", len(env.Payload)),
			slog.Int("delivery_count", env.Receipt.DeliveryCount),
			slog.Any("error", err),
		)
		w.nack(env, "", false)
		return
	}

	w.logger.Info("Processing job",
		slog.String("job_id", desc.JobID),
		slog.String("video_id", desc.VideoID),
		slog.String("worker_id", w.workerID),
		slog.Int("delivery_count", env.Receipt.DeliveryCount),
	)

	start := time.Now()
	err = w.invoke(ctx, desc)
	if err == nil {
		w.completed.Add(1)
		w.ack(env, desc.JobID)
		w.logger.Info("Job completed successfully",
			slog.String("job_id", desc.JobID),
			slog.Duration("duration", time.Since(start)),
		)
		return
	}

	w.failed.Add(1)
	requeue := shouldRequeue(err, w.transport.Mode(), env.Receipt.DeliveryCount, w.maxDeliveries)

	w.logger.Error("Job processing failed",
		slog.String("job_id", desc.JobID),
		slog.String("channel", env.Channel),
		slog.Int("delivery_count", env.Receipt.DeliveryCount),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	w.nack(env, desc.JobID, requeue)
}

// invoke runs the handler and converts failures and panics into a HandlerError
func (w *Worker) invoke(ctx context.Context, desc *job.Descriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered handler panic",
				slog.String("job_id", desc.JobID),
				slog.Any("panic", r),
			)
			err = &HandlerError{JobID: desc.JobID, Err: &PanicError{Value: r}}
		}
	}()

	if err := w.handler.Handle(ctx, desc); err != nil {
		return &HandlerError{JobID: desc.JobID, Err: err}
	}
	return nil
}
