package broker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/ms-media-worker/internal/transport"
)

// onEnvelope is the transport callback. Broadcast envelopes are processed
// concurrently; work-queue envelopes are processed inline so the transport does
// not take the next item before this one is settled.
func (w *Worker) onEnvelope(_ context.Context, env *transport.Envelope) {
	w.mu.Lock()
	if w.State() != StateListening {
		w.mu.Unlock()
		w.reject(env)
		return
	}
	w.wg.Add(1)
	w.inFlight.Add(1)
	w.mu.Unlock()

	if w.transport.Mode() == transport.ModeBroadcast {
		go w.run(env)
		return
	}
	w.run(env)
}

func (w *Worker) run(env *transport.Envelope) {
	defer w.wg.Done()
	defer w.inFlight.Add(-1)

	w.processEnvelope(w.handlerCtx, env)
}

// reject hands back an envelope that arrived after draining began
func (w *Worker) reject(env *transport.Envelope) {
	if w.transport.Mode() == transport.ModeBroadcast {
		w.logger.Warn("Dropping job received while draining",
			slog.String("channel", env.Channel),
		)
		return
	}

	w.logger.Info("Returning job received while draining",
		slog.String("channel", env.Channel),
	)

	ctx, cancel := context.WithTimeout(context.Background(), w.ackTimeout)
	defer cancel()

	if err := env.Release(ctx); err != nil {
		w.logger.Error("Failed to return job received while draining",
			slog.String("channel", env.Channel),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) ack(env *transport.Envelope, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.ackTimeout)
	defer cancel()

	if err := env.Ack(ctx); err != nil {
		w.logger.Error("Failed to ACK job",
			slog.String("job_id", jobID),
			slog.String("channel", env.Channel),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) nack(env *transport.Envelope, jobID string, requeue bool) {
	ctx, cancel := context.WithTimeout(context.Background(), w.ackTimeout)
	defer cancel()

	if err := env.Nack(ctx, requeue); err != nil {
		w.logger.Error("Failed to NACK job",
			slog.String("job_id", jobID),
			slog.String("channel", env.Channel),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Debug("Job NACKed",
		slog.String("job_id", jobID),
		slog.Bool("requeue", requeue),
	)
}
