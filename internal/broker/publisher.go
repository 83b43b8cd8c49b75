package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/cuongbtq/ms-media-worker/internal/transport"
	"github.com/google/uuid"
)

// PublishResult reports where a job ended up.
// Under broadcast ReceiverCount is the number of subscribers that saw it;
// under a work queue it is the queue depth after enqueueing.
type PublishResult struct {
	Delivered     bool  `json:"delivered"`
	ReceiverCount int64 `json:"receiverCount"`
}

// Publisher encodes descriptors and hands them to the transport
type Publisher struct {
	transport transport.Transport
	channel   string
	logger    *slog.Logger
}

func NewPublisher(t transport.Transport, channel string, logger *slog.Logger) *Publisher {
	return &Publisher{
		transport: t,
		channel:   channel,
		logger:    logger,
	}
}

// Publish fills in the job id, creation time and schema version when missing,
// validates the descriptor and publishes it. Invalid descriptors never reach
// the transport.
func (p *Publisher) Publish(ctx context.Context, desc *job.Descriptor) (PublishResult, error) {
	if desc == nil {
		return PublishResult{}, fmt.Errorf("%w: nil descriptor", job.ErrInvalidJob)
	}

	if desc.JobID == "" {
		desc.JobID = uuid.NewString()
	}
	if desc.CreatedAt.IsZero() {
		desc.CreatedAt = time.Now().UTC()
	}
	if desc.SchemaVersion == 0 {
		desc.SchemaVersion = job.SchemaVersion
	}

	if err := desc.Validate(); err != nil {
		p.logger.Warn("Rejected invalid job",
			slog.String("job_id", desc.JobID),
			slog.Any("error", err),
		)
		return PublishResult{}, err
	}

	payload, err := job.Encode(desc)
	if err != nil {
		return PublishResult{}, err
	}

	n, err := p.transport.Publish(ctx, p.channel, payload)
	if err != nil {
		p.logger.Error("Failed to publish job",
			slog.String("job_id", desc.JobID),
			slog.String("channel", p.channel),
			slog.Any("error", err),
		)
		return PublishResult{}, err
	}

	result := PublishResult{Delivered: true, ReceiverCount: n}

	if p.transport.Mode() == transport.ModeBroadcast && n == 0 {
		result.Delivered = false
		p.logger.Warn("No subscribers are listening, job dropped",
			slog.String("job_id", desc.JobID),
			slog.String("channel", p.channel),
		)
		return result, nil
	}

	p.logger.Info("Job published",
		slog.String("job_id", desc.JobID),
		slog.String("video_id", desc.VideoID),
		slog.String("channel", p.channel),
		slog.Int64("receivers", n),
	)

	return result, nil
}

// Channel returns the channel jobs are published to
func (p *Publisher) Channel() string {
	return p.channel
}
