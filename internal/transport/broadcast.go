package transport

import (
	"context"
	"errors"
	"log/slog"

	redisclient "github.com/cuongbtq/ms-media-worker/shared/redis"
	"github.com/cuongbtq/ms-media-worker/shared/resilience"
	goredis "github.com/redis/go-redis/v9"
)

// Broadcast delivers over Redis pub/sub. Jobs published while no worker is
// subscribed are lost; use it for development only.
type Broadcast struct {
	client *redisclient.Client
	logger *slog.Logger
}

// NewBroadcast creates a pub/sub transport on top of a Redis client
func NewBroadcast(client *redisclient.Client, logger *slog.Logger) *Broadcast {
	return &Broadcast{
		client: client,
		logger: logger,
	}
}

func (b *Broadcast) Mode() Mode {
	return ModeBroadcast
}

func (b *Broadcast) Connect(ctx context.Context) (resilience.Snapshot, error) {
	if err := b.client.Connect(ctx); err != nil {
		return b.Health(), &Error{Op: "connect", Err: err}
	}
	return b.Health(), nil
}

// Publish returns how many subscribers received the payload. Zero is not an error.
func (b *Broadcast) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	receivers, err := b.client.Redis().Publish(ctx, channel, payload).Result()
	if err != nil {
		b.logger.Error("Failed to publish job",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
		return 0, &Error{Op: "publish", Channel: channel, Err: err}
	}

	b.logger.Debug("Job published",
		slog.String("channel", channel),
		slog.Int64("subscribers", receivers),
		slog.Int("body_size", len(payload)),
	)

	return receivers, nil
}

// Subscribe registers onJob for every message on channel. Messages are handed
// over in publish order from a single receive goroutine.
func (b *Broadcast) Subscribe(ctx context.Context, channel string, onJob Handler) (Subscription, error) {
	ps := b.client.Redis().Subscribe(ctx, channel)

	// wait for the subscription confirmation so publishes after this call are seen
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &Error{Op: "subscribe", Channel: channel, Err: err}
	}

	b.logger.Info("Subscribed to channel", slog.String("channel", channel))

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel, ps.Close)

	go b.receiveLoop(subCtx, ps, channel, onJob, sub)

	return sub, nil
}

func (b *Broadcast) receiveLoop(ctx context.Context, ps *goredis.PubSub, channel string, onJob Handler, sub *subscription) {
	defer close(sub.done)

	health := b.client.Health()
	attempt := 0

	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
				b.logger.Info("Subscription closed", slog.String("channel", channel))
				return
			}

			// go-redis reconnects and resubscribes on the next Receive
			attempt++
			delay := resilience.RetryStrategy(attempt)
			health.Retrying(attempt, delay)
			b.logger.Warn("Subscription receive failed, retrying",
				slog.String("channel", channel),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
			if resilience.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		if attempt > 0 {
			b.logger.Info("Subscription recovered",
				slog.String("channel", channel),
				slog.Int("attempts", attempt),
			)
			attempt = 0
			health.Connected()
		}

		switch m := msg.(type) {
		case *goredis.Message:
			env := NewEnvelope(m.Channel, []byte(m.Payload), Receipt{DeliveryCount: 1, Backlog: -1}, nil, nil)
			onJob(ctx, env)
		case *goredis.Subscription:
			b.logger.Debug("Subscription event",
				slog.String("kind", m.Kind),
				slog.String("channel", m.Channel),
				slog.Int("count", m.Count),
			)
		}
	}
}

func (b *Broadcast) Health() resilience.Snapshot {
	return b.client.Health().Snapshot()
}

func (b *Broadcast) Close() error {
	return b.client.Close()
}
