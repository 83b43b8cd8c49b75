package transport

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/ms-media-worker/shared/rabbitmq"
	"github.com/cuongbtq/ms-media-worker/shared/resilience"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const deliveryCountHeader = "x-delivery-count"

// AMQP is the queue model on RabbitMQ. Each channel name maps to a durable
// queue on the default exchange; workers consume with manual acknowledgement.
type AMQP struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewAMQP creates a RabbitMQ-backed work-queue transport
func NewAMQP(client *rabbitmq.Client, logger *slog.Logger) *AMQP {
	return &AMQP{
		client: client,
		logger: logger,
	}
}

func (a *AMQP) Mode() Mode {
	return ModeQueue
}

func (a *AMQP) Connect(ctx context.Context) (resilience.Snapshot, error) {
	if err := a.client.Connect(ctx); err != nil {
		return a.Health(), &Error{Op: "connect", Err: err}
	}
	return a.Health(), nil
}

// Publish returns the queue depth after enqueueing
func (a *AMQP) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	depth, err := a.client.Publish(ctx, channel, payload, "application/json")
	if err != nil {
		return 0, &Error{Op: "publish", Channel: channel, Err: err}
	}
	return depth, nil
}

func (a *AMQP) Subscribe(ctx context.Context, channel string, onJob Handler) (Subscription, error) {
	tag := "media-worker-" + uuid.NewString()

	deliveries, err := a.client.Consume(channel, tag)
	if err != nil {
		return nil, &Error{Op: "subscribe", Channel: channel, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel, func() error { return a.client.Cancel(tag) })

	go a.consumeLoop(subCtx, channel, tag, deliveries, onJob, sub)

	return sub, nil
}

func (a *AMQP) consumeLoop(ctx context.Context, channel, tag string, deliveries <-chan amqp.Delivery, onJob Handler, sub *subscription) {
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Consumer stopped", slog.String("queue", channel))
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					a.logger.Info("Consumer stopped", slog.String("queue", channel))
					return
				}

				// connection or channel dropped, unacked deliveries return to the queue
				a.logger.Warn("Delivery channel closed, reconnecting", slog.String("queue", channel))
				next, err := a.resubscribe(ctx, channel, tag)
				if err != nil {
					return
				}
				deliveries = next
				continue
			}

			onJob(ctx, a.envelope(channel, d))
		}
	}
}

func (a *AMQP) resubscribe(ctx context.Context, channel, tag string) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery

	err := resilience.Reconnect(ctx, a.logger, "rabbitmq consumer", a.client.Health(), func(ctx context.Context) error {
		if err := a.client.EnsureConnected(ctx); err != nil {
			return err
		}
		d, err := a.client.Consume(channel, tag)
		if err != nil {
			return err
		}
		deliveries = d
		return nil
	})

	return deliveries, err
}

func (a *AMQP) envelope(channel string, d amqp.Delivery) *Envelope {
	receipt := Receipt{
		MessageID:     strconv.FormatUint(d.DeliveryTag, 10),
		DeliveryCount: deliveryCount(d.Headers, d.Redelivered),
		Redelivered:   d.Redelivered,
		Backlog:       int64(d.MessageCount),
	}
	if d.MessageId != "" {
		receipt.MessageID = d.MessageId
	}

	ack := func(context.Context) error {
		if err := d.Ack(false); err != nil {
			return &Error{Op: "ack", Channel: channel, Err: err}
		}
		return nil
	}

	nack := func(_ context.Context, requeue bool) error {
		if err := d.Nack(false, requeue); err != nil {
			return &Error{Op: "nack", Channel: channel, Err: err}
		}
		return nil
	}

	return NewEnvelope(channel, d.Body, receipt, ack, nack)
}

// deliveryCount derives the 1-based delivery number. Quorum queues report prior
// deliveries in x-delivery-count; classic queues only flag redelivery.
func deliveryCount(headers amqp.Table, redelivered bool) int {
	switch v := headers[deliveryCountHeader].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}

	if redelivered {
		return 2
	}
	return 1
}

func (a *AMQP) Health() resilience.Snapshot {
	return a.client.Health().Snapshot()
}

func (a *AMQP) Close() error {
	return a.client.Close()
}
