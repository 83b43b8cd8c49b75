package transport

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	redisclient "github.com/cuongbtq/ms-media-worker/shared/redis"
	"github.com/cuongbtq/ms-media-worker/shared/resilience"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// DefaultPopTimeout bounds each blocking pop
	DefaultPopTimeout = 5 * time.Second
	// DefaultLivenessTTL is how long a consumer stays alive without refreshing
	DefaultLivenessTTL = 30 * time.Second
)

// QueueConfig holds queue transport settings
type QueueConfig struct {
	// ConsumerID names this worker's processing list
	ConsumerID string
	PopTimeout time.Duration
	// LivenessTTL is the expiry of the consumer's liveness key. Processing lists
	// of consumers whose key expired are requeued by any live consumer.
	LivenessTTL time.Duration
}

// Queue delivers over a Redis list with competing consumers.
//
// A pop atomically moves the item into "<queue>:processing:<consumer>" (BLMOVE).
// Ack removes it from there; a crash leaves it there. Each consumer refreshes
// "<queue>:consumer:<id>" and registers in "<queue>:consumers"; a processing list
// whose owner's key expired, or the caller's own list on restart, is moved back
// to the head of the queue. Delivery counts are kept in the "<queue>:deliveries"
// hash, keyed by payload digest.
type Queue struct {
	client      *redisclient.Client
	logger      *slog.Logger
	consumerID  string
	popTimeout  time.Duration
	livenessTTL time.Duration
}

// NewQueue creates a list-backed work-queue transport
func NewQueue(client *redisclient.Client, config *QueueConfig, logger *slog.Logger) *Queue {
	popTimeout := config.PopTimeout
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}

	consumerID := config.ConsumerID
	if consumerID == "" {
		consumerID = "default"
	}

	livenessTTL := config.LivenessTTL
	if livenessTTL <= 0 {
		livenessTTL = DefaultLivenessTTL
	}

	return &Queue{
		client:      client,
		logger:      logger,
		consumerID:  consumerID,
		popTimeout:  popTimeout,
		livenessTTL: livenessTTL,
	}
}

func (q *Queue) Mode() Mode {
	return ModeQueue
}

func (q *Queue) Connect(ctx context.Context) (resilience.Snapshot, error) {
	if err := q.client.Connect(ctx); err != nil {
		return q.Health(), &Error{Op: "connect", Err: err}
	}
	return q.Health(), nil
}

// Publish appends the payload to the queue and returns the resulting depth
func (q *Queue) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	depth, err := q.client.Redis().RPush(ctx, channel, payload).Result()
	if err != nil {
		q.logger.Error("Failed to enqueue job",
			slog.String("queue", channel),
			slog.Any("error", err),
		)
		return 0, &Error{Op: "publish", Channel: channel, Err: err}
	}

	q.logger.Debug("Job enqueued",
		slog.String("queue", channel),
		slog.Int64("depth", depth),
		slog.Int("body_size", len(payload)),
	)

	return depth, nil
}

// Subscribe starts the pop loop. Items left unacknowledged by a previous run of
// this consumer, or by consumers that stopped refreshing their liveness key, are
// requeued first.
func (q *Queue) Subscribe(ctx context.Context, channel string, onJob Handler) (Subscription, error) {
	if err := q.markAlive(ctx, channel); err != nil {
		return nil, &Error{Op: "register", Channel: channel, Err: err}
	}

	recovered, err := q.moveBack(ctx, q.processingKey(channel, q.consumerID), channel)
	if err != nil {
		return nil, &Error{Op: "recover", Channel: channel, Err: err}
	}
	if recovered > 0 {
		q.logger.Warn("Requeued unacknowledged jobs from a previous run",
			slog.String("queue", channel),
			slog.String("consumer", q.consumerID),
			slog.Int("count", recovered),
		)
	}

	if err := q.reapOrphans(ctx, channel); err != nil {
		return nil, &Error{Op: "recover", Channel: channel, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel, nil)

	q.logger.Info("Polling queue",
		slog.String("queue", channel),
		slog.String("consumer", q.consumerID),
		slog.Duration("pop_timeout", q.popTimeout),
		slog.Duration("liveness_ttl", q.livenessTTL),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.pollLoop(subCtx, channel, onJob)
	}()
	go func() {
		defer wg.Done()
		q.keepAlive(subCtx, channel)
	}()
	go func() {
		wg.Wait()
		close(sub.done)
	}()

	return sub, nil
}

func (q *Queue) pollLoop(ctx context.Context, channel string, onJob Handler) {
	rdb := q.client.Redis()
	processing := q.processingKey(channel, q.consumerID)

	// the pop itself must not be interrupted halfway: a canceled read could lose
	// track of an item Redis already moved. Cancellation is checked between pops.
	popCtx := context.WithoutCancel(ctx)

	attempt := 0
	for {
		if ctx.Err() != nil {
			q.logger.Info("Queue polling stopped", slog.String("queue", channel))
			return
		}

		payload, err := rdb.BLMove(popCtx, channel, processing, "LEFT", "RIGHT", q.popTimeout).Result()
		if errors.Is(err, goredis.Nil) {
			attempt = 0
			continue
		}
		if err != nil {
			if errors.Is(err, goredis.ErrClosed) {
				q.logger.Info("Queue polling stopped - client closed", slog.String("queue", channel))
				return
			}

			attempt++
			delay := resilience.RetryStrategy(attempt)
			q.logger.Error("Queue pop failed",
				slog.String("queue", channel),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
			if q.client.EnsureConnected(ctx) != nil {
				return
			}
			if resilience.Sleep(ctx, delay) != nil {
				q.logger.Info("Queue polling stopped", slog.String("queue", channel))
				return
			}
			continue
		}
		attempt = 0

		if ctx.Err() != nil {
			q.restore(popCtx, channel, payload, false)
			q.logger.Info("Queue polling stopped", slog.String("queue", channel))
			return
		}

		onJob(ctx, q.envelope(popCtx, channel, payload))
	}
}

// keepAlive refreshes this consumer's liveness key and requeues the work of
// consumers that stopped refreshing theirs
func (q *Queue) keepAlive(ctx context.Context, channel string) {
	ticker := time.NewTicker(q.livenessTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.markAlive(ctx, channel); err != nil {
				if ctx.Err() == nil {
					q.logger.Warn("Failed to refresh consumer liveness",
						slog.String("queue", channel),
						slog.String("consumer", q.consumerID),
						slog.Any("error", err),
					)
				}
				continue
			}
			if err := q.reapOrphans(ctx, channel); err != nil && ctx.Err() == nil {
				q.logger.Warn("Failed to requeue jobs of stopped consumers",
					slog.String("queue", channel),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (q *Queue) markAlive(ctx context.Context, channel string) error {
	_, err := q.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, q.consumerKey(channel, q.consumerID), time.Now().UTC().Format(time.RFC3339), q.livenessTTL)
		pipe.SAdd(ctx, q.consumersKey(channel), q.consumerID)
		return nil
	})
	return err
}

// reapOrphans moves the processing lists of consumers without a liveness key
// back to the queue
func (q *Queue) reapOrphans(ctx context.Context, channel string) error {
	rdb := q.client.Redis()

	members, err := rdb.SMembers(ctx, q.consumersKey(channel)).Result()
	if err != nil {
		return err
	}

	for _, id := range members {
		if id == q.consumerID {
			continue
		}

		alive, err := rdb.Exists(ctx, q.consumerKey(channel, id)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}

		n, err := q.moveBack(ctx, q.processingKey(channel, id), channel)
		if err != nil {
			return err
		}
		if err := rdb.SRem(ctx, q.consumersKey(channel), id).Err(); err != nil {
			return err
		}

		if n > 0 {
			q.logger.Warn("Requeued unacknowledged jobs of a stopped consumer",
				slog.String("queue", channel),
				slog.String("consumer", id),
				slog.Int("count", n),
			)
		}
	}

	return nil
}

func (q *Queue) envelope(ctx context.Context, channel, payload string) *Envelope {
	rdb := q.client.Redis()
	digest := payloadDigest(payload)
	deliveries := q.deliveriesKey(channel)
	processing := q.processingKey(channel, q.consumerID)

	receipt := Receipt{MessageID: digest, DeliveryCount: 1, Backlog: -1}

	pipe := rdb.Pipeline()
	count := pipe.HIncrBy(ctx, deliveries, digest, 1)
	backlog := pipe.LLen(ctx, channel)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("Failed to read delivery receipt",
			slog.String("queue", channel),
			slog.Any("error", err),
		)
	} else {
		receipt.DeliveryCount = int(count.Val())
		receipt.Redelivered = receipt.DeliveryCount > 1
		receipt.Backlog = backlog.Val()
	}

	ack := func(ctx context.Context) error {
		_, err := rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LRem(ctx, processing, 1, payload)
			pipe.HDel(ctx, deliveries, digest)
			return nil
		})
		if err != nil {
			return &Error{Op: "ack", Channel: channel, Err: err}
		}
		return nil
	}

	nack := func(ctx context.Context, requeue bool) error {
		_, err := rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LRem(ctx, processing, 1, payload)
			if requeue {
				pipe.RPush(ctx, channel, payload)
			} else {
				pipe.HDel(ctx, deliveries, digest)
			}
			return nil
		})
		if err != nil {
			return &Error{Op: "nack", Channel: channel, Err: err}
		}
		return nil
	}

	release := func(ctx context.Context) error {
		if err := q.restore(ctx, channel, payload, true); err != nil {
			return &Error{Op: "release", Channel: channel, Err: err}
		}
		return nil
	}

	return NewEnvelope(channel, []byte(payload), receipt, ack, nack).WithRelease(release)
}

// restore puts a popped item back at the head of the queue. With uncount the
// delivery recorded for it is taken back, so the item keeps its attempt budget.
func (q *Queue) restore(ctx context.Context, channel, payload string, uncount bool) error {
	processing := q.processingKey(channel, q.consumerID)
	deliveries := q.deliveriesKey(channel)
	digest := payloadDigest(payload)

	_, err := q.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, processing, 1, payload)
		pipe.LPush(ctx, channel, payload)
		if uncount {
			pipe.HIncrBy(ctx, deliveries, digest, -1)
		}
		return nil
	})
	if err != nil {
		// still in the processing list: recovered on next start
		q.logger.Error("Failed to restore job popped during shutdown",
			slog.String("queue", channel),
			slog.Any("error", err),
		)
	}
	return err
}

// moveBack moves every item of a processing list to the head of the queue,
// oldest item first in line
func (q *Queue) moveBack(ctx context.Context, processing, channel string) (int, error) {
	rdb := q.client.Redis()

	n := 0
	for {
		err := rdb.LMove(ctx, processing, channel, "RIGHT", "LEFT").Err()
		if errors.Is(err, goredis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *Queue) processingKey(channel, consumerID string) string {
	return channel + ":processing:" + consumerID
}

func (q *Queue) consumerKey(channel, consumerID string) string {
	return channel + ":consumer:" + consumerID
}

func (q *Queue) consumersKey(channel string) string {
	return channel + ":consumers"
}

func (q *Queue) deliveriesKey(channel string) string {
	return channel + ":deliveries"
}

func (q *Queue) Health() resilience.Snapshot {
	return q.client.Health().Snapshot()
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func payloadDigest(payload string) string {
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
