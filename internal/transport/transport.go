// Package transport abstracts how job payloads travel from a publisher to workers.
//
// Two delivery models are offered behind one interface, and they fail differently:
//
//   - Broadcast (Redis PUBLISH/SUBSCRIBE) hands every message to each subscriber
//     connected at publish time. Nothing is stored: a job published while no worker
//     listens is gone. It is best-effort and meant for development.
//   - Queue (Redis list, or RabbitMQ via the AMQP variant) stores jobs until exactly
//     one competing worker takes them. Items are acknowledged after processing, so a
//     worker that dies mid-job gets the item back on restart. This is the production
//     model.
package transport

import (
	"context"

	"github.com/cuongbtq/ms-media-worker/shared/resilience"
)

// Mode is the delivery model of a transport
type Mode string

const (
	ModeBroadcast Mode = "broadcast"
	ModeQueue     Mode = "queue"
)

// Handler receives one envelope. Queue transports call it synchronously from their
// receive loop and do not pop the next item until it returns.
type Handler func(ctx context.Context, env *Envelope)

// Subscription is an active registration of a Handler
type Subscription interface {
	// Unsubscribe stops receiving. Envelopes already handed to the Handler are not affected.
	Unsubscribe()
	// Done is closed once the receive loop has exited
	Done() <-chan struct{}
}

// Transport moves serialized job descriptors between processes.
// A process holds exactly one Transport, shared by its publisher and worker.
type Transport interface {
	Mode() Mode
	// Connect blocks until the broker is reachable or ctx is done
	Connect(ctx context.Context) (resilience.Snapshot, error)
	// Publish returns the number of subscribers that received the payload (broadcast)
	// or the queue depth after enqueueing (queue)
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channel string, onJob Handler) (Subscription, error)
	Health() resilience.Snapshot
	Close() error
}

type subscription struct {
	cancel context.CancelFunc
	closer func() error
	done   chan struct{}
}

func newSubscription(cancel context.CancelFunc, closer func() error) *subscription {
	return &subscription{
		cancel: cancel,
		closer: closer,
		done:   make(chan struct{}),
	}
}

func (s *subscription) Unsubscribe() {
	s.cancel()
	if s.closer != nil {
		_ = s.closer()
	}
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}
