package transport

import (
	"context"
	"time"
)

// Receipt carries what the transport knows about one delivery
type Receipt struct {
	// MessageID identifies the delivery within the transport (payload digest, AMQP delivery tag)
	MessageID string
	// DeliveryCount is 1 on first delivery and grows with each redelivery
	DeliveryCount int
	Redelivered   bool
	// Backlog is the number of items still waiting after this one was taken, -1 if unknown
	Backlog int64
}

// Envelope pairs a serialized job with the channel it arrived on.
// It lives until the worker acknowledges it.
type Envelope struct {
	Channel    string
	Payload    []byte
	ReceivedAt time.Time
	Receipt    Receipt

	ack     func(ctx context.Context) error
	nack    func(ctx context.Context, requeue bool) error
	release func(ctx context.Context) error
}

// NewEnvelope builds an envelope. ack and nack may be nil for transports without
// acknowledgement.
func NewEnvelope(channel string, payload []byte, receipt Receipt, ack func(ctx context.Context) error, nack func(ctx context.Context, requeue bool) error) *Envelope {
	return &Envelope{
		Channel:    channel,
		Payload:    payload,
		ReceivedAt: time.Now(),
		Receipt:    receipt,
		ack:        ack,
		nack:       nack,
	}
}

// Ack marks the job as finished so it is never delivered again
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack == nil {
		return nil
	}
	return e.ack(ctx)
}

// Nack gives the job up. With requeue it is delivered again later, otherwise it is dropped.
func (e *Envelope) Nack(ctx context.Context, requeue bool) error {
	if e.nack == nil {
		return nil
	}
	return e.nack(ctx, requeue)
}

// WithRelease sets how the envelope is handed back without being attempted
func (e *Envelope) WithRelease(release func(ctx context.Context) error) *Envelope {
	e.release = release
	return e
}

// Release hands the job back untouched so the delivery does not count against
// its attempts. Transports that cannot undo a delivery requeue it instead.
func (e *Envelope) Release(ctx context.Context) error {
	if e.release == nil {
		return e.Nack(ctx, true)
	}
	return e.release(ctx)
}
