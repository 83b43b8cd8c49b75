package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/transport"
)

const (
	DefaultChannel       = "media:compress"
	DefaultMaxDeliveries = 3
	DefaultGracePeriod   = 30 * time.Second
	defaultAckTimeout    = 5 * time.Second
)

// ErrAlreadyStarted is returned by Start on a worker that left the starting state
var ErrAlreadyStarted = errors.New("worker already started")

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Logger    *slog.Logger
	Transport transport.Transport
	Handler   Handler
	Channel   string
	WorkerID  string
	// MaxDeliveries bounds redelivery of jobs failing with a RetryableError
	MaxDeliveries int
	// GracePeriod bounds how long Drain waits for in-flight jobs
	GracePeriod time.Duration
	AckTimeout  time.Duration
}

// Stats are cumulative job counters
type Stats struct {
	InFlight  int64 `json:"inFlight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
}

// Worker consumes jobs from one channel and runs the compression handler on each
type Worker struct {
	logger        *slog.Logger
	transport     transport.Transport
	handler       Handler
	channel       string
	workerID      string
	maxDeliveries int
	gracePeriod   time.Duration
	ackTimeout    time.Duration

	// mu orders state transitions against in-flight registration
	mu    sync.Mutex
	state atomic.Int32
	sub   transport.Subscription
	wg    sync.WaitGroup

	handlerCtx     context.Context
	cancelHandlers context.CancelFunc

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *WorkerConfig) *Worker {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	maxDeliveries := cfg.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	w := &Worker{
		logger:        cfg.Logger,
		transport:     cfg.Transport,
		handler:       cfg.Handler,
		channel:       channel,
		workerID:      cfg.WorkerID,
		maxDeliveries: maxDeliveries,
		gracePeriod:   gracePeriod,
		ackTimeout:    ackTimeout,
	}
	w.state.Store(int32(StateStarting))

	return w
}

// Start subscribes to the job channel and returns once the subscription is
// active. Canceling ctx stops intake; in-flight jobs keep running until Drain.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() != StateStarting {
		return ErrAlreadyStarted
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.String("channel", w.channel),
		slog.String("mode", string(w.transport.Mode())),
		slog.Int("max_deliveries", w.maxDeliveries),
	)

	// handlers outlive the caller's context and are only canceled by Drain
	w.handlerCtx, w.cancelHandlers = context.WithCancel(context.WithoutCancel(ctx))

	sub, err := w.transport.Subscribe(ctx, w.channel, w.onEnvelope)
	if err != nil {
		w.cancelHandlers()
		w.state.Store(int32(StateStopped))
		w.logger.Error("Failed to subscribe",
			slog.String("channel", w.channel),
			slog.Any("error", err),
		)
		return err
	}

	w.sub = sub
	w.state.Store(int32(StateListening))

	w.logger.Info("Listening for video compression jobs",
		slog.String("channel", w.channel),
		slog.String("state", StateListening.String()),
	)

	return nil
}

// Drain stops intake, waits up to the grace period for in-flight jobs and then
// cancels whatever is still running. It is safe to call more than once.
func (w *Worker) Drain() {
	w.mu.Lock()
	switch w.State() {
	case StateStarting:
		w.state.Store(int32(StateStopped))
		w.mu.Unlock()
		return
	case StateDraining, StateStopped:
		w.mu.Unlock()
		return
	}
	w.state.Store(int32(StateDraining))
	sub := w.sub
	w.mu.Unlock()

	w.logger.Info("Draining worker",
		slog.String("worker_id", w.workerID),
		slog.Int64("in_flight", w.inFlight.Load()),
		slog.Duration("grace_period", w.gracePeriod),
	)

	sub.Unsubscribe()

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		<-sub.Done()
		close(drained)
	}()

	timer := time.NewTimer(w.gracePeriod)
	defer timer.Stop()

	select {
	case <-drained:
		w.logger.Info("All in-flight jobs finished")
	case <-timer.C:
		w.logger.Warn("Grace period elapsed, canceling in-flight jobs",
			slog.Int64("in_flight", w.inFlight.Load()),
		)
	}

	w.cancelHandlers()
	w.state.Store(int32(StateStopped))

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stats returns a snapshot of the job counters
func (w *Worker) Stats() Stats {
	return Stats{
		InFlight:  w.inFlight.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Discarded: w.discarded.Load(),
	}
}

// Channel returns the channel the worker consumes
func (w *Worker) Channel() string {
	return w.channel
}
