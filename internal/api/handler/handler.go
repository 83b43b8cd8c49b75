package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/ms-media-worker/internal/broker"
	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/cuongbtq/ms-media-worker/internal/ledger"
	"github.com/cuongbtq/ms-media-worker/internal/transport"
	"github.com/cuongbtq/ms-media-worker/shared/resilience"
)

// JobPublisher publishes descriptors onto the job channel
type JobPublisher interface {
	Publish(ctx context.Context, desc *job.Descriptor) (broker.PublishResult, error)
}

// WorkerStatus exposes the worker lifecycle for /status
type WorkerStatus interface {
	State() broker.State
	Stats() broker.Stats
	Channel() string
}

// ConnectionStatus exposes the transport connection for /status
type ConnectionStatus interface {
	Mode() transport.Mode
	Health() resilience.Snapshot
}

// JobLedger reads the compression job ledger
type JobLedger interface {
	Get(ctx context.Context, jobID string) (*ledger.Record, error)
	List(ctx context.Context, filter ledger.Filter) ([]ledger.Record, error)
}

// Dependencies holds all dependencies needed by handlers.
// Ledger and LedgerHealth are nil when no database is configured.
type Dependencies struct {
	Logger       *slog.Logger
	Service      string
	Version      string
	WorkerID     string
	Publisher    JobPublisher
	Worker       WorkerStatus
	Connection   ConnectionStatus
	Ledger       JobLedger
	LedgerHealth func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	publisher JobPublisher
	ledger    JobLedger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		publisher: deps.Publisher,
		ledger:    deps.Ledger,
	}
}

// StatusHandler serves liveness and status probes
type StatusHandler struct {
	service      string
	version      string
	workerID     string
	worker       WorkerStatus
	connection   ConnectionStatus
	ledger       bool
	ledgerHealth func(ctx context.Context) error
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{
		service:      deps.Service,
		version:      deps.Version,
		workerID:     deps.WorkerID,
		worker:       deps.Worker,
		connection:   deps.Connection,
		ledger:       deps.Ledger != nil,
		ledgerHealth: deps.LedgerHealth,
	}
}
