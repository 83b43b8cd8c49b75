package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/api/handler"
	"github.com/cuongbtq/ms-media-worker/internal/api/router"
	"github.com/cuongbtq/ms-media-worker/internal/broker"
	"github.com/cuongbtq/ms-media-worker/internal/config"
	"github.com/cuongbtq/ms-media-worker/internal/ledger"
	"github.com/cuongbtq/ms-media-worker/internal/transport"
	"github.com/cuongbtq/ms-media-worker/shared/logger"
	"github.com/cuongbtq/ms-media-worker/shared/postgresql"
	"github.com/cuongbtq/ms-media-worker/shared/rabbitmq"
	redisclient "github.com/cuongbtq/ms-media-worker/shared/redis"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		log.Printf("worker-service: %v", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	configPath := flag.String("config", os.Getenv("WORKER_SERVICE_CONFIG_PATH"), "Path to an optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	logger := appLogger.With(slog.String("worker_id", cfg.Worker.ID)).Logger

	logger.Info("Starting media worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("transport", cfg.Job.Transport),
		slog.String("channel", cfg.Job.Channel),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobTransport, monitor, err := initTransport(cfg, logger)
	if err != nil {
		return err
	}

	var jobHandler broker.Handler = broker.NewLogHandler(logger)

	deps := &handler.Dependencies{
		Logger:     logger,
		Service:    cfg.App.Name,
		Version:    cfg.App.Version,
		WorkerID:   cfg.Worker.ID,
		Publisher:  broker.NewPublisher(jobTransport, cfg.Job.Channel, logger),
		Connection: jobTransport,
	}

	var dbClient *postgresql.Client
	if cfg.Ledger.DatabaseURL != "" {
		dbClient, err = initLedger(ctx, &cfg.Ledger, logger)
		if err != nil {
			_ = jobTransport.Close()
			return err
		}
		defer dbClient.Close()

		store := ledger.NewStore(dbClient.GetDB(), logger)
		jobHandler = ledger.NewGuard(store, jobHandler, cfg.Worker.ID, logger)
		deps.Ledger = store
		deps.LedgerHealth = dbClient.HealthCheck
	} else {
		logger.Info("Job ledger disabled, handlers must be idempotent on their own")
	}

	worker := broker.NewWorker(&broker.WorkerConfig{
		Logger:        logger,
		Transport:     jobTransport,
		Handler:       jobHandler,
		Channel:       cfg.Job.Channel,
		WorkerID:      cfg.Worker.ID,
		MaxDeliveries: cfg.Job.MaxDeliveries,
		GracePeriod:   cfg.Worker.ShutdownGracePeriod,
	})
	deps.Worker = worker

	// Health must answer before the broker is reachable
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if _, err := jobTransport.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("Failed to connect transport", slog.Any("error", err))
		}
		return shutdown(srv, jobTransport, cfg.Server.ShutdownTimeout, logger)
	}

	if monitor != nil {
		go monitor(ctx)
	}

	if err := worker.Start(ctx); err != nil {
		_ = shutdown(srv, jobTransport, cfg.Server.ShutdownTimeout, logger)
		return fmt.Errorf("failed to start worker: %w", err)
	}

	logger.Info("Media worker service started successfully")

	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down gracefully")
	case err := <-serverErr:
		logger.Error("HTTP server failed", slog.Any("error", err))
		worker.Drain()
		_ = jobTransport.Close()
		return fmt.Errorf("http server: %w", err)
	}

	worker.Drain()

	stats := worker.Stats()
	logger.Info("Worker stopped",
		slog.Int64("completed", stats.Completed),
		slog.Int64("failed", stats.Failed),
		slog.Int64("discarded", stats.Discarded),
	)

	return shutdown(srv, jobTransport, cfg.Server.ShutdownTimeout, logger)
}

// shutdown closes the transport and then the HTTP server
func shutdown(srv *http.Server, t transport.Transport, timeout time.Duration, logger *slog.Logger) error {
	if err := t.Close(); err != nil {
		logger.Error("Failed to close transport", slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	logger.Info("Media worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
	})
}

// initTransport builds the transport selected by JOB_TRANSPORT. The returned
// monitor, when not nil, keeps the connection health current while idle.
func initTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, func(ctx context.Context), error) {
	switch cfg.Job.Transport {
	case config.TransportAMQP:
		client, err := rabbitmq.NewClient(cfg.RabbitMQClientConfig(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		return transport.NewAMQP(client, logger), nil, nil

	default:
		client, err := redisclient.NewClient(cfg.RedisClientConfig(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}

		if cfg.Job.Transport == config.TransportBroadcast {
			logger.Warn("Broadcast transport drops jobs published while no worker is subscribed")
			return transport.NewBroadcast(client, logger), client.Monitor, nil
		}

		return transport.NewQueue(client, &transport.QueueConfig{
			ConsumerID:  cfg.Worker.ID,
			PopTimeout:  cfg.Job.PopTimeout,
			LivenessTTL: cfg.Job.LivenessTTL,
		}, logger), client.Monitor, nil
	}
}

// initLedger connects to PostgreSQL and applies the ledger migrations
func initLedger(ctx context.Context, cfg *config.LedgerConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbClient, err := postgresql.NewClient(ctx, &postgresql.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}

	if err := ledger.Migrate(dbClient.GetDB().DB); err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	logger.Info("Job ledger enabled")
	return dbClient, nil
}
