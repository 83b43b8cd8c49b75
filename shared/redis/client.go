package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cuongbtq/ms-media-worker/shared/resilience"
	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
// URL takes precedence over the Host/Port/Password triple.
type Config struct {
	URL                 string
	Host                string
	Port                int
	Password            string
	DB                  int
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PoolSize            int
	HealthCheckInterval time.Duration
}

// Client owns the single Redis connection pool of the process
type Client struct {
	config *Config
	rdb    *goredis.Client
	logger *slog.Logger
	health *resilience.Health
}

// NewOptions converts the configuration into go-redis options.
// It performs no network I/O.
func NewOptions(config *Config) (*goredis.Options, error) {
	var opts *goredis.Options

	if config.URL != "" {
		parsed, err := goredis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		if config.Host == "" {
			return nil, fmt.Errorf("redis host is required when no url is set")
		}
		port := config.Port
		if port == 0 {
			port = 6379
		}
		opts = &goredis.Options{
			Addr:     net.JoinHostPort(config.Host, strconv.Itoa(port)),
			Password: config.Password,
			DB:       config.DB,
		}
	}

	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	return opts, nil
}

// NewClient creates a client without connecting. Call Connect before use.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	opts, err := NewOptions(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return &Client{
		config: config,
		rdb:    goredis.NewClient(opts),
		logger: logger,
		health: resilience.NewHealth(),
	}, nil
}

// Wrap adopts an existing go-redis client
func Wrap(rdb *goredis.Client, logger *slog.Logger) *Client {
	return &Client{
		config: &Config{},
		rdb:    rdb,
		logger: logger,
		health: resilience.NewHealth(),
	}
}

// Connect pings Redis until it answers. It never gives up on its own;
// only ctx cancellation stops it.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to Redis", slog.String("addr", c.Addr()))

	err := resilience.Reconnect(ctx, c.logger, "redis", c.health, c.ping)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.Info("Connected to Redis", slog.String("addr", c.Addr()))
	return nil
}

// EnsureConnected is called by receive loops after a command failed.
// It marks the connection as lost and blocks until Redis answers again.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if err := c.ping(ctx); err == nil {
		c.health.Connected()
		return nil
	}

	c.logger.Error("Redis connection lost", slog.String("addr", c.Addr()))
	return resilience.Reconnect(ctx, c.logger, "redis", c.health, c.ping)
}

// Monitor pings Redis periodically so that the health state also reflects
// outages on otherwise idle connections. It returns when ctx is done.
func (c *Client) Monitor(ctx context.Context) {
	interval := c.config.HealthCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.EnsureConnected(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("Redis health check failed", slog.Any("error", err))
			}
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(pingCtx).Err()
}

// Redis returns the underlying go-redis client
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

// Health returns the connection health tracker
func (c *Client) Health() *resilience.Health {
	return c.health
}

// Addr returns the server address without credentials
func (c *Client) Addr() string {
	return c.rdb.Options().Addr
}

// Close closes the connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	c.health.Disconnected()

	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection", slog.Any("error", err))
		return err
	}

	c.logger.Info("Redis connection closed successfully")
	return nil
}
