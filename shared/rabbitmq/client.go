package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/ms-media-worker/shared/resilience"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by operations issued before Connect succeeded
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	URL            string
	ConnectionName string
	Heartbeat      time.Duration
	// Prefetch limits unacknowledged deliveries per consumer
	Prefetch int
	// QueueType is passed as x-queue-type ("quorum" or "classic")
	QueueType string
}

// Client represents a RabbitMQ client. Queues are declared durable on the
// default exchange, so the queue name doubles as the routing key.
type Client struct {
	config *Config
	logger *slog.Logger
	health *resilience.Health

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient creates a new RabbitMQ client. It does not dial; call Connect.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if _, err := amqp.ParseURI(config.URL); err != nil {
		return nil, fmt.Errorf("invalid rabbitmq url: %w", err)
	}

	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	if config.QueueType == "" {
		config.QueueType = amqp.QueueTypeQuorum
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = 10 * time.Second
	}

	return &Client{
		config: config,
		logger: logger,
		health: resilience.NewHealth(),
	}, nil
}

// Connect dials until the broker accepts the connection or ctx is done
func (c *Client) Connect(ctx context.Context) error {
	return resilience.Reconnect(ctx, c.logger, "rabbitmq", c.health, c.dial)
}

// EnsureConnected redials if the connection or its channel is gone
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	return c.Connect(ctx)
}

// dial opens whatever is missing. A channel closed by the broker (consumer
// timeout, precondition failure) is reopened on the live connection.
func (c *Client) dial(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}

	if c.conn == nil || c.conn.IsClosed() {
		amqpConfig := amqp.Config{
			Heartbeat:  c.config.Heartbeat,
			Locale:     "en_US",
			Properties: amqp.NewConnectionProperties(),
		}
		if c.config.ConnectionName != "" {
			amqpConfig.Properties.SetClientConnectionName(c.config.ConnectionName)
		}

		conn, err := amqp.DialConfig(c.config.URL, amqpConfig)
		if err != nil {
			return fmt.Errorf("failed to dial: %w", err)
		}

		c.conn = conn
		c.channel = nil
		go c.watch("connection", conn.NotifyClose(make(chan *amqp.Error, 1)))
	}

	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := channel.Qos(c.config.Prefetch, 0, false); err != nil {
		_ = channel.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	c.channel = channel
	go c.watch("channel", channel.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client initialized",
		slog.Int("prefetch", c.config.Prefetch),
		slog.String("queue_type", c.config.QueueType),
	)

	return nil
}

func (c *Client) watch(what string, closed <-chan *amqp.Error) {
	err, ok := <-closed
	if !ok || err == nil {
		// graceful close
		c.health.Disconnected()
		return
	}

	c.logger.Warn("RabbitMQ "+what+" lost", slog.Any("error", err))
	c.health.Disconnected()
}

// DeclareQueue declares a durable queue and returns its current state
func (c *Client) DeclareQueue(name string) (amqp.Queue, error) {
	channel, err := c.currentChannel()
	if err != nil {
		return amqp.Queue{}, err
	}

	q, err := channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{amqp.QueueTypeArg: c.config.QueueType},
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}

	return q, nil
}

// Publish publishes a persistent message to queue and returns the queue depth
// including this message
func (c *Client) Publish(ctx context.Context, queue string, body []byte, contentType string) (int64, error) {
	q, err := c.DeclareQueue(queue)
	if err != nil {
		return 0, err
	}

	channel, err := c.currentChannel()
	if err != nil {
		return 0, err
	}

	err = channel.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.String("queue", queue),
			slog.Any("error", err),
		)
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("queue", queue),
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
	)

	return int64(q.Messages) + 1, nil
}

// Consume starts consuming messages from the queue with manual acknowledgement
func (c *Client) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	if _, err := c.DeclareQueue(queue); err != nil {
		return nil, err
	}

	channel, err := c.currentChannel()
	if err != nil {
		return nil, err
	}

	messages, err := channel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// Cancel stops a consumer. Deliveries already received stay unacknowledged.
func (c *Client) Cancel(consumerTag string) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.Cancel(consumerTag, false)
}

func (c *Client) currentChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.channel == nil || c.channel.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.health.Disconnected()
	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected reports whether both the connection and its channel are open
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

func (c *Client) Health() *resilience.Health {
	return c.health
}
