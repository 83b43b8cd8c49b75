package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/ms-media-worker/shared/rabbitmq"
	redisclient "github.com/cuongbtq/ms-media-worker/shared/redis"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Transport names accepted in job.transport / JOB_TRANSPORT
const (
	TransportQueue     = "queue"
	TransportBroadcast = "broadcast"
	TransportAMQP      = "amqp"
)

// ErrConfiguration is matched by every configuration failure. It is fatal at startup.
var ErrConfiguration = errors.New("configuration error")

// Config represents the complete application configuration.
// Values come from the YAML file first, then the environment overrides them.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Job     JobConfig     `yaml:"job"`
	AMQP    AMQPConfig    `yaml:"amqp"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOG"`
	App     AppConfig     `yaml:"app"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// RedisConfig holds the Redis target. PublicURL wins over URL, which wins
// over the host/port/password triple.
type RedisConfig struct {
	PublicURL           string        `yaml:"public_url" split_words:"true"`
	URL                 string        `yaml:"url"`
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db"`
	DialTimeout         time.Duration `yaml:"dial_timeout" split_words:"true"`
	PoolSize            int           `yaml:"pool_size" split_words:"true"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" split_words:"true"`
}

// JobConfig selects the delivery model and channel
type JobConfig struct {
	Transport     string        `yaml:"transport"`
	Channel       string        `yaml:"channel"`
	PopTimeout    time.Duration `yaml:"pop_timeout" split_words:"true"`
	MaxDeliveries int           `yaml:"max_deliveries" split_words:"true"`
	// LivenessTTL is how long a silent queue consumer keeps its unacknowledged jobs
	LivenessTTL   time.Duration `yaml:"liveness_ttl" split_words:"true"`
}

// AMQPConfig holds RabbitMQ settings for the amqp transport
type AMQPConfig struct {
	URL       string        `yaml:"url"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Prefetch  int           `yaml:"prefetch"`
	QueueType string        `yaml:"queue_type" split_words:"true"`
}

// LedgerConfig enables the Postgres job ledger when DatabaseURL is set
type LedgerConfig struct {
	DatabaseURL     string        `yaml:"database_url" envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source" split_words:"true"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                  string        `yaml:"id"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" split_words:"true"`
}

// LoadDotEnv loads variables from .env files into the environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: failed to load %s: %v", ErrConfiguration, f, err)
		}
	}

	return nil
}

// Load reads the optional YAML file at configPath, overlays the environment,
// applies defaults and validates the result
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrConfiguration, err)
		}
	}

	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("%w: failed to read environment: %v", ErrConfiguration, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	c.Job.Transport = strings.ToLower(strings.TrimSpace(c.Job.Transport))
	if c.Job.Transport == "" {
		c.Job.Transport = TransportQueue
	}
	c.Job.Channel = strings.TrimSpace(c.Job.Channel)
	if c.Job.Channel == "" {
		c.Job.Channel = "media:compress"
	}
	if c.Job.PopTimeout == 0 {
		c.Job.PopTimeout = 5 * time.Second
	}
	if c.Job.MaxDeliveries == 0 {
		c.Job.MaxDeliveries = 3
	}
	if c.Job.LivenessTTL == 0 {
		c.Job.LivenessTTL = 30 * time.Second
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.AMQP.Prefetch == 0 {
		c.AMQP.Prefetch = 1
	}
	if c.AMQP.QueueType == "" {
		c.AMQP.QueueType = "quorum"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.App.Name == "" {
		c.App.Name = "ms-media-worker"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	if c.Worker.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.ID = host
		} else {
			c.Worker.ID = "media-worker"
		}
	}
	if c.Worker.ShutdownGracePeriod == 0 {
		c.Worker.ShutdownGracePeriod = 30 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("%w: invalid server port: %d (must be between %d and %d)", ErrConfiguration, c.Server.Port, MinPort, MaxPort)
	}

	if c.Job.Channel == "" {
		return fmt.Errorf("%w: job channel is required", ErrConfiguration)
	}

	if c.Job.MaxDeliveries < 1 {
		return fmt.Errorf("%w: job max_deliveries must be at least 1", ErrConfiguration)
	}

	switch c.Job.Transport {
	case TransportQueue, TransportBroadcast:
		if err := c.validateRedis(); err != nil {
			return err
		}
	case TransportAMQP:
		if c.AMQP.URL == "" {
			return fmt.Errorf("%w: AMQP_URL is required for the amqp transport", ErrConfiguration)
		}
		if err := checkScheme(c.AMQP.URL, "amqp", "amqps"); err != nil {
			return fmt.Errorf("%w: invalid amqp url: %v", ErrConfiguration, err)
		}
	default:
		return fmt.Errorf("%w: unknown job transport %q (want %s, %s or %s)",
			ErrConfiguration, c.Job.Transport, TransportQueue, TransportBroadcast, TransportAMQP)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfiguration, c.Logging.Format)
	}

	if c.Worker.ShutdownGracePeriod < 0 {
		return fmt.Errorf("%w: worker shutdown_grace_period must not be negative", ErrConfiguration)
	}

	return nil
}

func (c *Config) validateRedis() error {
	if u := c.Redis.EffectiveURL(); u != "" {
		if err := checkScheme(u, "redis", "rediss"); err != nil {
			return fmt.Errorf("%w: invalid redis url: %v", ErrConfiguration, err)
		}
		return nil
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("%w: no Redis target: set REDIS_PUBLIC_URL, REDIS_URL or REDIS_HOST", ErrConfiguration)
	}
	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("%w: invalid redis port: %d", ErrConfiguration, c.Redis.Port)
	}

	return nil
}

func checkScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not supported", u.Scheme)
}

// EffectiveURL applies the URL precedence: PublicURL, then URL
func (r RedisConfig) EffectiveURL() string {
	if r.PublicURL != "" {
		return r.PublicURL
	}
	return r.URL
}

// RedisClientConfig converts the section for shared/redis
func (c *Config) RedisClientConfig() *redisclient.Config {
	return &redisclient.Config{
		URL:                 c.Redis.EffectiveURL(),
		Host:                c.Redis.Host,
		Port:                c.Redis.Port,
		Password:            c.Redis.Password,
		DB:                  c.Redis.DB,
		DialTimeout:         c.Redis.DialTimeout,
		PoolSize:            c.Redis.PoolSize,
		HealthCheckInterval: c.Redis.HealthCheckInterval,
	}
}

// RabbitMQClientConfig converts the section for shared/rabbitmq
func (c *Config) RabbitMQClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		URL:            c.AMQP.URL,
		ConnectionName: c.App.Name + "@" + c.Worker.ID,
		Heartbeat:      c.AMQP.Heartbeat,
		Prefetch:       c.AMQP.Prefetch,
		QueueType:      c.AMQP.QueueType,
	}
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}
