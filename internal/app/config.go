package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STORE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Database     DatabaseConfig
	Orders       OrdersConfig
	Kafka        KafkaConfig
	Activity     ActivityConfig
	RateLimit    RateLimitConfig
	Health       HealthConfig
	Graceful     GracefulConfig
}

// DatabaseConfig sizes the connection pool.
type DatabaseConfig struct {
	MaxConns int32 `default:"20" usage:"Maximum pool connections" flag:"db-max-conns"`
	MinConns int32 `default:"2"  usage:"Minimum idle pool connections" flag:"db-min-conns"`
}

// OrdersConfig controls order placement and mutation.
type OrdersConfig struct {
	LockTimeout   time.Duration `default:"5s"     usage:"Maximum wait for a row lock before reporting contention" flag:"lock-timeout"`
	InvoiceSeries string        `default:"orders" usage:"Invoice counter series" flag:"invoice-series"`
	StrictStatus  bool          `default:"true"   usage:"Reject status changes out of Refunded and Cancelled" flag:"strict-status"`
}

// KafkaConfig enables the order event publisher. With no brokers, events
// are only logged.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"orders.events" usage:"Topic for order events" flag:"kafka-topic"`
}

// ActivityConfig sizes the asynchronous activity log.
type ActivityConfig struct {
	QueueSize int `default:"1024" usage:"Buffered activity entries before dropping" flag:"activity-queue-size"`
}

// RateLimitConfig sizes the per API key token buckets. Reads and writes
// are limited separately.
type RateLimitConfig struct {
	ReadRate   float64       `default:"20" usage:"Sustained read requests per second per API key" flag:"rate-limit-read-rate"`
	ReadBurst  int           `default:"40" usage:"Read requests allowed at once per API key" flag:"rate-limit-read-burst"`
	WriteRate  float64       `default:"5"  usage:"Sustained write requests per second per API key" flag:"rate-limit-write-rate"`
	WriteBurst int           `default:"10" usage:"Write requests allowed at once per API key" flag:"rate-limit-write-burst"`
	Sweep      time.Duration `default:"1m" usage:"How often idle rate limit buckets are dropped" flag:"rate-limit-sweep"`
}

// HealthConfig controls health check polling.
type HealthConfig struct {
	Interval         time.Duration `default:"10s"   usage:"Health check polling interval" flag:"health-interval"`
	FailureThreshold int           `default:"3"     usage:"Consecutive failures before a check is unhealthy" flag:"health-failure-threshold"`
	SuccessThreshold int           `default:"1"     usage:"Consecutive passes before a check is healthy again" flag:"health-success-threshold"`
	MaxGoroutines    int           `default:"10000" usage:"Liveness limit on goroutine count" flag:"health-max-goroutines"`
	MaxGCPause       time.Duration `default:"1s"    usage:"Liveness limit on a single GC pause" flag:"health-max-gc-pause"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/store/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	case c.Orders.LockTimeout <= 0:
		return errors.Errorf("orders.lock_timeout must be positive, got %s", c.Orders.LockTimeout)
	case c.Orders.InvoiceSeries == "":
		return errors.New("orders.invoice_series is required")
	case c.Health.Interval <= 0:
		return errors.Errorf("health.interval must be positive, got %s", c.Health.Interval)
	case c.RateLimit.ReadRate <= 0 || c.RateLimit.WriteRate <= 0:
		return errors.New("rate_limit read and write rates must be positive")
	case c.RateLimit.ReadBurst < 1 || c.RateLimit.WriteBurst < 1:
		return errors.New("rate_limit read and write bursts must be at least 1")
	case c.RateLimit.Sweep <= 0:
		return errors.Errorf("rate_limit.sweep must be positive, got %s", c.RateLimit.Sweep)
	case len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "":
		return errors.New("kafka.topic is required when brokers are set")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
