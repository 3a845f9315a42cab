package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET, required"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`
	// LogFile, when set, also writes JSON logs to a rotated file.
	LogFile string `env:"LOG_FILE"`

	Mongo    MongoConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
	Tracking TrackingConfig
	Relay    RelayConfig
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=tracking_relay"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR, default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,   default=0"`
}

// KafkaConfig enables the status-change publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_STATUS_TOPIC, default=parcel-status"`
}

// RabbitMQConfig enables the location mirror when URL is non-empty.
type RabbitMQConfig struct {
	URL      string `env:"RABBITMQ_URL"`
	Exchange string `env:"RABBITMQ_LOCATION_EXCHANGE, default=location_fanout"`
}

type TrackingConfig struct {
	RouteMaxPoints    int           `env:"TRACKING_ROUTE_MAX_POINTS,  default=500"`
	RouteMinDistanceM float64       `env:"TRACKING_ROUTE_MIN_DISTANCE_M, default=10"`
	MaxSpeedMPS       float64       `env:"TRACKING_MAX_SPEED_MPS,     default=60"`
	ClockSkew         time.Duration `env:"TRACKING_CLOCK_SKEW,        default=2s"`
	ETASmoothing      float64       `env:"TRACKING_ETA_SMOOTHING,     default=0.3"`
	ETAThreshold      time.Duration `env:"TRACKING_ETA_THRESHOLD,     default=1m"`
	DedupTTL          time.Duration `env:"TRACKING_DEDUP_TTL,         default=10m"`
}

type RelayConfig struct {
	QueueSize int    `env:"RELAY_QUEUE_SIZE, default=64"`
	Overflow  string `env:"RELAY_OVERFLOW,   default=drop-oldest"`
	Workers   int    `env:"RELAY_WORKERS,    default=8"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from an arbitrary lookuper.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Relay.Overflow != "drop-oldest" && cfg.Relay.Overflow != "disconnect" {
		return nil, fmt.Errorf("config: RELAY_OVERFLOW must be drop-oldest or disconnect, got %q", cfg.Relay.Overflow)
	}
	return &cfg, nil
}

// IsDevelopment reports whether pretty console logging should be used.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
