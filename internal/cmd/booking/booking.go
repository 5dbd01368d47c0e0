// Package booking parses booking command flags and launches the booking runtime.
package booking

import (
	"context"
	"flag"
	"log"
	"time"

	bookingapp "github.com/railbook/railbook/internal/booking/app"
	"github.com/railbook/railbook/internal/platform/config"
	"github.com/railbook/railbook/internal/platform/otel"
)

// serviceName identifies this process in traces.
const serviceName = "railbook-booking"

// Config holds booking command configuration.
type Config struct {
	HTTPPort     int      `env:"RAILBOOK_HTTP_PORT" envDefault:"8080"`
	HealthPort   int      `env:"RAILBOOK_HEALTH_PORT" envDefault:"8081"`
	DBPath       string   `env:"RAILBOOK_DB_PATH" envDefault:"data/booking.db"`
	KafkaBrokers []string `env:"RAILBOOK_KAFKA_BROKERS" envSeparator:","`
	RedisAddr    string   `env:"RAILBOOK_REDIS_ADDR"`

	OutboxMaxRetries  int           `env:"RAILBOOK_OUTBOX_MAX_RETRIES" envDefault:"5"`
	RelayPollInterval time.Duration `env:"RAILBOOK_RELAY_POLL_INTERVAL" envDefault:"1s"`
	RelayBatchSize    int           `env:"RAILBOOK_RELAY_BATCH_SIZE" envDefault:"50"`
	RelayLeaseTTL     time.Duration `env:"RAILBOOK_RELAY_LEASE_TTL" envDefault:"30s"`
	RelayBaseBackoff  time.Duration `env:"RAILBOOK_RELAY_RETRY_BACKOFF" envDefault:"1s"`
	RelayMaxBackoff   time.Duration `env:"RAILBOOK_RELAY_RETRY_MAX_DELAY" envDefault:"5m"`

	IdempotencyWait time.Duration `env:"RAILBOOK_IDEMPOTENCY_WAIT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The booking HTTP API port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The booking SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the relay lease")
	fs.IntVar(&cfg.OutboxMaxRetries, "outbox-max-retries", cfg.OutboxMaxRetries, "Publish attempts before an outbox row is parked")
	fs.DurationVar(&cfg.RelayPollInterval, "relay-poll-interval", cfg.RelayPollInterval, "Outbox relay poll interval")
	fs.IntVar(&cfg.RelayBatchSize, "relay-batch-size", cfg.RelayBatchSize, "Outbox rows claimed per relay cycle")
	fs.DurationVar(&cfg.RelayLeaseTTL, "relay-lease-ttl", cfg.RelayLeaseTTL, "Outbox row lease duration")
	fs.DurationVar(&cfg.RelayBaseBackoff, "relay-retry-backoff", cfg.RelayBaseBackoff, "Base publish retry delay")
	fs.DurationVar(&cfg.RelayMaxBackoff, "relay-retry-max-delay", cfg.RelayMaxBackoff, "Maximum publish retry delay")
	fs.DurationVar(&cfg.IdempotencyWait, "idempotency-wait", cfg.IdempotencyWait, "How long duplicates wait on an in-flight claim")
	if err := config.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the booking runtime with tracing set up.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := shutdown(context.Background()); shutdownErr != nil {
			log.Printf("shutdown tracing: %v", shutdownErr)
		}
	}()

	return bookingapp.Run(ctx, bookingapp.RuntimeConfig{
		HTTPPort:          cfg.HTTPPort,
		HealthPort:        cfg.HealthPort,
		DBPath:            cfg.DBPath,
		KafkaBrokers:      cfg.KafkaBrokers,
		RedisAddr:         cfg.RedisAddr,
		OutboxMaxRetries:  cfg.OutboxMaxRetries,
		RelayPollInterval: cfg.RelayPollInterval,
		RelayBatchSize:    cfg.RelayBatchSize,
		RelayLeaseTTL:     cfg.RelayLeaseTTL,
		RelayBaseBackoff:  cfg.RelayBaseBackoff,
		RelayMaxBackoff:   cfg.RelayMaxBackoff,
		IdempotencyWait:   cfg.IdempotencyWait,
	})
}
