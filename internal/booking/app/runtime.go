// Package app wires the booking runtime: storage, broker, relay, workflow
// and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/railbook/railbook/internal/booking/api/httpapi"
	"github.com/railbook/railbook/internal/booking/domain/saga"
	"github.com/railbook/railbook/internal/booking/idempotency"
	"github.com/railbook/railbook/internal/booking/messaging"
	kafkapub "github.com/railbook/railbook/internal/booking/messaging/kafka"
	"github.com/railbook/railbook/internal/booking/messaging/noop"
	"github.com/railbook/railbook/internal/booking/outbox"
	"github.com/railbook/railbook/internal/booking/service"
	"github.com/railbook/railbook/internal/booking/storage/sqlite"
	"github.com/railbook/railbook/internal/platform/lock"
)

// relayLeaseKey is the cluster-wide lease serializing outbox relays.
const relayLeaseKey = "railbook:outbox-relay"

// RuntimeConfig controls booking runtime startup and loop behavior.
type RuntimeConfig struct {
	HTTPPort   int
	HealthPort int
	DBPath     string
	// KafkaBrokers empty selects the drop-everything publisher.
	KafkaBrokers []string
	// RedisAddr empty selects the in-process lease.
	RedisAddr string

	OutboxMaxRetries  int
	RelayPollInterval time.Duration
	RelayBatchSize    int
	RelayLeaseTTL     time.Duration
	RelayBaseBackoff  time.Duration
	RelayMaxBackoff   time.Duration

	IdempotencyWait time.Duration
}

const (
	defaultHTTPPort   = 8080
	defaultHealthPort = 8081
	defaultDBPath     = "data/booking.db"
)

// Run starts the booking runtime and blocks until the context is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create booking storage dir: %w", err)
		}
	}

	store, err := sqlite.OpenWithOptions(cfg.DBPath, sqlite.Options{OutboxMaxRetries: cfg.OutboxMaxRetries})
	if err != nil {
		return fmt.Errorf("open booking sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close booking sqlite store: %v", closeErr)
		}
	}()

	publisher, err := newPublisher(cfg.KafkaBrokers)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			log.Printf("close publisher: %v", closeErr)
		}
	}()

	lease, err := newRelayLease(cfg)
	if err != nil {
		return err
	}

	svc, err := service.New(store)
	if err != nil {
		return fmt.Errorf("build booking service: %w", err)
	}
	orchestrator, err := saga.NewOrchestrator(store, svc, svc)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	guard, err := idempotency.New(store, cfg.IdempotencyWait)
	if err != nil {
		return fmt.Errorf("build idempotency guard: %w", err)
	}
	relay, err := outbox.NewRelay(store, publisher, lease, outbox.Config{
		PollInterval: cfg.RelayPollInterval,
		BatchSize:    cfg.RelayBatchSize,
		LeaseTTL:     cfg.RelayLeaseTTL,
		BaseBackoff:  cfg.RelayBaseBackoff,
		MaxBackoff:   cfg.RelayMaxBackoff,
	})
	if err != nil {
		return fmt.Errorf("build outbox relay: %w", err)
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	defer healthListener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("booking.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	healthErr := make(chan error, 1)
	go func() {
		healthErr <- grpcServer.Serve(healthListener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-healthErr
	}()

	handler := httpapi.NewHandler(orchestrator, svc, guard)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	log.Printf("booking server listening at %s", httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http server: %v", err)
		}
		<-relayDone
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func newPublisher(brokers []string) (messaging.Publisher, error) {
	if len(brokers) == 0 {
		log.Printf("no kafka brokers configured, outbox messages will be dropped")
		return &noop.Publisher{}, nil
	}
	publisher, err := kafkapub.NewPublisher(brokers)
	if err != nil {
		return nil, fmt.Errorf("build kafka publisher: %w", err)
	}
	return publisher, nil
}

func newRelayLease(cfg RuntimeConfig) (lock.Lease, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return lock.NewLocalLease(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ttl := cfg.RelayLeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lease, err := lock.NewRedisLease(client, relayLeaseKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("build relay lease: %w", err)
	}
	return lease, nil
}
