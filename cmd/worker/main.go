package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/hemolink/donor-api/internal/config"
	"github.com/hemolink/donor-api/internal/email"
	"github.com/hemolink/donor-api/internal/repository/postgres"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/messaging/redis"
	"github.com/hemolink/donor-api/pkg/metrics"
	"github.com/hemolink/donor-api/pkg/worker"
)

// workerEnv holds the deployment-level knobs of this process, set via
// environment in the worker's manifest rather than the shared config
// file.
type workerEnv struct {
	HealthPort   int           `envconfig:"WORKER_HEALTH_PORT" default:"8081"`
	BatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"0"`
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"0s"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var env workerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to read worker environment")
	}
	if env.BatchSize > 0 {
		cfg.Outbox.BatchSize = env.BatchSize
	}
	if env.PollInterval > 0 {
		cfg.Outbox.PollInterval = env.PollInterval
	}

	lg := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		lg.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &lg.ZL)
	if err != nil {
		lg.Fatal(err, "failed to create redis broker")
	}
	defer broker.Close()

	dispatcher := worker.NewDispatcher(
		postgres.NewOutboxRepository(db),
		postgres.NewNotificationRepository(db),
		broker,
		email.NewService(cfg.Email),
		worker.DispatcherConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		lg,
		metrics.NewMetrics("donor_worker"),
	)

	setupHealthCheck(env.HealthPort, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		lg.Info("shutting down")
		cancel()
	}()

	dispatcher.Start(ctx)
}

func setupHealthCheck(port int, lg *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			lg.Fatal(err, "health check server failed")
		}
	}()
}
