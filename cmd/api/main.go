package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hemolink/donor-api/internal/config"
	"github.com/hemolink/donor-api/internal/handler"
	authHandler "github.com/hemolink/donor-api/internal/handler/auth"
	donorHandler "github.com/hemolink/donor-api/internal/handler/donor"
	inventoryHandler "github.com/hemolink/donor-api/internal/handler/inventory"
	requestHandler "github.com/hemolink/donor-api/internal/handler/request"
	"github.com/hemolink/donor-api/internal/repository/postgres"
	"github.com/hemolink/donor-api/internal/router"
	authService "github.com/hemolink/donor-api/internal/service/auth"
	donorService "github.com/hemolink/donor-api/internal/service/donor"
	inventoryService "github.com/hemolink/donor-api/internal/service/inventory"
	"github.com/hemolink/donor-api/internal/service/matching"
	notificationService "github.com/hemolink/donor-api/internal/service/notification"
	requestService "github.com/hemolink/donor-api/internal/service/request"
	"github.com/hemolink/donor-api/pkg/auth"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		lg.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	donorRepo := postgres.NewDonorRepository(db)
	requestRepo := postgres.NewRequestRepository(db)
	matchRepo := postgres.NewMatchRepository(db)
	inventoryRepo := postgres.NewInventoryRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	m := metrics.NewMetrics("donor_api")

	notifier := notificationService.NewService(notificationRepo, outboxRepo, lg)
	inventorySvc := inventoryService.NewService(inventoryRepo, lg)

	engine := matching.NewEngine(
		cfg.Matching,
		requestRepo,
		matchRepo,
		donorRepo,
		outboxRepo,
		notifier,
		inventorySvc,
		lg,
		m,
	)

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	donorSvc := donorService.NewService(donorRepo, lg)
	requestSvc := requestService.NewService(requestRepo, engine, lg)
	authSvc := authService.NewService(donorRepo, jwtSvc, lg)

	h := handler.NewHandler(db)
	r := router.NewRouter(
		jwtSvc,
		h,
		authHandler.NewHandler(authSvc),
		donorHandler.NewHandler(donorSvc),
		requestHandler.NewHandler(requestSvc),
		inventoryHandler.NewHandler(inventorySvc),
		router.Config{
			Timeout:        time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
			MetricsPrefix:  "donor_api_http",
		},
	)
	r.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick up escalation episodes that were in flight when the last
	// process stopped.
	if err := engine.Resume(ctx); err != nil {
		lg.Fatal(err, "failed to resume active requests")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		lg.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")

	cancel()
	engine.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Fatal(err, "server forced to shutdown")
	}

	lg.Info("server exited properly")
}
