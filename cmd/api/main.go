package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/referral-api/internal/app"
	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/handler/ambulance"
	"github.com/jwalitptl/referral-api/internal/handler/appointment"
	"github.com/jwalitptl/referral-api/internal/handler/audit"
	"github.com/jwalitptl/referral-api/internal/handler/bed"
	"github.com/jwalitptl/referral-api/internal/handler/dispatch"
	"github.com/jwalitptl/referral-api/internal/handler/equipment"
	"github.com/jwalitptl/referral-api/internal/handler/health"
	"github.com/jwalitptl/referral-api/internal/handler/referral"
	"github.com/jwalitptl/referral-api/internal/handler/report"
	"github.com/jwalitptl/referral-api/internal/middleware"
	"github.com/jwalitptl/referral-api/internal/router"
	"github.com/jwalitptl/referral-api/pkg/validator"
	"github.com/jwalitptl/referral-api/pkg/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := app.NewLogger(cfg.Logging)

	a, err := app.New(cfg, logger, "api")
	if err != nil {
		logger.Fatal(err, "failed to initialise application")
	}
	defer a.Close()

	validator.RegisterGinRules()

	handlers := []router.Handler{
		referral.NewHandler(a.Referrals),
		dispatch.NewHandler(a.Dispatches),
		ambulance.NewHandler(a.Fleet),
		appointment.NewHandler(a.Appointments),
		equipment.NewHandler(a.Equipment),
		bed.NewHandler(a.Beds),
		audit.NewHandler(a.Auditor),
		report.NewHandler(a.Reports),
	}
	checks := map[string]health.Pinger{
		"postgres": a.DB,
		"redis":    health.PingFunc(a.PingRedis),
	}

	r := router.NewRouter(
		middleware.NewAuthMiddleware(cfg.JWT),
		middleware.NewHTTPMetrics(a.Registry, "referral"),
		health.NewHandler(checks, a.Registry),
		handlers,
		router.RouterConfig{
			RequestTimeout: cfg.Server.WriteTimeout,
			RateLimit:      cfg.RateLimit,
			Security:       cfg.Security,
			Release:        cfg.IsProduction(),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Outbox claims are row-locked, so this relay may run beside the worker's.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	relay := worker.NewOutboxProcessor(a.Outbox, a.Deliverer(), worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
		StaleAfter:    cfg.Outbox.StaleAfter,
		RetainFor:     cfg.Outbox.RetainFor,
	}, logger, a.Metrics)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Start(ctx)
	}()

	// Start server
	go func() {
		logger.Info("Starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Server forced to shutdown")
	}
	stop()
	<-relayDone

	logger.Info("Server exited properly")
}
