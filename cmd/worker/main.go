package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/referral-api/internal/app"
	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/middleware"
	"github.com/jwalitptl/referral-api/internal/telemetry"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/worker"
)

var (
	configPath string
	healthAddr string
	once       bool
)

// job is one background loop. start blocks until ctx is cancelled.
type job struct {
	name  string
	start func(ctx context.Context, a *app.App) error
}

var jobs = map[string]job{
	"outbox": {"outbox", func(ctx context.Context, a *app.App) error {
		cfg := a.Config.Outbox
		p := worker.NewOutboxProcessor(a.Outbox, a.Deliverer(), worker.OutboxProcessorConfig{
			BatchSize:     cfg.BatchSize,
			PollInterval:  cfg.PollInterval,
			RetryAttempts: cfg.RetryAttempts,
			RetryDelay:    cfg.RetryDelay,
			StaleAfter:    cfg.StaleAfter,
			RetainFor:     cfg.RetainFor,
		}, a.Logger, a.Metrics)
		if once {
			n, err := p.ProcessBatch(ctx)
			a.Logger.Info("Processed outbox batch", "delivered", n)
			return err
		}
		p.Start(ctx)
		return nil
	}},
	"reservations": {"reservations", func(ctx context.Context, a *app.App) error {
		s := worker.NewReservationSweeper(a.Beds, a.Config.Reservations.SweepInterval, a.Logger)
		if once {
			n, err := s.RunOnce(ctx)
			a.Logger.Info("Expired bed reservations", "count", n)
			return err
		}
		s.Start(ctx)
		return nil
	}},
	"audit-cleanup": {"audit-cleanup", func(ctx context.Context, a *app.App) error {
		cfg := a.Config.Audit
		w := worker.NewAuditCleanupWorker(a.AuditLogs, cfg.RetentionDays, cfg.CleanupInterval, a.Logger, a.Metrics)
		if once {
			n, err := w.RunOnce(ctx)
			a.Logger.Info("Purged audit entries", "count", n)
			return err
		}
		w.Start(ctx)
		return nil
	}},
	"telemetry": {"telemetry", func(ctx context.Context, a *app.App) error {
		if a.Config.Telemetry.Broker == "" {
			return fmt.Errorf("telemetry.broker is not configured")
		}
		ingest := telemetry.NewIngestor(a.Ambulances, a.Fleet, a.Dispatches, a.Logger)
		return telemetry.NewSubscriber(a.Config.Telemetry, a.Logger).Run(ctx, ingest)
	}},
}

func main() {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Background jobs for the referral and dispatch API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yml")
	root.PersistentFlags().StringVar(&healthAddr, "health-addr", ":8081", "address for health and metrics; empty disables")

	for _, name := range []string{"outbox", "reservations", "audit-cleanup", "telemetry"} {
		j := jobs[name]
		cmd := &cobra.Command{
			Use:   j.name,
			Short: fmt.Sprintf("Run the %s loop", j.name),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), []job{j})
			},
		}
		if name != "telemetry" {
			cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
		}
		root.AddCommand(cmd)
	}

	root.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run every loop except telemetry in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), []job{jobs["outbox"], jobs["reservations"], jobs["audit-cleanup"]})
		},
	})
	root.AddCommand(issueTokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfig()
}

func run(ctx context.Context, selected []job) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l := app.NewLogger(cfg.Logging)

	a, err := app.New(cfg, l, "worker")
	if err != nil {
		return err
	}
	defer a.Close()

	if healthAddr != "" && !once {
		srv := setupHealthCheck(a, l)
		defer srv.Close()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, j := range selected {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			l.Info("Starting job", "job", j.name)
			if err := j.start(ctx, a); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()

	if len(errs) > 0 {
		return errs[0]
	}
	l.Info("Worker stopped")
	return nil
}

func setupHealthCheck(a *app.App, l *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.PingContext(ctx); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := a.PingRedis(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: healthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error(err, "Health check server failed")
		}
	}()
	return srv
}

// issueTokenCmd mints a bearer token for local testing and service accounts.
func issueTokenCmd() *cobra.Command {
	var (
		userID   string
		role     string
		facility string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a signed API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := authz.ParseRole(role)
			if err != nil {
				return err
			}
			uid := uuid.New()
			if userID != "" {
				if uid, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			var facilityID *uuid.UUID
			if facility != "" {
				id, err := uuid.Parse(facility)
				if err != nil {
					return fmt.Errorf("invalid --facility: %w", err)
				}
				facilityID = &id
			}

			token, err := middleware.NewAuthMiddleware(cfg.JWT).IssueToken(uid, r, facilityID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(authz.RoleAdmin), "role claim")
	cmd.Flags().StringVar(&facility, "facility", "", "facility id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
