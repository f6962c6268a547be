// Package app assembles repositories, services and their infrastructure from
// configuration. Both the API server and the worker binary build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/email"
	"github.com/jwalitptl/referral-api/internal/livecache"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/repository/postgres"
	"github.com/jwalitptl/referral-api/internal/routing"
	"github.com/jwalitptl/referral-api/internal/service/appointment"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/internal/service/bed"
	"github.com/jwalitptl/referral-api/internal/service/dispatch"
	"github.com/jwalitptl/referral-api/internal/service/equipment"
	"github.com/jwalitptl/referral-api/internal/service/fleet"
	"github.com/jwalitptl/referral-api/internal/service/notification"
	"github.com/jwalitptl/referral-api/internal/service/referral"
	"github.com/jwalitptl/referral-api/internal/service/report"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/messaging"
	"github.com/jwalitptl/referral-api/pkg/messaging/redis"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

const metricsNamespace = "referral"

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *sqlx.DB
	Redis    *goredis.Client
	Broker   messaging.Broker
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Ambulances repository.AmbulanceRepository
	AuditLogs  repository.AuditRepository
	Outbox     repository.OutboxRepository
	Contacts   repository.ContactRepository

	Auditor      *audit.Service
	Referrals    *referral.Service
	Dispatches   *dispatch.Service
	Fleet        *fleet.Service
	Appointments *appointment.Service
	Equipment    *equipment.Service
	Beds         *bed.Service
	Reports      *report.Service
}

// NewLogger builds the process logger from the logging section and installs
// it as the zerolog global.
func NewLogger(cfg config.LoggingConfig) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Format == "json",
	})
	logger.SetGlobal(l)
	return l
}

// New connects to Postgres and Redis and wires every service. subsystem
// labels the domain metrics ("api" or "worker").
func New(cfg *config.Config, log *logger.Logger, subsystem string) (*App, error) {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	rdb, err := redis.NewClient(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	live, err := livecache.New(cfg.LiveCache, rdb)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegisterer(reg, metricsNamespace, subsystem)

	a := &App{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Redis:    rdb,
		Broker:   redis.NewRedisBroker(rdb, log.Zerolog()),
		Registry: reg,
		Metrics:  m,

		Ambulances: postgres.NewAmbulanceRepository(db),
		AuditLogs:  postgres.NewAuditRepository(db),
		Outbox:     postgres.NewOutboxRepository(db),
		Contacts:   postgres.NewContactRepository(db),
	}

	tx := postgres.NewTransactor(db)
	refs := postgres.NewReferenceChecker(db)
	referrals := postgres.NewReferralRepository(db)
	dispatches := postgres.NewDispatchRepository(db)

	a.Auditor = audit.NewService(a.AuditLogs, log)
	guard := authz.NewGuard(authz.NewPolicy(), a.Auditor)
	notifier := notification.NewService(a.Outbox, log)

	a.Beds = bed.NewService(bed.Deps{
		Tx:             tx,
		Beds:           postgres.NewBedRepository(db),
		Referrals:      referrals,
		Refs:           refs,
		Guard:          guard,
		Auditor:        a.Auditor,
		Metrics:        m,
		Logger:         log,
		ReservationTTL: cfg.Beds.ReservationTTL,
	})
	a.Referrals = referral.NewService(referral.Deps{
		Tx:        tx,
		Referrals: referrals,
		Refs:      refs,
		Beds:      a.Beds,
		Guard:     guard,
		Auditor:   a.Auditor,
		Notifier:  notifier,
		Metrics:   m,
		Logger:    log,
	})
	a.Fleet = fleet.NewService(fleet.Deps{
		Tx:         tx,
		Ambulances: a.Ambulances,
		Dispatches: dispatches,
		Refs:       refs,
		Guard:      guard,
		Auditor:    a.Auditor,
		Logger:     log,
	})
	a.Dispatches = dispatch.NewService(dispatch.Deps{
		Tx:              tx,
		Dispatches:      dispatches,
		Ambulances:      a.Ambulances,
		Referrals:       referrals,
		Tracker:         a.Referrals,
		Routes:          routing.NewClient(cfg.Routing, m, *log.Zerolog()),
		Live:            live,
		Guard:           guard,
		Auditor:         a.Auditor,
		Notifier:        notifier,
		Metrics:         m,
		Logger:          log,
		ProgressTTL:     cfg.LiveCache.TTL,
		SuggestionLimit: cfg.Routing.SuggestionLimit,
	})
	a.Appointments = appointment.NewService(appointment.Deps{
		Tx:                 tx,
		Appointments:       postgres.NewAppointmentRepository(db),
		Referrals:          referrals,
		Refs:               refs,
		Guard:              guard,
		Auditor:            a.Auditor,
		Notifier:           notifier,
		Metrics:            m,
		Logger:             log,
		CancellationCutoff: cfg.Appointments.CancellationCutoff,
	})
	a.Equipment = equipment.NewService(equipment.Deps{
		Tx:          tx,
		Equipment:   postgres.NewEquipmentRepository(db),
		Maintenance: postgres.NewMaintenanceRepository(db),
		Refs:        refs,
		Guard:       guard,
		Auditor:     a.Auditor,
		Notifier:    notifier,
		Metrics:     m,
		Logger:      log,
	})
	a.Reports = report.NewService(a.Referrals)

	return a, nil
}

// Deliverer enables every notification channel the configuration provides.
func (a *App) Deliverer() *notification.Deliverer {
	n := a.Config.Notifications
	d := notification.NewDeliverer(a.Contacts, a.Logger)
	if n.SMTP.Host != "" {
		d.Register(model.ChannelEmail, notification.NewEmailSender(email.NewSMTPService(n.SMTP)))
	}
	if n.WhatsApp.Enabled {
		d.Register(model.ChannelWhatsApp, notification.NewWhatsAppSender(n.WhatsApp))
	}
	if n.SMS.Enabled {
		d.Register(model.ChannelSMS, notification.NewSMSSender(n.SMS))
	}
	if n.InAppChannel != "" {
		d.Register(model.ChannelInApp, notification.NewInAppSender(a.Broker, n.InAppChannel))
	}
	return d
}

// PingRedis adapts the Redis client to the readiness check.
func (a *App) PingRedis(ctx context.Context) error {
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if err := a.Broker.Close(); err != nil {
		a.Logger.Warn(err, "Failed to close broker")
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn(err, "Failed to close database")
	}
}
