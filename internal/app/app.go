// Package app wires the donation services from a Config. The server, the
// worker and the CLI all build the same graph through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"meauxbility_api/internal/config"
	"meauxbility_api/internal/donations"
	"meauxbility_api/internal/services"
	"meauxbility_api/internal/tasks"
	"meauxbility_api/internal/telemetry"
)

// reservations in Redis only need to outlive client retries; the ledger's
// unique index covers anything later
const redisReservationTTL = 24 * time.Hour

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	DB      *gorm.DB
	Redis   *services.Redis // nil without REDIS_URL

	Ledger     *donations.GormLedger
	Events     *donations.GormEventLog
	Mailer     donations.Mailer
	Intake     *donations.IntakeService
	Reconciler *donations.Reconciler
	Dispatcher *donations.Dispatcher
	Sweeper    *donations.Sweeper

	Tasks  *tasks.Registry
	Runner *tasks.Runner

	kafka *kafka.Writer
}

// New connects to the database (and Redis and Kafka when configured) and
// builds every service. reg may be nil to skip metrics.
func New(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if reg != nil {
		a.Metrics = telemetry.NewMetrics(reg)
	}

	db, err := services.InitDB(cfg.DatabaseURL, log, cfg.IsProduction())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if cfg.RedisURL != "" {
		r, err := services.NewRedis(cfg.RedisURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = r
	} else {
		log.Warn("REDIS_URL not set, idempotency reservations use the database and intake is not rate limited")
	}

	ledgerOpts := []donations.LedgerOption{donations.WithLedgerMetrics(a.Metrics)}
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = services.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		ledgerOpts = append(ledgerOpts, donations.WithPublisher(services.NewKafkaPublisher(a.kafka)))
	}
	a.Ledger = donations.NewGormLedger(db, log, ledgerOpts...)
	a.Events = donations.NewGormEventLog(db)

	mailer, err := services.NewMailer(cfg, log)
	if err != nil {
		return nil, err
	}
	a.Mailer = mailer

	org := donations.Organization{Name: cfg.OrganizationName, EIN: cfg.OrganizationEIN}
	gateway := services.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeWebhookTolerance, cfg.MinAmountMinorUnits)

	var store donations.IdempotencyStore = donations.NewGormReservations(db)
	if a.Redis != nil {
		store = donations.NewRedisReservations(a.Redis.Client(), redisReservationTTL)
	}

	a.Intake = donations.NewIntakeService(donations.IntakeDeps{
		Ledger:  a.Ledger,
		Store:   store,
		Gateway: gateway,
		Limits: donations.Limits{
			MinAmountMinorUnits: cfg.MinAmountMinorUnits,
			Currencies:          cfg.AllowedCurrencies,
		},
		Org:     org,
		Logger:  log.Named("intake"),
		Metrics: a.Metrics,
	})

	dispatcherDeps := donations.DispatcherDeps{
		Ledger:     a.Ledger,
		Mailer:     mailer,
		StaffEmail: cfg.StaffEmail,
		Org:        org,
		ClaimLease: cfg.ReceiptClaimLease,
		Logger:     log.Named("notify"),
		Metrics:    a.Metrics,
	}
	if cfg.WahaStaffChatID != "" {
		dispatcherDeps.StaffChat = services.NewWahaService(cfg.WahaBaseURL, cfg.WahaAPIKey, cfg.WahaStaffChatID)
	}
	a.Dispatcher = donations.NewDispatcher(dispatcherDeps)

	a.Reconciler = donations.NewReconciler(donations.ReconcilerDeps{
		Gateway:             gateway,
		Ledger:              a.Ledger,
		Events:              a.Events,
		Notifier:            a.Dispatcher,
		DeadLetterThreshold: cfg.DeadLetterThreshold,
		Logger:              log.Named("reconcile"),
		Metrics:             a.Metrics,
	})

	a.Sweeper = donations.NewSweeper(donations.SweeperDeps{
		Ledger:  a.Ledger,
		Window:  cfg.SweepWindow,
		Grace:   cfg.CreatedGrace,
		Logger:  log.Named("sweep"),
		Metrics: a.Metrics,
	})

	a.Tasks = tasks.NewRegistry()
	tasks.DefineTasks(a.Tasks, tasks.Deps{
		Sweeper:       a.Sweeper,
		Backfiller:    a.Dispatcher,
		BackfillDelay: cfg.ReceiptBackfillDelay,
	})
	a.Runner = tasks.NewRunner(db, a.Tasks, log.Named("tasks"))

	return a, nil
}

// Migrate creates or updates every table
func (a *App) Migrate() error {
	return services.AutoMigrate(a.DB, a.Logger)
}

// Close waits for in-flight notifications and releases connections
func (a *App) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.Dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Logger.Warn("gave up waiting for notifications", zap.Error(ctx.Err()))
	}

	var errs []error
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
