package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmowery/farewatch/internal/api"
	"github.com/kmowery/farewatch/internal/config"
	"github.com/kmowery/farewatch/internal/fares"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/notify"
	"github.com/kmowery/farewatch/internal/repository"
	"github.com/kmowery/farewatch/internal/scheduler"
	"github.com/kmowery/farewatch/internal/storage"
)

// drainWait bounds how long shutdown waits for in-flight checks.
const drainWait = 30 * time.Second

func main() {
	// Initialize logger from environment (rotation, format, level)
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	tripRepo := repository.NewTripRepository(db)
	jobRepo := repository.NewJobRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Fare lookup client
	fareClient := fares.NewClient(&fares.Config{
		BaseURL:  cfg.Fares.BaseURL,
		APIKey:   cfg.Fares.APIKey,
		Currency: cfg.Fares.Currency,
	})

	// Alert delivery
	var notifier notify.Notifier
	if cfg.Alerts.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Alerts.WebhookURL)
	} else {
		appLogger.Warn("No alert webhook configured, alerts will only be logged")
		notifier = notify.LogNotifier{}
	}

	// Optional job-record archival
	var archive storage.ObjectStore
	if cfg.Archive.Enabled {
		s3Store, err := storage.NewS3Store(&storage.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize archive storage")
		}
		if err := s3Store.EnsureBucket(context.Background()); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure archive bucket")
		}
		archive = s3Store
	}

	sched, gateway := buildScheduler(cfg, tripRepo, jobRepo, alertRepo, fareClient, notifier, archive, appLogger)

	if err := sched.Start(); err != nil {
		appLogger.WithError(err).Fatal("Failed to start scheduler")
	}

	// Setup router
	router := api.SetupRouter(sched, gateway, tripRepo, alertRepo, jobRepo, cfg, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	// Stop admitting ticks, drain in-flight checks
	sched.Stop()

	// Graceful HTTP shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

// buildScheduler wires the scheduling core from configuration.
func buildScheduler(
	cfg *config.Config,
	tripRepo *repository.TripRepository,
	jobRepo *repository.JobRepository,
	alertRepo *repository.AlertRepository,
	fareClient fares.Source,
	notifier notify.Notifier,
	archive storage.ObjectStore,
	log *logger.Logger,
) (*scheduler.Scheduler, *scheduler.TriggerGateway) {
	loc := cfg.Checker.Location()

	checker := scheduler.NewChecker(tripRepo, alertRepo, fareClient, notifier, log, scheduler.CheckerSettings{
		DefaultInterval:  time.Duration(cfg.Checker.DefaultIntervalMinutes) * time.Minute,
		MinInterval:      time.Duration(cfg.Checker.MinIntervalMinutes) * time.Minute,
		MaxInterval:      time.Duration(cfg.Checker.MaxIntervalMinutes) * time.Minute,
		CheckTimeout:     time.Duration(cfg.Checker.CheckTimeoutSeconds) * time.Second,
		SegmentDelay:     time.Duration(cfg.Checker.SegmentDelayMs) * time.Millisecond,
		LeaseTTL:         time.Duration(cfg.Checker.LeaseTTLMinutes) * time.Minute,
		ThresholdUSD:     cfg.Alerts.ThresholdUSD,
		ThresholdPercent: cfg.Alerts.ThresholdPercent,
		DailyCapPerUser:  cfg.Alerts.DailyCapPerUser,
		Location:         loc,
	})

	dispatcher := scheduler.NewDispatcher(tripRepo, checker, log, cfg.Checker.ConcurrentTrips, loc)

	processor := scheduler.NewJobProcessor(jobRepo, tripRepo, checker, log,
		cfg.Trigger.JobBatchSize,
		time.Duration(cfg.Checker.SegmentDelayMs)*time.Millisecond,
	)

	gateway := scheduler.NewTriggerGateway(jobRepo, log,
		cfg.Trigger.Enabled,
		time.Duration(cfg.Trigger.CooldownMinutes)*time.Minute,
	)

	maintenance := scheduler.NewMaintenance(jobRepo, tripRepo, alertRepo, archive, log, scheduler.MaintenanceSettings{
		JobRetention:      time.Duration(cfg.Retention.JobDays) * 24 * time.Hour,
		AlertRetention:    time.Duration(cfg.Retention.AlertDays) * 24 * time.Hour,
		FailureResetAfter: time.Duration(cfg.Maintenance.FailureResetDays) * 24 * time.Hour,
		Schedule:          cfg.Maintenance.Schedule,
	})

	sched := scheduler.New(dispatcher, processor, maintenance, gateway, log,
		time.Duration(cfg.Checker.DispatchEveryMinutes)*time.Minute,
		drainWait,
	)

	return sched, gateway
}
