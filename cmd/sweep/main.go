package main

import (
	"context"
	"flag"
	"time"

	"github.com/kmowery/farewatch/internal/config"
	"github.com/kmowery/farewatch/internal/fares"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/notify"
	"github.com/kmowery/farewatch/internal/repository"
	"github.com/kmowery/farewatch/internal/scheduler"
)

// sweep runs a single manual-jobs-then-dispatch pass and exits. Useful for
// cron-style deployments and local debugging.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "farewatch-sweep",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	runMaintenance := flag.Bool("maintenance", false, "Also run the maintenance sweep")
	drainWait := flag.Duration("drain", 5*time.Minute, "Maximum wait for launched checks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	tripRepo := repository.NewTripRepository(db)
	jobRepo := repository.NewJobRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	fareClient := fares.NewClient(&fares.Config{
		BaseURL:  cfg.Fares.BaseURL,
		APIKey:   cfg.Fares.APIKey,
		Currency: cfg.Fares.Currency,
	})

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Alerts.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Alerts.WebhookURL)
	}

	loc := cfg.Checker.Location()

	checker := scheduler.NewChecker(tripRepo, alertRepo, fareClient, notifier, appLogger, scheduler.CheckerSettings{
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

	dispatcher := scheduler.NewDispatcher(tripRepo, checker, appLogger, cfg.Checker.ConcurrentTrips, loc)
	processor := scheduler.NewJobProcessor(jobRepo, tripRepo, checker, appLogger,
		cfg.Trigger.JobBatchSize,
		time.Duration(cfg.Checker.SegmentDelayMs)*time.Millisecond,
	)
	gateway := scheduler.NewTriggerGateway(jobRepo, appLogger, cfg.Trigger.Enabled,
		time.Duration(cfg.Trigger.CooldownMinutes)*time.Minute)

	sched := scheduler.New(dispatcher, processor, nil, gateway, appLogger,
		time.Duration(cfg.Checker.DispatchEveryMinutes)*time.Minute, *drainWait)

	ctx := context.Background()

	appLogger.Info("Running one check pass")
	sched.RunOnce(ctx)

	if *runMaintenance {
		maintenance := scheduler.NewMaintenance(jobRepo, tripRepo, alertRepo, nil, appLogger, scheduler.MaintenanceSettings{
			JobRetention:      time.Duration(cfg.Retention.JobDays) * 24 * time.Hour,
			AlertRetention:    time.Duration(cfg.Retention.AlertDays) * 24 * time.Hour,
			FailureResetAfter: time.Duration(cfg.Maintenance.FailureResetDays) * 24 * time.Hour,
			Schedule:          cfg.Maintenance.Schedule,
		})
		appLogger.Info("Running maintenance sweep")
		maintenance.RunOnce(ctx)
	}

	appLogger.Info("Sweep finished")
}
