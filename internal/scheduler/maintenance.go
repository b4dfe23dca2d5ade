package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
	"github.com/kmowery/farewatch/internal/storage"
	"github.com/robfig/cron/v3"
)

// archiveBatchLimit bounds how many expired jobs one sweep exports.
const archiveBatchLimit = 1000

// MaintenanceSettings holds the retention windows.
type MaintenanceSettings struct {
	JobRetention      time.Duration
	AlertRetention    time.Duration
	FailureResetAfter time.Duration
	Schedule          string // cron expression
}

// Maintenance runs the low-frequency cleanup jobs: retention deletion of
// terminal job records (optionally archived to object storage first),
// alert ledger pruning, and clearing of stale trip failure metadata.
// Everything here is best-effort: failures are logged and swallowed.
type Maintenance struct {
	jobs     *repository.JobRepository
	trips    *repository.TripRepository
	alerts   *repository.AlertRepository
	archive  storage.ObjectStore // nil disables archival
	logger   *logger.Logger
	settings MaintenanceSettings

	cron *cron.Cron
	now  func() time.Time
}

// NewMaintenance creates the maintenance runner.
func NewMaintenance(
	jobs *repository.JobRepository,
	trips *repository.TripRepository,
	alerts *repository.AlertRepository,
	archive storage.ObjectStore,
	log *logger.Logger,
	settings MaintenanceSettings,
) *Maintenance {
	return &Maintenance{
		jobs:     jobs,
		trips:    trips,
		alerts:   alerts,
		archive:  archive,
		logger:   log,
		settings: settings,
		now:      time.Now,
	}
}

// Start schedules the daily sweep.
func (m *Maintenance) Start() error {
	m.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := m.cron.AddFunc(m.settings.Schedule, func() {
		m.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	m.cron.Start()
	m.logger.WithField("schedule", m.settings.Schedule).Info("Maintenance schedule started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// RunOnce executes one full maintenance sweep.
func (m *Maintenance) RunOnce(ctx context.Context) {
	now := m.now()

	m.sweepJobs(ctx, now)
	m.sweepAlerts(ctx, now)
	m.resetStaleFailures(ctx, now)
}

// sweepJobs archives (when configured) and deletes terminal job records
// past the retention window.
func (m *Maintenance) sweepJobs(ctx context.Context, now time.Time) {
	cutoff := now.Add(-m.settings.JobRetention)

	if m.archive != nil {
		m.archiveJobs(ctx, cutoff)
	}

	deleted, err := m.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		m.logger.WithError(err).Error("Job retention sweep failed")
		return
	}
	if deleted > 0 {
		m.logger.WithField(logger.FieldCount, deleted).Info("Deleted expired job records")
	}
}

// archiveJobs exports expired terminal jobs as JSON objects before the
// sweep deletes them.
func (m *Maintenance) archiveJobs(ctx context.Context, cutoff time.Time) {
	expired, err := m.jobs.ListTerminalBefore(ctx, cutoff, archiveBatchLimit)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to list jobs for archival")
		return
	}

	for i := range expired {
		job := expired[i]
		body, err := json.Marshal(job)
		if err != nil {
			m.logger.WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to marshal job for archival")
			continue
		}
		key := fmt.Sprintf("jobs/%s/%s.json", job.CreatedAt.UTC().Format("2006/01"), job.ID)
		if err := m.archive.Put(ctx, key, body, "application/json"); err != nil {
			m.logger.WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to archive job record")
		}
	}
}

// sweepAlerts prunes the alert ledger past its retention window.
func (m *Maintenance) sweepAlerts(ctx context.Context, now time.Time) {
	deleted, err := m.alerts.DeleteBefore(ctx, now.Add(-m.settings.AlertRetention))
	if err != nil {
		m.logger.WithError(err).Error("Alert retention sweep failed")
		return
	}
	if deleted > 0 {
		m.logger.WithField(logger.FieldCount, deleted).Info("Deleted expired alert records")
	}
}

// resetStaleFailures clears failure metadata older than the reset window
// so an old transient failure does not depress a trip's cadence forever.
// The trip's next check time is left as-is.
func (m *Maintenance) resetStaleFailures(ctx context.Context, now time.Time) {
	cleared, err := m.trips.ResetStaleFailures(ctx, now.Add(-m.settings.FailureResetAfter))
	if err != nil {
		m.logger.WithError(err).Error("Stale failure reset failed")
		return
	}
	if cleared > 0 {
		m.logger.WithField(logger.FieldCount, cleared).Info("Cleared stale trip failure metadata")
	}
}
