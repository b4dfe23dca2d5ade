package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
)

// ErrTriggersDisabled means manual triggers are globally switched off.
var ErrTriggersDisabled = errors.New("manual triggers are disabled")

// CooldownError rejects a user trigger submitted before the per-user
// cooldown window elapsed. Remaining is how long the caller must wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("trigger cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// TriggerGateway is the only entry point for user-initiated checks. It
// enforces the global enable flag and the per-user cooldown before
// admitting a job to the queue.
//
// The cooldown ledger is process-local and rebuilt empty on restart, so a
// restart (or a second instance) admits a trigger the window would
// otherwise reject.
type TriggerGateway struct {
	jobs     *repository.JobRepository
	logger   *logger.Logger
	cooldown time.Duration

	mu          sync.Mutex
	enabled     bool
	lastTrigger map[string]time.Time

	now func() time.Time
}

// NewTriggerGateway creates the manual trigger gateway.
func NewTriggerGateway(jobs *repository.JobRepository, log *logger.Logger, enabled bool, cooldown time.Duration) *TriggerGateway {
	return &TriggerGateway{
		jobs:        jobs,
		logger:      log,
		cooldown:    cooldown,
		enabled:     enabled,
		lastTrigger: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Enabled reports whether manual triggers are currently admitted.
func (g *TriggerGateway) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// SetEnabled toggles the global manual-trigger flag.
func (g *TriggerGateway) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
	g.logger.WithField("enabled", enabled).Info("Manual triggers toggled")
}

// QueueManualCheck admits a single-trip check job. Manual checks are not
// subject to the per-user cooldown.
func (g *TriggerGateway) QueueManualCheck(ctx context.Context, tripID string) (*domain.CheckJob, error) {
	if !g.Enabled() {
		return nil, ErrTriggersDisabled
	}

	job, err := domain.NewManualCheckJob(tripID)
	if err != nil {
		return nil, err
	}
	if err := g.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue manual check: %w", err)
	}

	logger.CtxInfo(ctx, "Queued manual check: job_id=%s trip_id=%s", job.ID, tripID)
	return job, nil
}

// QueueUserTrigger admits an all-trips check job for one user, enforcing
// the cooldown window. The ledger entry is written before the job is
// persisted; a failed insert does not refund the cooldown.
func (g *TriggerGateway) QueueUserTrigger(ctx context.Context, userEmail string) (*domain.CheckJob, error) {
	if userEmail == "" {
		return nil, domain.ErrJobMissingUser
	}

	g.mu.Lock()
	if !g.enabled {
		g.mu.Unlock()
		return nil, ErrTriggersDisabled
	}
	now := g.now()
	if last, ok := g.lastTrigger[userEmail]; ok {
		if elapsed := now.Sub(last); elapsed < g.cooldown {
			g.mu.Unlock()
			return nil, &CooldownError{Remaining: g.cooldown - elapsed}
		}
	}
	g.lastTrigger[userEmail] = now
	g.mu.Unlock()

	job, err := domain.NewUserTriggerJob(userEmail)
	if err != nil {
		return nil, err
	}
	if err := g.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue user trigger: %w", err)
	}

	logger.CtxInfo(ctx, "Queued user trigger: job_id=%s user=%s", job.ID, userEmail)
	return job, nil
}

// LastTriggers returns a copy of the per-user last-trigger ledger.
func (g *TriggerGateway) LastTriggers() map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]time.Time, len(g.lastTrigger))
	for k, v := range g.lastTrigger {
		out[k] = v
	}
	return out
}
