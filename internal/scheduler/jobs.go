package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
)

// JobProcessor polls the job queue for pending manual and user-triggered
// checks and executes them ahead of the automatic loop.
type JobProcessor struct {
	jobs    *repository.JobRepository
	trips   *repository.TripRepository
	checker *Checker
	logger  *logger.Logger
	batch   int

	// Delay between trips within one user_trigger job, to respect the
	// upstream rate limit.
	interTripDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewJobProcessor creates the manual job queue processor.
func NewJobProcessor(
	jobs *repository.JobRepository,
	trips *repository.TripRepository,
	checker *Checker,
	log *logger.Logger,
	batch int,
	interTripDelay time.Duration,
) *JobProcessor {
	if batch < 1 {
		batch = 1
	}
	return &JobProcessor{
		jobs:           jobs,
		trips:          trips,
		checker:        checker,
		logger:         log,
		batch:          batch,
		interTripDelay: interTripDelay,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// Tick processes one batch of pending jobs, highest priority first. A
// failure in one job does not abort the rest of the batch; failed jobs are
// terminal and never re-queued.
func (p *JobProcessor) Tick(ctx context.Context) error {
	pending, err := p.jobs.FetchPending(ctx, p.batch)
	if err != nil {
		return err
	}

	for i := range pending {
		job := pending[i]

		claimed, err := p.jobs.MarkProcessing(ctx, job.ID, p.now())
		if err != nil {
			p.logger.WithError(err).WithField(logger.FieldJobID, job.ID).Error("Failed to claim job")
			continue
		}
		if !claimed {
			continue
		}

		jobCtx := logger.WithFields(ctx, logger.Fields{
			logger.FieldJobID:     job.ID,
			logger.FieldComponent: "job-processor",
		})

		result, execErr := p.execute(jobCtx, &job)
		if execErr != nil {
			logger.CtxWarn(jobCtx, "Job failed: %v", execErr)
			if err := p.jobs.MarkFailed(ctx, job.ID, execErr.Error()); err != nil {
				p.logger.WithError(err).WithField(logger.FieldJobID, job.ID).Error("Failed to mark job failed")
			}
			continue
		}

		if err := p.jobs.MarkCompleted(ctx, job.ID, result); err != nil {
			p.logger.WithError(err).WithField(logger.FieldJobID, job.ID).Error("Failed to mark job completed")
		}
	}

	return nil
}

// execute dispatches on the job kind.
func (p *JobProcessor) execute(ctx context.Context, job *domain.CheckJob) (string, error) {
	switch job.Kind {
	case domain.JobKindManualCheck:
		return p.runManualCheck(ctx, job.TripID)
	case domain.JobKindUserTrigger:
		return p.runUserTrigger(ctx, job.UserEmail)
	default:
		return "", fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// runManualCheck re-checks a single trip.
func (p *JobProcessor) runManualCheck(ctx context.Context, tripID string) (string, error) {
	trip, err := p.trips.GetByID(ctx, tripID)
	if err != nil {
		return "", fmt.Errorf("load trip %s: %w", tripID, err)
	}

	result, err := p.checker.ExecuteLeased(ctx, trip)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("checked: price %.2f, savings %.2f", result.CurrentPrice, result.Savings), nil
}

// runUserTrigger re-checks every active trip of one user, sequentially
// with an inter-trip delay, and aggregates the per-trip outcomes. Trips
// whose lease is held elsewhere are skipped, not counted as failures.
func (p *JobProcessor) runUserTrigger(ctx context.Context, userEmail string) (string, error) {
	trips, err := p.trips.ListActiveByUser(ctx, userEmail)
	if err != nil {
		return "", fmt.Errorf("list trips for %s: %w", userEmail, err)
	}
	if len(trips) == 0 {
		return "no active trips", nil
	}

	var checked, failed, skipped int
	for i := range trips {
		if i > 0 && p.interTripDelay > 0 {
			if err := p.sleep(ctx, p.interTripDelay); err != nil {
				return "", err
			}
		}

		_, err := p.checker.ExecuteLeased(ctx, &trips[i])
		switch {
		case errors.Is(err, ErrLeaseHeld):
			skipped++
		case err != nil:
			failed++
		default:
			checked++
		}
	}

	return fmt.Sprintf("trips: %d checked, %d failed, %d skipped", checked, failed, skipped), nil
}
