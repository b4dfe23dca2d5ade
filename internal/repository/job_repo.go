package repository

import (
	"context"
	"time"

	"github.com/kmowery/farewatch/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles queued check job operations.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a pending job after validating its payload.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if validation or the insert fails.
func (r *JobRepository) Enqueue(ctx context.Context, job *domain.CheckJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.CheckJob: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.CheckJob, error) {
	var job domain.CheckJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FetchPending retrieves the next batch of pending jobs, highest priority
// first, oldest first within a priority.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: maximum number of jobs to return.
// Returns:
//   - []domain.CheckJob: pending jobs in processing order.
//   - error: non-nil if the query fails.
func (r *JobRepository) FetchPending(ctx context.Context, batch int) ([]domain.CheckJob, error) {
	var jobs []domain.CheckJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.JobStatusPending).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(batch).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkProcessing claims a pending job. The status guard makes the claim
// a no-op when another processor got there first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job to claim.
//   - startedAt: processing start timestamp.
// Returns:
//   - bool: true if this caller claimed the job.
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.CheckJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusProcessing,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted records a successful job outcome.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job to complete.
//   - result: human-readable outcome summary.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkCompleted(ctx context.Context, id, result string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&domain.CheckJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusCompleted,
			"result":       result,
			"completed_at": now,
		}).Error
}

// MarkFailed records a terminal job failure. Failed jobs are never
// re-queued; a new job must be submitted.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job that failed.
//   - jobErr: error message to record.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkFailed(ctx context.Context, id, jobErr string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&domain.CheckJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":    domain.JobStatusFailed,
			"error":     jobErr,
			"failed_at": now,
		}).Error
}

// ListTerminalBefore retrieves completed and failed jobs created before the
// cutoff, for archival ahead of the retention sweep.
func (r *JobRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.CheckJob, error) {
	var jobs []domain.CheckJob
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed}).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteTerminalBefore deletes completed and failed jobs created before the
// cutoff.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cutoff: retention cutoff.
// Returns:
//   - int64: number of jobs deleted.
//   - error: non-nil if the delete fails.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed}).
		Where("created_at < ?", cutoff).
		Delete(&domain.CheckJob{})
	return res.RowsAffected, res.Error
}

// CountByStatus returns the number of jobs in the given status.
func (r *JobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.CheckJob{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
