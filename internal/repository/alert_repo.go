package repository

import (
	"context"
	"time"

	"github.com/kmowery/farewatch/internal/domain"
	"gorm.io/gorm"
)

// AlertRepository handles alert ledger operations.
type AlertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *AlertRepository: repository instance bound to db.
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Record inserts an alert record. Called whether or not the downstream
// send succeeded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: alert record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *AlertRepository) Record(ctx context.Context, rec *domain.AlertRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// CountForUserSince returns the number of alerts recorded for a user at or
// after the given instant. Used for the per-user daily cap.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userEmail: user to count alerts for.
//   - since: start of the counting window.
// Returns:
//   - int64: alert count.
//   - error: non-nil if the query fails.
func (r *AlertRepository) CountForUserSince(ctx context.Context, userEmail string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.AlertRecord{}).
		Where("user_email = ?", userEmail).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

// ListByTrip retrieves a trip's alerts, newest first.
func (r *AlertRepository) ListByTrip(ctx context.Context, tripID string, limit int) ([]domain.AlertRecord, error) {
	var recs []domain.AlertRecord
	if err := r.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteBefore deletes alert records created before the cutoff.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cutoff: retention cutoff.
// Returns:
//   - int64: number of records deleted.
//   - error: non-nil if the delete fails.
func (r *AlertRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.AlertRecord{})
	return res.RowsAffected, res.Error
}
