package repository

import (
	"context"
	"time"

	"github.com/kmowery/farewatch/internal/domain"
	"gorm.io/gorm"
)

// TripRepository handles trip data operations.
type TripRepository struct {
	db *gorm.DB
}

// NewTripRepository creates a new TripRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TripRepository: repository instance bound to db.
func NewTripRepository(db *gorm.DB) *TripRepository {
	return &TripRepository{db: db}
}

// Create inserts a new trip record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - trip: trip record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	if len(trip.Segments) > 0 {
		trip.FirstDepartureOn = trip.Segments[0].DepartureDate
	}
	return r.db.WithContext(ctx).Create(trip).Error
}

// GetByID retrieves a trip by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: trip ID.
// Returns:
//   - *domain.Trip: trip record if found.
//   - error: non-nil if lookup fails.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	var trip domain.Trip
	if err := r.db.WithContext(ctx).First(&trip, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &trip, nil
}

// ListByUser retrieves all non-archived trips belonging to a user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userEmail: owning user's email.
// Returns:
//   - []domain.Trip: matching trip records.
//   - error: non-nil if the query fails.
func (r *TripRepository) ListByUser(ctx context.Context, userEmail string) ([]domain.Trip, error) {
	var trips []domain.Trip
	if err := r.db.WithContext(ctx).
		Where("user_email = ?", userEmail).
		Where("status <> ?", domain.TripStatusArchived).
		Order("created_at DESC").
		Find(&trips).Error; err != nil {
		return nil, err
	}
	return trips, nil
}

// ListActiveByUser retrieves a user's trips that are eligible for checking,
// in creation order. Used by user_trigger jobs.
func (r *TripRepository) ListActiveByUser(ctx context.Context, userEmail string) ([]domain.Trip, error) {
	var trips []domain.Trip
	if err := r.db.WithContext(ctx).
		Where("user_email = ?", userEmail).
		Where("status = ?", domain.TripStatusActive).
		Where("check_enabled = ?", true).
		Order("created_at ASC").
		Find(&trips).Error; err != nil {
		return nil, err
	}
	return trips, nil
}

// FindDue retrieves trips eligible for an automatic check right now.
// A trip is due when it is active, has checks enabled, has an itinerary
// whose first segment departs today or later, and its next check time is
// unset or in the past. Results are ordered by priority, then oldest due
// first with never-scheduled trips ranked most overdue, then oldest
// checked first with never-checked trips ranked before checked ones.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: current time.
//   - today: date-only lower bound for the first segment, in DateLayout.
//   - limit: maximum number of trips to return.
// Returns:
//   - []domain.Trip: due trips in dispatch order.
//   - error: non-nil if the query fails.
func (r *TripRepository) FindDue(ctx context.Context, now time.Time, today string, limit int) ([]domain.Trip, error) {
	var trips []domain.Trip
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.TripStatusActive).
		Where("check_enabled = ?", true).
		Where("first_departure_on <> ''").
		Where("first_departure_on >= ?", today).
		Where("next_check_at IS NULL OR next_check_at <= ?", now).
		Order("priority DESC").
		Order("CASE WHEN next_check_at IS NULL THEN 0 ELSE 1 END").
		Order("next_check_at ASC").
		Order("CASE WHEN last_checked_at IS NULL THEN 0 ELSE 1 END").
		Order("last_checked_at ASC").
		Limit(limit).
		Find(&trips).Error; err != nil {
		return nil, err
	}
	return trips, nil
}

// AcquireLease attempts to take the check lease on a trip. The lease is
// granted when no lease is held or the held lease has expired.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tripID: trip to lease.
//   - token: caller's lease token.
//   - until: lease expiry.
//   - now: current time, used to judge stale leases.
// Returns:
//   - bool: true if the lease was acquired.
//   - error: non-nil if the update fails.
func (r *TripRepository) AcquireLease(ctx context.Context, tripID, token string, until, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Trip{}).
		Where("id = ?", tripID).
		Where("check_lease = '' OR check_lease IS NULL OR check_lease_until IS NULL OR check_lease_until < ?", now).
		Updates(map[string]interface{}{
			"check_lease":       token,
			"check_lease_until": until,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLease clears the check lease when held by the given token.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tripID: leased trip.
//   - token: lease token to release.
// Returns:
//   - error: non-nil if the update fails.
func (r *TripRepository) ReleaseLease(ctx context.Context, tripID, token string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Trip{}).
		Where("id = ? AND check_lease = ?", tripID, token).
		Updates(map[string]interface{}{
			"check_lease":       "",
			"check_lease_until": nil,
		}).Error
}

// RecordSuccess persists the outcome of a successful price check: price
// facts, history, the new schedule, and cleared failure metadata.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - trip: trip carrying the updated check fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *TripRepository) RecordSuccess(ctx context.Context, trip *domain.Trip) error {
	return r.db.WithContext(ctx).
		Model(trip).
		Select(
			"next_check_at",
			"last_checked_at",
			"last_checked_price",
			"price_history",
			"lowest_seen",
			"failure_count",
			"last_check_error",
			"last_check_error_at",
		).
		Updates(trip).Error
}

// RecordFailure increments the trip's consecutive failure count and
// reschedules it at the backed-off time.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tripID: trip that failed its check.
//   - checkErr: error message to record.
//   - nextCheckAt: backed-off next check time.
//   - now: failure timestamp.
// Returns:
//   - error: non-nil if the update fails.
func (r *TripRepository) RecordFailure(ctx context.Context, tripID, checkErr string, nextCheckAt, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Trip{}).
		Where("id = ?", tripID).
		Updates(map[string]interface{}{
			"failure_count":       gorm.Expr("failure_count + 1"),
			"next_check_at":       nextCheckAt,
			"last_check_error":    checkErr,
			"last_check_error_at": now,
		}).Error
}

// ResetStaleFailures clears failure metadata on trips whose last error is
// older than the cutoff. The next check time is left untouched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - before: failure age cutoff.
// Returns:
//   - int64: number of trips cleared.
//   - error: non-nil if the update fails.
func (r *TripRepository) ResetStaleFailures(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Trip{}).
		Where("failure_count > 0").
		Where("last_check_error_at IS NOT NULL AND last_check_error_at < ?", before).
		Updates(map[string]interface{}{
			"failure_count":       0,
			"last_check_error":    "",
			"last_check_error_at": nil,
		})
	return res.RowsAffected, res.Error
}
