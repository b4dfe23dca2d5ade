package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/fares"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/notify"
	"github.com/kmowery/farewatch/internal/repository"
)

// ErrLeaseHeld means another executor currently owns the trip's check lease.
var ErrLeaseHeld = errors.New("trip check already in progress")

// Backoff policy for consecutive check failures: 30 minutes doubled per
// prior failure, capped at 120 minutes.
const (
	baseBackoffMinutes = 30
	maxBackoffMinutes  = 120
)

// BackoffMinutes returns the retry delay after a failure, given the number
// of consecutive failures before this one.
func BackoffMinutes(priorFailures int) int {
	if priorFailures < 0 {
		priorFailures = 0
	}
	if priorFailures >= 2 {
		return maxBackoffMinutes
	}
	return baseBackoffMinutes << priorFailures
}

// CheckResult is the outcome of one successful trip price check.
type CheckResult struct {
	CurrentPrice float64
	Source       string
	Savings      float64
	Alerted      bool
}

// CheckerSettings holds the executor's policy knobs.
type CheckerSettings struct {
	DefaultInterval  time.Duration
	MinInterval      time.Duration
	MaxInterval      time.Duration
	CheckTimeout     time.Duration
	SegmentDelay     time.Duration
	LeaseTTL         time.Duration
	ThresholdUSD     float64
	ThresholdPercent float64
	DailyCapPerUser  int
	Location         *time.Location
}

// Checker runs one trip's price check: fare lookup, price facts update,
// alert eligibility, and rescheduling.
type Checker struct {
	trips    *repository.TripRepository
	alerts   *repository.AlertRepository
	fares    fares.Source
	notifier notify.Notifier
	logger   *logger.Logger
	settings CheckerSettings

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChecker creates a new check executor.
func NewChecker(
	trips *repository.TripRepository,
	alerts *repository.AlertRepository,
	fareSource fares.Source,
	notifier notify.Notifier,
	log *logger.Logger,
	settings CheckerSettings,
) *Checker {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Checker{
		trips:    trips,
		alerts:   alerts,
		fares:    fareSource,
		notifier: notifier,
		logger:   log,
		settings: settings,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (c *Checker) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// ExecuteLeased acquires the trip's check lease, runs Execute, and releases
// the lease. Returns ErrLeaseHeld without running when another executor
// owns the trip.
func (c *Checker) ExecuteLeased(ctx context.Context, trip *domain.Trip) (*CheckResult, error) {
	token := uuid.New().String()
	now := c.now()
	ok, err := c.trips.AcquireLease(ctx, trip.ID, token, now.Add(c.settings.LeaseTTL), now)
	if err != nil {
		return nil, fmt.Errorf("acquire check lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	defer func() {
		if err := c.trips.ReleaseLease(context.WithoutCancel(ctx), trip.ID, token); err != nil {
			c.log(ctx).WithError(err).WithField(logger.FieldTripID, trip.ID).Warn("Failed to release check lease")
		}
	}()

	return c.Execute(ctx, trip)
}

// Execute runs one price check for the trip. On success the trip is
// rescheduled at its effective interval; on failure the consecutive
// failure count grows and the trip is rescheduled with exponential
// backoff. The fare lookup error is propagated either way.
func (c *Checker) Execute(ctx context.Context, trip *domain.Trip) (*CheckResult, error) {
	ctx = logger.SetTripID(ctx, trip.ID)
	start := c.now()

	checkCtx := ctx
	if c.settings.CheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, c.settings.CheckTimeout)
		defer cancel()
	}

	quote, err := c.quoteItinerary(checkCtx, trip)
	if err != nil {
		c.recordFailure(ctx, trip, err)
		return nil, err
	}

	now := c.now()
	next := now.Add(c.effectiveInterval(trip))

	trip.NextCheckAt = &next
	trip.LastCheckedAt = &now
	trip.LastCheckedPrice = &quote.Price
	trip.PushPricePoint(domain.PricePoint{
		Price:     quote.Price,
		FareClass: quote.FareClass,
		Source:    quote.Source,
		CheckedAt: now,
	})
	trip.FailureCount = 0
	trip.LastCheckError = ""
	trip.LastCheckErrorAt = nil

	if err := c.trips.RecordSuccess(ctx, trip); err != nil {
		// The write did not land: the trip stays due and the next tick
		// retries it.
		return nil, fmt.Errorf("persist check result: %w", err)
	}

	result := &CheckResult{
		CurrentPrice: quote.Price,
		Source:       quote.Source,
		Savings:      trip.PaidPrice - quote.Price,
	}
	result.Alerted = c.maybeAlert(ctx, trip, result)

	logger.With(logger.Fields{
		logger.FieldPrice:      quote.Price,
		logger.FieldSavings:    result.Savings,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Trip check completed: next_check_at=%s", next.Format(time.RFC3339))

	return result, nil
}

// quoteItinerary prices every segment with the upstream rate limit
// respected: calls are serialized per trip with a minimum inter-call delay.
// The trip total is the sum of its segment fares.
func (c *Checker) quoteItinerary(ctx context.Context, trip *domain.Trip) (*fares.Quote, error) {
	if len(trip.Segments) == 0 {
		return nil, errors.New("trip has no segments")
	}

	var total fares.Quote
	for i, seg := range trip.Segments {
		if i > 0 && c.settings.SegmentDelay > 0 {
			if err := c.sleep(ctx, c.settings.SegmentDelay); err != nil {
				return nil, err
			}
		}
		q, err := c.fares.FetchPrice(ctx, seg.Origin, seg.Destination, seg.DepartureDate, seg.Passengers, trip.FareClass)
		if err != nil {
			return nil, err
		}
		total.Price += q.Price
		if total.FareClass == "" {
			total.FareClass = q.FareClass
		}
		if total.Source == "" {
			total.Source = q.Source
		}
		if total.Currency == "" {
			total.Currency = q.Currency
		}
	}
	return &total, nil
}

// effectiveInterval resolves the trip's check cadence: the per-trip
// setting when present, otherwise the configured default, clamped to the
// allowed range.
func (c *Checker) effectiveInterval(trip *domain.Trip) time.Duration {
	interval := c.settings.DefaultInterval
	if trip.CheckEveryMinutes != nil {
		interval = time.Duration(*trip.CheckEveryMinutes) * time.Minute
	}
	if interval < c.settings.MinInterval {
		interval = c.settings.MinInterval
	}
	if interval > c.settings.MaxInterval {
		interval = c.settings.MaxInterval
	}
	return interval
}

// recordFailure applies the backoff schedule after a failed check. A
// persistence error here is logged and swallowed: the trip simply stays
// due and is retried on a later tick.
func (c *Checker) recordFailure(ctx context.Context, trip *domain.Trip, checkErr error) {
	now := c.now()
	backoff := time.Duration(BackoffMinutes(trip.FailureCount)) * time.Minute
	next := now.Add(backoff)

	if err := c.trips.RecordFailure(ctx, trip.ID, checkErr.Error(), next, now); err != nil {
		c.log(ctx).WithError(err).WithField(logger.FieldTripID, trip.ID).Error("Failed to record check failure")
		return
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldTripID: trip.ID,
		"failure_count":    trip.FailureCount + 1,
		"backoff_minutes":  int(backoff.Minutes()),
	}).Warn("Trip check failed, backing off")
}

// maybeAlert sends a price-drop notification when the savings clear the
// threshold and the user's daily cap is not exhausted. The alert record is
// written whether or not the send succeeds.
func (c *Checker) maybeAlert(ctx context.Context, trip *domain.Trip, result *CheckResult) bool {
	if !c.qualifies(trip, result.Savings) {
		return false
	}

	now := c.now()
	midnight := startOfDay(now, c.settings.Location)
	if c.settings.DailyCapPerUser > 0 {
		count, err := c.alerts.CountForUserSince(ctx, trip.UserEmail, midnight)
		if err != nil {
			c.log(ctx).WithError(err).Warn("Failed to count today's alerts, skipping alert")
			return false
		}
		if count >= int64(c.settings.DailyCapPerUser) {
			c.log(ctx).WithField(logger.FieldUserEmail, trip.UserEmail).Info("Daily alert cap reached, skipping alert")
			return false
		}
	}

	facts := notify.AlertFacts{
		PaidPrice:    trip.PaidPrice,
		CurrentPrice: result.CurrentPrice,
		Savings:      result.Savings,
	}

	rec := &domain.AlertRecord{
		ID:           uuid.New().String(),
		TripID:       trip.ID,
		UserEmail:    trip.UserEmail,
		PaidPrice:    facts.PaidPrice,
		CheckedPrice: facts.CurrentPrice,
		Savings:      facts.Savings,
		Sent:         true,
	}

	if err := c.notifier.Notify(ctx, trip, facts); err != nil {
		rec.Sent = false
		rec.SendError = err.Error()
		c.log(ctx).WithError(err).WithField(logger.FieldTripID, trip.ID).Error("Alert send failed")
	}

	if err := c.alerts.Record(ctx, rec); err != nil {
		c.log(ctx).WithError(err).WithField(logger.FieldTripID, trip.ID).Error("Failed to record alert")
	}

	return rec.Sent
}

// qualifies applies the alert policy: an absolute-dollar threshold (the
// per-trip override wins over the global one) or a percentage threshold.
func (c *Checker) qualifies(trip *domain.Trip, savings float64) bool {
	if savings <= 0 {
		return false
	}

	threshold := c.settings.ThresholdUSD
	if trip.AlertThresholdUSD != nil {
		threshold = *trip.AlertThresholdUSD
	}
	if threshold > 0 && savings >= threshold {
		return true
	}

	if c.settings.ThresholdPercent > 0 && trip.PaidPrice > 0 {
		if savings/trip.PaidPrice*100 >= c.settings.ThresholdPercent {
			return true
		}
	}

	return false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
