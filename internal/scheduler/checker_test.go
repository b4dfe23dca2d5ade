package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/fares"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/notify"
	"github.com/kmowery/farewatch/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with migrations applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	// A single connection keeps every session on the same in-memory DB.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.Trip{}, &domain.CheckJob{}, &domain.AlertRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// fakeFareSource returns canned prices per origin-destination pair, or a
// fixed error.
type fakeFareSource struct {
	mu     sync.Mutex
	price  float64
	err    error
	calls  int
	delays []time.Time
}

func (f *fakeFareSource) FetchPrice(ctx context.Context, origin, destination, date string, pax int, fareClass string) (*fares.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.delays = append(f.delays, time.Now())
	if f.err != nil {
		return nil, f.err
	}
	return &fares.Quote{Price: f.price, FareClass: fareClass, Currency: "USD", Source: "test"}, nil
}

func (f *fakeFareSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeNotifier records every delivered alert.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.AlertFacts
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, trip *domain.Trip, facts notify.AlertFacts) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, facts)
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func testSettings() CheckerSettings {
	return CheckerSettings{
		DefaultInterval:  6 * time.Hour,
		MinInterval:      30 * time.Minute,
		MaxInterval:      7 * 24 * time.Hour,
		CheckTimeout:     time.Minute,
		SegmentDelay:     0,
		LeaseTTL:         10 * time.Minute,
		ThresholdUSD:     50,
		ThresholdPercent: 0,
		DailyCapPerUser:  10,
		Location:         time.UTC,
	}
}

func newTestChecker(t *testing.T, db *gorm.DB, src fares.Source, n notify.Notifier, settings CheckerSettings) *Checker {
	t.Helper()
	c := NewChecker(
		repository.NewTripRepository(db),
		repository.NewAlertRepository(db),
		src,
		n,
		logger.GetDefault(),
		settings,
	)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format(domain.DateLayout)
}

func makeTrip(t *testing.T, db *gorm.DB, mutate func(*domain.Trip)) *domain.Trip {
	t.Helper()
	trip := &domain.Trip{
		ID:        uuid.New().String(),
		UserEmail: "alex@example.com",
		Status:    domain.TripStatusActive,
		Segments: []domain.FlightSegment{
			{Origin: "SFO", Destination: "JFK", DepartureDate: futureDate(30), Passengers: 1},
		},
		FareClass:    "economy",
		Currency:     "USD",
		PaidPrice:    599,
		CheckEnabled: true,
	}
	if mutate != nil {
		mutate(trip)
	}
	if err := repository.NewTripRepository(db).Create(context.Background(), trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}

func TestBackoffMinutes(t *testing.T) {
	testCases := []struct {
		priorFailures int
		want          int
	}{
		{0, 30},
		{1, 60},
		{2, 120},
		{3, 120},
		{10, 120},
		{-1, 30},
	}

	for _, tc := range testCases {
		if got := BackoffMinutes(tc.priorFailures); got != tc.want {
			t.Errorf("BackoffMinutes(%d) = %d, want %d", tc.priorFailures, got, tc.want)
		}
	}
}

func TestExecuteSuccessReschedules(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 549}
	c := newTestChecker(t, db, src, &fakeNotifier{}, testSettings())

	trip := makeTrip(t, db, nil)

	before := time.Now()
	result, err := c.Execute(context.Background(), trip)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.CurrentPrice != 549 {
		t.Errorf("CurrentPrice = %v, want 549", result.CurrentPrice)
	}
	if result.Savings != 50 {
		t.Errorf("Savings = %v, want 50", result.Savings)
	}

	stored, err := repository.NewTripRepository(db).GetByID(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("reload trip: %v", err)
	}
	if stored.NextCheckAt == nil {
		t.Fatal("NextCheckAt not set")
	}
	wantNext := before.Add(6 * time.Hour)
	if stored.NextCheckAt.Before(wantNext.Add(-time.Minute)) || stored.NextCheckAt.After(wantNext.Add(time.Minute)) {
		t.Errorf("NextCheckAt = %v, want about %v", stored.NextCheckAt, wantNext)
	}
	if stored.LastCheckedPrice == nil || *stored.LastCheckedPrice != 549 {
		t.Errorf("LastCheckedPrice = %v, want 549", stored.LastCheckedPrice)
	}
	if stored.LowestSeen == nil || *stored.LowestSeen != 549 {
		t.Errorf("LowestSeen = %v, want 549", stored.LowestSeen)
	}
	if len(stored.PriceHistory) != 1 {
		t.Errorf("PriceHistory length = %d, want 1", len(stored.PriceHistory))
	}
	if stored.FailureCount != 0 || stored.LastCheckError != "" {
		t.Errorf("failure metadata not cleared: count=%d err=%q", stored.FailureCount, stored.LastCheckError)
	}
}

func TestExecuteSequentialRunsGrowHistoryByOne(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 500}
	c := newTestChecker(t, db, src, &fakeNotifier{}, testSettings())
	repo := repository.NewTripRepository(db)

	trip := makeTrip(t, db, nil)

	var prevNext time.Time
	for i := 1; i <= 3; i++ {
		stored, err := repo.GetByID(context.Background(), trip.ID)
		if err != nil {
			t.Fatalf("reload trip: %v", err)
		}
		if _, err := c.Execute(context.Background(), stored); err != nil {
			t.Fatalf("Execute run %d: %v", i, err)
		}

		after, err := repo.GetByID(context.Background(), trip.ID)
		if err != nil {
			t.Fatalf("reload trip: %v", err)
		}
		if len(after.PriceHistory) != i {
			t.Errorf("run %d: PriceHistory length = %d, want %d", i, len(after.PriceHistory), i)
		}
		if after.NextCheckAt.Before(prevNext) {
			t.Errorf("run %d: NextCheckAt moved backwards: %v < %v", i, after.NextCheckAt, prevNext)
		}
		prevNext = *after.NextCheckAt
	}
}

func TestExecuteFailureBackoff(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{err: fares.ErrUnavailable}
	c := newTestChecker(t, db, src, &fakeNotifier{}, testSettings())
	repo := repository.NewTripRepository(db)

	trip := makeTrip(t, db, nil)

	wantBackoff := []int{30, 60, 120}
	for i, want := range wantBackoff {
		stored, err := repo.GetByID(context.Background(), trip.ID)
		if err != nil {
			t.Fatalf("reload trip: %v", err)
		}

		before := time.Now()
		if _, err := c.Execute(context.Background(), stored); !errors.Is(err, fares.ErrUnavailable) {
			t.Fatalf("Execute failure %d: err = %v, want ErrUnavailable", i+1, err)
		}

		after, err := repo.GetByID(context.Background(), trip.ID)
		if err != nil {
			t.Fatalf("reload trip: %v", err)
		}
		if after.FailureCount != i+1 {
			t.Errorf("failure %d: FailureCount = %d, want %d", i+1, after.FailureCount, i+1)
		}
		if after.LastCheckError == "" {
			t.Errorf("failure %d: LastCheckError not recorded", i+1)
		}
		if !after.CheckEnabled {
			t.Errorf("failure %d: CheckEnabled flipped off", i+1)
		}
		wantNext := before.Add(time.Duration(want) * time.Minute)
		if after.NextCheckAt == nil ||
			after.NextCheckAt.Before(wantNext.Add(-time.Minute)) ||
			after.NextCheckAt.After(wantNext.Add(time.Minute)) {
			t.Errorf("failure %d: NextCheckAt = %v, want about now+%dm", i+1, after.NextCheckAt, want)
		}
	}
}

func TestAlertThresholdScenario(t *testing.T) {
	// Paid $599, threshold $50: $549 fires, $560 does not, and $400
	// afterwards pushes LowestSeen below the prior $549.
	db := newTestDB(t)
	src := &fakeFareSource{price: 549}
	n := &fakeNotifier{}
	c := newTestChecker(t, db, src, n, testSettings())
	repo := repository.NewTripRepository(db)

	trip := makeTrip(t, db, nil)

	if _, err := c.Execute(context.Background(), trip); err != nil {
		t.Fatalf("Execute at 549: %v", err)
	}
	if n.sentCount() != 1 {
		t.Fatalf("alerts sent after $549 = %d, want 1", n.sentCount())
	}

	src.price = 560
	stored, _ := repo.GetByID(context.Background(), trip.ID)
	if _, err := c.Execute(context.Background(), stored); err != nil {
		t.Fatalf("Execute at 560: %v", err)
	}
	if n.sentCount() != 1 {
		t.Fatalf("alerts sent after $560 = %d, want still 1", n.sentCount())
	}

	src.price = 400
	stored, _ = repo.GetByID(context.Background(), trip.ID)
	if _, err := c.Execute(context.Background(), stored); err != nil {
		t.Fatalf("Execute at 400: %v", err)
	}
	if n.sentCount() != 2 {
		t.Fatalf("alerts sent after $400 = %d, want 2", n.sentCount())
	}

	final, _ := repo.GetByID(context.Background(), trip.ID)
	if final.LowestSeen == nil || *final.LowestSeen != 400 {
		t.Errorf("LowestSeen = %v, want 400", final.LowestSeen)
	}
}

func TestAlertRecordedWhenSendFails(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 500}
	n := &fakeNotifier{err: errors.New("smtp down")}
	c := newTestChecker(t, db, src, n, testSettings())

	trip := makeTrip(t, db, nil)

	result, err := c.Execute(context.Background(), trip)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Alerted {
		t.Error("Alerted = true despite send failure")
	}

	recs, err := repository.NewAlertRepository(db).ListByTrip(context.Background(), trip.ID, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("alert records = %d, want 1 even on send failure", len(recs))
	}
	if recs[0].Sent {
		t.Error("record marked sent despite send failure")
	}
	if recs[0].SendError == "" {
		t.Error("send error not recorded")
	}
}

func TestDailyAlertCap(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 400}
	n := &fakeNotifier{}
	settings := testSettings()
	settings.DailyCapPerUser = 1
	c := newTestChecker(t, db, src, n, settings)
	repo := repository.NewTripRepository(db)

	first := makeTrip(t, db, nil)
	second := makeTrip(t, db, func(tr *domain.Trip) { tr.ID = uuid.New().String() })

	if _, err := c.Execute(context.Background(), first); err != nil {
		t.Fatalf("Execute first: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), second.ID)
	if _, err := c.Execute(context.Background(), stored); err != nil {
		t.Fatalf("Execute second: %v", err)
	}

	if n.sentCount() != 1 {
		t.Errorf("alerts sent = %d, want 1 with daily cap 1", n.sentCount())
	}
}

func TestPriceHistoryCapped(t *testing.T) {
	trip := &domain.Trip{PaidPrice: 100}
	for i := 0; i < domain.MaxPriceHistory+20; i++ {
		trip.PushPricePoint(domain.PricePoint{Price: float64(1000 - i), CheckedAt: time.Now()})
	}
	if len(trip.PriceHistory) != domain.MaxPriceHistory {
		t.Errorf("history length = %d, want %d", len(trip.PriceHistory), domain.MaxPriceHistory)
	}
	if trip.LowestSeen == nil || *trip.LowestSeen != float64(1000-(domain.MaxPriceHistory+19)) {
		t.Errorf("LowestSeen = %v", trip.LowestSeen)
	}
}

func TestEffectiveIntervalClamped(t *testing.T) {
	db := newTestDB(t)
	c := newTestChecker(t, db, &fakeFareSource{price: 1}, &fakeNotifier{}, testSettings())

	minutes := func(n int) *int { return &n }
	testCases := []struct {
		name string
		trip domain.Trip
		want time.Duration
	}{
		{"default when unset", domain.Trip{}, 6 * time.Hour},
		{"honors per-trip value", domain.Trip{CheckEveryMinutes: minutes(120)}, 2 * time.Hour},
		{"clamped to minimum", domain.Trip{CheckEveryMinutes: minutes(5)}, 30 * time.Minute},
		{"clamped to maximum", domain.Trip{CheckEveryMinutes: minutes(60 * 24 * 30)}, 7 * 24 * time.Hour},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.effectiveInterval(&tc.trip); got != tc.want {
				t.Errorf("effectiveInterval = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExecuteLeasedRejectsHeldLease(t *testing.T) {
	db := newTestDB(t)
	c := newTestChecker(t, db, &fakeFareSource{price: 500}, &fakeNotifier{}, testSettings())
	repo := repository.NewTripRepository(db)

	trip := makeTrip(t, db, nil)

	// Hold the lease as if another executor owned the trip.
	ok, err := repo.AcquireLease(context.Background(), trip.ID, "other", time.Now().Add(10*time.Minute), time.Now())
	if err != nil || !ok {
		t.Fatalf("seed lease: ok=%v err=%v", ok, err)
	}

	if _, err := c.ExecuteLeased(context.Background(), trip); !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("err = %v, want ErrLeaseHeld", err)
	}

	// An expired lease must be taken over.
	if err := repo.ReleaseLease(context.Background(), trip.ID, "other"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = repo.AcquireLease(context.Background(), trip.ID, "stale", time.Now().Add(-time.Minute), time.Now().Add(-20*time.Minute))
	if err != nil || !ok {
		t.Fatalf("seed stale lease: ok=%v err=%v", ok, err)
	}
	if _, err := c.ExecuteLeased(context.Background(), trip); err != nil {
		t.Errorf("stale lease not taken over: %v", err)
	}
}
