package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/fares"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
)

// blockingSource parks every fare lookup until released, so tests can hold
// checks in flight.
type blockingSource struct {
	started chan string
	release chan struct{}
}

func (b *blockingSource) FetchPrice(ctx context.Context, origin, destination, date string, pax int, fareClass string) (*fares.Quote, error) {
	b.started <- origin
	select {
	case <-b.release:
		return &fares.Quote{Price: 100, Currency: "USD", Source: "test"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitStarted(t *testing.T, ch chan string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for check %d of %d to start", i+1, n)
		}
	}
}

func TestDispatcherCeilingAndSkipTick(t *testing.T) {
	db := newTestDB(t)
	src := &blockingSource{
		started: make(chan string, 32),
		release: make(chan struct{}),
	}
	settings := testSettings()
	settings.CheckTimeout = 0
	checker := newTestChecker(t, db, src, &fakeNotifier{}, settings)

	const ceiling = 3
	d := NewDispatcher(repository.NewTripRepository(db), checker, logger.GetDefault(), ceiling, time.UTC)

	for i := 0; i < 10; i++ {
		makeTrip(t, db, func(tr *domain.Trip) { tr.ID = uuid.New().String() })
	}

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	waitStarted(t, src.started, ceiling)
	if got := d.InFlight(); got != ceiling {
		t.Fatalf("InFlight after first tick = %d, want %d", got, ceiling)
	}

	// With the ceiling occupied the next tick must launch nothing.
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("skipped tick: %v", err)
	}
	select {
	case origin := <-src.started:
		t.Fatalf("check for %s started during a full tick", origin)
	case <-time.After(200 * time.Millisecond):
	}
	if got := d.InFlight(); got != ceiling {
		t.Fatalf("InFlight after skipped tick = %d, want %d", got, ceiling)
	}

	close(src.release)
	if !d.Drain(5 * time.Second) {
		t.Fatal("Drain timed out with checks released")
	}
	if got := d.InFlight(); got != 0 {
		t.Fatalf("InFlight after drain = %d, want 0", got)
	}

	// Freed slots admit the remaining due trips on the next tick.
	src.release = make(chan struct{})
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("third tick: %v", err)
	}
	waitStarted(t, src.started, ceiling)
	if got := d.InFlight(); got != ceiling {
		t.Fatalf("InFlight after third tick = %d, want %d", got, ceiling)
	}
	close(src.release)
	if !d.Drain(5 * time.Second) {
		t.Fatal("final drain timed out")
	}
}

func TestDispatcherSkipsLeasedTrips(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 100}
	d := NewDispatcher(
		repository.NewTripRepository(db),
		newTestChecker(t, db, src, &fakeNotifier{}, testSettings()),
		logger.GetDefault(),
		3,
		time.UTC,
	)

	trip := makeTrip(t, db, nil)
	repo := repository.NewTripRepository(db)
	ok, err := repo.AcquireLease(context.Background(), trip.ID, "held", time.Now().Add(10*time.Minute), time.Now())
	if err != nil || !ok {
		t.Fatalf("seed lease: ok=%v err=%v", ok, err)
	}

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !d.Drain(5 * time.Second) {
		t.Fatal("drain timed out")
	}

	if got := src.callCount(); got != 0 {
		t.Errorf("fare lookups = %d, want 0 for a leased trip", got)
	}
	stored, err := repo.GetByID(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("reload trip: %v", err)
	}
	if stored.LastCheckedAt != nil {
		t.Error("leased trip was checked anyway")
	}
}

func TestDispatcherIgnoresIneligibleTrips(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 100}
	d := NewDispatcher(
		repository.NewTripRepository(db),
		newTestChecker(t, db, src, &fakeNotifier{}, testSettings()),
		logger.GetDefault(),
		3,
		time.UTC,
	)

	future := time.Now().Add(2 * time.Hour)
	makeTrip(t, db, func(tr *domain.Trip) { tr.CheckEnabled = false })
	makeTrip(t, db, func(tr *domain.Trip) {
		tr.Segments[0].DepartureDate = time.Now().AddDate(0, 0, -2).Format(domain.DateLayout)
	})
	makeTrip(t, db, func(tr *domain.Trip) { tr.NextCheckAt = &future })
	makeTrip(t, db, func(tr *domain.Trip) { tr.Status = domain.TripStatusPaused })

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !d.Drain(5 * time.Second) {
		t.Fatal("drain timed out")
	}
	if got := src.callCount(); got != 0 {
		t.Errorf("fare lookups = %d, want 0 with no eligible trips", got)
	}
}
