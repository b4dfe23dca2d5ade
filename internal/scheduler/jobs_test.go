package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
	"gorm.io/gorm"
)

func newTestProcessor(t *testing.T, db *gorm.DB, src *fakeFareSource, batch int) (*JobProcessor, *repository.JobRepository) {
	t.Helper()
	jobs := repository.NewJobRepository(db)
	checker := newTestChecker(t, db, src, &fakeNotifier{}, testSettings())
	p := NewJobProcessor(jobs, repository.NewTripRepository(db), checker, logger.GetDefault(), batch, 0)
	return p, jobs
}

func TestJobProcessorTickCompletesManualCheck(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 450}
	p, jobs := newTestProcessor(t, db, src, 3)

	trip := makeTrip(t, db, nil)
	job, err := domain.NewManualCheckJob(trip.ID)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	done, err := jobs.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if done.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed (error %q)", done.Status, done.Error)
	}
	if !strings.Contains(done.Result, "450.00") {
		t.Errorf("result = %q, want the checked price in it", done.Result)
	}
	if src.callCount() != 1 {
		t.Errorf("fare lookups = %d, want 1", src.callCount())
	}
}

func TestJobProcessorTickUserTriggerAggregates(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 450}
	p, jobs := newTestProcessor(t, db, src, 3)

	for i := 0; i < 3; i++ {
		makeTrip(t, db, func(tr *domain.Trip) { tr.ID = uuid.New().String() })
	}
	// Paused trips are not part of a user trigger.
	makeTrip(t, db, func(tr *domain.Trip) { tr.Status = domain.TripStatusPaused })

	job, err := domain.NewUserTriggerJob("alex@example.com")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	done, err := jobs.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if done.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed (error %q)", done.Status, done.Error)
	}
	if done.Result != "trips: 3 checked, 0 failed, 0 skipped" {
		t.Errorf("result = %q", done.Result)
	}
	if src.callCount() != 3 {
		t.Errorf("fare lookups = %d, want 3", src.callCount())
	}
}

func TestJobProcessorFailureIsTerminalAndIsolated(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 450}
	p, jobs := newTestProcessor(t, db, src, 3)

	trip := makeTrip(t, db, nil)

	bad, err := domain.NewManualCheckJob(uuid.New().String()) // no such trip
	if err != nil {
		t.Fatalf("new bad job: %v", err)
	}
	good, err := domain.NewManualCheckJob(trip.ID)
	if err != nil {
		t.Fatalf("new good job: %v", err)
	}
	for _, j := range []*domain.CheckJob{bad, good} {
		if err := jobs.Enqueue(context.Background(), j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	failed, _ := jobs.GetByID(context.Background(), bad.ID)
	if failed.Status != domain.JobStatusFailed {
		t.Errorf("bad job status = %q, want failed", failed.Status)
	}
	if failed.Error == "" {
		t.Error("bad job has no recorded error")
	}
	completed, _ := jobs.GetByID(context.Background(), good.ID)
	if completed.Status != domain.JobStatusCompleted {
		t.Errorf("good job status = %q, want completed", completed.Status)
	}

	// Failed jobs stay failed: the next tick must not pick them up again.
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	failed, _ = jobs.GetByID(context.Background(), bad.ID)
	if failed.Status != domain.JobStatusFailed {
		t.Errorf("bad job re-queued: status = %q", failed.Status)
	}
}

func TestJobProcessorBatchLimit(t *testing.T) {
	db := newTestDB(t)
	src := &fakeFareSource{price: 450}
	p, jobs := newTestProcessor(t, db, src, 3)

	trip := makeTrip(t, db, nil)
	for i := 0; i < 5; i++ {
		job, err := domain.NewManualCheckJob(trip.ID)
		if err != nil {
			t.Fatalf("new job: %v", err)
		}
		if err := jobs.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	pendingLeft, err := jobs.CountByStatus(context.Background(), domain.JobStatusPending)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if pendingLeft != 2 {
		t.Errorf("pending after one tick = %d, want 2 of 5", pendingLeft)
	}
}

func TestJobProcessorOrdersByPriorityThenAge(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)

	older, _ := domain.NewManualCheckJob("trip-a")
	newer, _ := domain.NewManualCheckJob("trip-b")
	trigger, _ := domain.NewUserTriggerJob("alex@example.com")

	base := time.Now().Add(-time.Hour)
	older.CreatedAt = base
	newer.CreatedAt = base.Add(time.Minute)
	trigger.CreatedAt = base.Add(2 * time.Minute)

	for _, j := range []*domain.CheckJob{newer, trigger, older} {
		if err := jobs.Enqueue(context.Background(), j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := jobs.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	wantOrder := []string{trigger.ID, older.ID, newer.ID}
	if len(pending) != len(wantOrder) {
		t.Fatalf("pending = %d jobs, want %d", len(pending), len(wantOrder))
	}
	for i, want := range wantOrder {
		if pending[i].ID != want {
			t.Errorf("pending[%d] = %s (priority %d), want %s", i, pending[i].ID, pending[i].Priority, want)
		}
	}
}
