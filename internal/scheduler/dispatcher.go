package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
)

// taskHandle tracks one in-flight trip check. A trip dispatched twice in
// overlapping ticks gets two handles with distinct tokens.
type taskHandle struct {
	Token     string
	TripID    string
	StartedAt time.Time
}

// Dispatcher is the automatic recheck loop: on each tick it pulls due
// trips and launches bounded-concurrency check tasks.
type Dispatcher struct {
	trips   *repository.TripRepository
	checker *Checker
	logger  *logger.Logger
	ceiling int
	loc     *time.Location

	mu       sync.Mutex
	inflight map[string]taskHandle
	wg       sync.WaitGroup

	now func() time.Time
}

// NewDispatcher creates the automatic dispatch loop.
func NewDispatcher(
	trips *repository.TripRepository,
	checker *Checker,
	log *logger.Logger,
	ceiling int,
	loc *time.Location,
) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		trips:    trips,
		checker:  checker,
		logger:   log,
		ceiling:  ceiling,
		loc:      loc,
		inflight: make(map[string]taskHandle),
		now:      time.Now,
	}
}

// InFlight returns the number of currently running check tasks.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// InFlightHandles returns a snapshot of the running tasks.
func (d *Dispatcher) InFlightHandles() []taskHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	handles := make([]taskHandle, 0, len(d.inflight))
	for _, h := range d.inflight {
		handles = append(handles, h)
	}
	return handles
}

// Tick runs one dispatch pass. When the concurrency ceiling is already
// occupied the tick is skipped outright, without running the due query:
// back-pressure by omission, not queueing. A due-query error aborts only
// this tick.
func (d *Dispatcher) Tick(ctx context.Context) error {
	if d.InFlight() >= d.ceiling {
		d.logger.WithField(logger.FieldCount, d.InFlight()).Debug("Concurrency ceiling occupied, skipping dispatch tick")
		return nil
	}

	now := d.now()
	today := now.In(d.loc).Format(domain.DateLayout)

	// Fetch twice the ceiling so fast-failing trips don't starve a tick.
	due, err := d.trips.FindDue(ctx, now, today, 2*d.ceiling)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	launched := 0
	for i := range due {
		if !d.launch(ctx, due[i]) {
			break
		}
		launched++
	}

	if launched > 0 {
		d.logger.WithFields(logger.Fields{
			logger.FieldCount: launched,
			"due":             len(due),
		}).Info("Dispatched due trip checks")
	}
	return nil
}

// launch registers a handle and fires the check task. Returns false when
// no slot is free, which ends the tick's launching.
func (d *Dispatcher) launch(ctx context.Context, trip domain.Trip) bool {
	h := taskHandle{
		Token:     uuid.New().String(),
		TripID:    trip.ID,
		StartedAt: d.now(),
	}

	d.mu.Lock()
	if len(d.inflight) >= d.ceiling {
		d.mu.Unlock()
		return false
	}
	d.inflight[h.Token] = h
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.inflight, h.Token)
			d.mu.Unlock()
			d.wg.Done()
		}()

		taskCtx := logger.WithFields(ctx, logger.Fields{
			logger.FieldTripID:        trip.ID,
			logger.FieldDispatchToken: h.Token,
			logger.FieldComponent:     "dispatcher",
		})

		_, err := d.checker.ExecuteLeased(taskCtx, &trip)
		switch {
		case errors.Is(err, ErrLeaseHeld):
			logger.CtxDebug(taskCtx, "Skipped trip check, lease held elsewhere")
		case err != nil:
			// Already recorded with backoff by the executor; surfaced
			// here for the logs only.
			logger.CtxWarn(taskCtx, "Trip check failed: %v", err)
		}
	}()

	return true
}

// Drain waits for in-flight checks to finish, up to the given timeout.
// Returns false when the timeout elapsed with checks still running.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
