// Package scheduler implements the recheck scheduling core: the automatic
// dispatch loop, the trip check executor, the manual job queue, the trigger
// gateway, and the maintenance sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kmowery/farewatch/internal/logger"
)

// Status is the introspection snapshot exposed to the host.
type Status struct {
	IsRunning          bool                 `json:"is_running"`
	TriggersEnabled    bool                 `json:"triggers_enabled"`
	ActiveCheckCount   int                  `json:"active_check_count"`
	PerUserLastTrigger map[string]time.Time `json:"per_user_last_trigger"`
}

// Scheduler owns the recurring timers and ties the pieces together. Within
// one combined tick the manual job batch always runs before the automatic
// dispatch batch: manual work pre-empts automatic work by schedule, not by
// cancelling anything already in flight.
type Scheduler struct {
	dispatcher  *Dispatcher
	processor   *JobProcessor
	maintenance *Maintenance
	trigger     *TriggerGateway
	logger      *logger.Logger

	tickEvery time.Duration
	drainWait time.Duration

	mu       sync.Mutex
	running  bool
	stopLoop context.CancelFunc
	stopExec context.CancelFunc
	loopDone chan struct{}
}

// New creates the scheduler orchestrator.
func New(
	dispatcher *Dispatcher,
	processor *JobProcessor,
	maintenance *Maintenance,
	trigger *TriggerGateway,
	log *logger.Logger,
	tickEvery time.Duration,
	drainWait time.Duration,
) *Scheduler {
	return &Scheduler{
		dispatcher:  dispatcher,
		processor:   processor,
		maintenance: maintenance,
		trigger:     trigger,
		logger:      log,
		tickEvery:   tickEvery,
		drainWait:   drainWait,
	}
}

// Start launches the tick loop and the maintenance schedule. The first
// combined tick runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// Two contexts: cancelling the loop stops new ticks, while in-flight
	// checks keep the exec context until the drain window closes.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	execCtx, stopExec := context.WithCancel(context.Background())
	s.stopLoop = stopLoop
	s.stopExec = stopExec
	s.loopDone = make(chan struct{})
	s.running = true

	if s.maintenance != nil {
		if err := s.maintenance.Start(); err != nil {
			s.logger.WithError(err).Error("Failed to start maintenance schedule")
		}
	}

	go s.run(loopCtx, execCtx)

	s.logger.WithField("tick_minutes", s.tickEvery.Minutes()).Info("Scheduler started")
	return nil
}

func (s *Scheduler) run(loopCtx, execCtx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	s.Tick(execCtx)

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.Tick(execCtx)
		}
	}
}

// Tick runs one combined pass: manual jobs first, then automatic dispatch.
// Errors abort only the failing half of the tick; the loop itself never
// stops.
func (s *Scheduler) Tick(ctx context.Context) {
	if err := s.processor.Tick(ctx); err != nil {
		s.logger.WithError(err).Error("Job queue tick failed")
	}
	if err := s.dispatcher.Tick(ctx); err != nil {
		s.logger.WithError(err).Error("Dispatch tick failed")
	}
}

// Stop shuts the scheduler down: new ticks stop immediately, in-flight
// checks get the drain window, and whatever is still running afterwards is
// abandoned mid-write.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopLoop := s.stopLoop
	stopExec := s.stopExec
	loopDone := s.loopDone
	s.mu.Unlock()

	stopLoop()
	<-loopDone

	if s.maintenance != nil {
		s.maintenance.Stop()
	}

	if !s.dispatcher.Drain(s.drainWait) {
		s.logger.WithField(logger.FieldCount, s.dispatcher.InFlight()).
			Warn("Drain window elapsed, abandoning in-flight checks")
	}
	stopExec()

	s.logger.Info("Scheduler stopped")
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the introspection snapshot.
func (s *Scheduler) Status() Status {
	return Status{
		IsRunning:          s.Running(),
		TriggersEnabled:    s.trigger.Enabled(),
		ActiveCheckCount:   s.dispatcher.InFlight(),
		PerUserLastTrigger: s.trigger.LastTriggers(),
	}
}

// RunOnce executes a single combined tick and waits for the launched
// checks to finish. Used by the one-shot sweep command.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.Tick(ctx)
	s.dispatcher.Drain(s.drainWait)
}
