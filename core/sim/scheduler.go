package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/metrics"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrNotPaused      = errors.New("scheduler not paused")
	ErrNeedsReset     = errors.New("scheduler stopped on a failed action, reset required")
	ErrResetTimeout   = errors.New("scheduler worker did not stop in time")
)

const (
	defaultTick   = 100 * time.Millisecond
	resetJoinWait = 5 * time.Second
)

// Event is one scripted step: fire Action when the simulated clock reaches
// At. Events run on the worker goroutine, in slice order.
type Event struct {
	At     int64
	Name   string
	Action func(simTime int64) error
}

// State is a point-in-time snapshot of the control surface.
type State struct {
	SimClock int64
	Running  bool
	Paused   bool
}

// Scheduler owns the simulated clock and replays a timeline against it.
// One worker goroutine advances the clock one simulated second per tick and
// fires due events; pause freezes the clock without releasing the worker,
// stop tears the worker down. All mutation happens behind one mutex, so
// control calls are safe from any goroutine.
type Scheduler struct {
	timeline []Event
	wipe     func()
	anomaly  ledger.AnomalySink
	tick     time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	clock   int64
	next    int
	running bool
	paused  bool
	failed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler wires a timeline to its world. wipe is invoked during Reset
// after the worker has stopped; it must restore every engine the timeline
// touches to its pristine state. tick <= 0 selects the default 100 ms.
func NewScheduler(timeline []Event, wipe func(), sink ledger.AnomalySink, tick time.Duration, log *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		timeline: timeline,
		wipe:     wipe,
		anomaly:  sink,
		tick:     tick,
		logger:   log,
	}
}

// Start launches the worker from the current position, or unfreezes a
// paused run. After an action failure only Reset clears the way.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return ErrNeedsReset
	}
	if s.running {
		if s.paused {
			s.paused = false
			s.logger.Info("simulation resumed", zap.Int64("simClock", s.clock))
			return nil
		}
		return ErrAlreadyRunning
	}

	s.running = true
	s.paused = false
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)

	metrics.SetSchedulerRunning(true)
	s.logger.Info("simulation started", zap.Int64("simClock", s.clock), zap.Int("pendingEvents", len(s.timeline)-s.next))
	return nil
}

// Pause freezes the clock. The worker stays parked on its ticker, so
// Resume is cheap. Pausing a paused run is a no-op.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if !s.paused {
		s.paused = true
		s.logger.Info("simulation paused", zap.Int64("simClock", s.clock))
	}
	return nil
}

// Resume unfreezes a paused run.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !s.paused {
		return ErrNotPaused
	}
	s.paused = false
	s.logger.Info("simulation resumed", zap.Int64("simClock", s.clock))
	return nil
}

// Reset stops the worker, waits for it to drain, rewinds the clock and
// timeline position, and wipes the world for a fresh Start.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	done := s.doneCh
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(resetJoinWait):
			return ErrResetTimeout
		}
	}

	s.mu.Lock()
	s.clock = 0
	s.next = 0
	s.running = false
	s.paused = false
	s.failed = false
	s.doneCh = nil
	s.mu.Unlock()

	metrics.SetSimClock(0)
	metrics.SetSchedulerRunning(false)
	if s.wipe != nil {
		s.wipe()
	}
	s.logger.Info("simulation reset")
	return nil
}

// State reports the clock and run flags as one consistent snapshot.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{SimClock: s.clock, Running: s.running, Paused: s.paused}
}

// Now returns the current simulated second.
func (s *Scheduler) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *Scheduler) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if !s.fireDue() {
			metrics.SetSchedulerRunning(false)
			return
		}

		s.mu.Lock()
		finished := s.next >= len(s.timeline)
		s.mu.Unlock()
		if finished {
			s.mu.Lock()
			s.running = false
			clock := s.clock
			s.mu.Unlock()
			metrics.SetSchedulerRunning(false)
			s.logger.Info("timeline complete", zap.Int64("simClock", clock))
			return
		}

		select {
		case <-stop:
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			metrics.SetSchedulerRunning(false)
			s.logger.Info("simulation stopped", zap.Int64("simClock", s.Now()))
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if !s.paused {
			s.clock++
			metrics.SetSimClock(s.clock)
		}
		s.mu.Unlock()
	}
}

// fireDue runs every event scheduled at or before the current clock.
// Returns false when an action fails; the run is then dead until Reset.
func (s *Scheduler) fireDue() bool {
	for {
		s.mu.Lock()
		if s.next >= len(s.timeline) || s.timeline[s.next].At > s.clock {
			s.mu.Unlock()
			return true
		}
		ev := s.timeline[s.next]
		s.next++
		now := s.clock
		s.mu.Unlock()

		s.logger.Info("timeline event", zap.Int64("simTime", now), zap.String("event", ev.Name))
		if err := ev.Action(now); err != nil {
			s.logger.Error("timeline event failed",
				zap.Int64("simTime", now),
				zap.String("event", ev.Name),
				zap.Error(err))
			if s.anomaly != nil {
				s.anomaly("scheduler_runtime_error", fmt.Sprintf("%s at T+%d: %v", ev.Name, now, err))
			}
			s.mu.Lock()
			s.failed = true
			s.running = false
			s.mu.Unlock()
			return false
		}
	}
}
