// Package timer provides named, cancellable delayed callbacks.
//
// A Scheduler keeps at most one armed timer per ID. Expiries are handed to a dispatch
// function (normally a session loop's Post) and only run if that arming is still current,
// so a timer cancelled or re-armed after its clock already fired never runs.
package timer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ID names a timer.
type ID string

const (
	ConnectTimeout  ID = "connect-timeout"
	DiscoverTimeout ID = "discover-timeout"
	ScanTimeout     ID = "scan-timeout"
)

// Stopper is the handle returned by Clock.AfterFunc. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// Clock schedules functions after a delay.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type entry struct {
	gen  uint64
	stop Stopper
}

// Scheduler arms timers keyed by ID.
type Scheduler struct {
	mu       sync.Mutex
	clock    Clock
	dispatch func(func())
	timers   map[ID]entry
	gen      uint64
	logger   *logrus.Logger
}

// NewScheduler creates a scheduler. dispatch receives expiry callbacks; nil runs them on the
// clock's goroutine.
func NewScheduler(clock Clock, dispatch func(func()), logger *logrus.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		clock:    clock,
		dispatch: dispatch,
		timers:   make(map[ID]entry),
		logger:   logger,
	}
}

// Arm schedules fn after d under id, cancelling any timer already armed under the same id.
func (s *Scheduler) Arm(id ID, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[id]; ok {
		prev.stop.Stop()
		s.logger.WithField("timer", id).Debug("Re-arming timer")
	}

	s.gen++
	gen := s.gen
	stop := s.clock.AfterFunc(d, func() {
		s.dispatch(func() {
			if s.take(id, gen) {
				fn()
			}
		})
	})
	s.timers[id] = entry{gen: gen, stop: stop}
}

// take removes the entry if gen is still the current arming for id.
func (s *Scheduler) take(id ID, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.timers[id]
	if !ok || cur.gen != gen {
		s.logger.WithField("timer", id).Debug("Dropping stale timer expiry")
		return false
	}
	delete(s.timers, id)
	return true
}

// Cancel disarms id. Returns whether a timer was armed.
func (s *Scheduler) Cancel(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.timers[id]
	if !ok {
		return false
	}
	cur.stop.Stop()
	delete(s.timers, id)
	return true
}

// Armed reports whether a timer is armed under id.
func (s *Scheduler) Armed(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// CancelAll disarms every timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.timers {
		cur.stop.Stop()
		delete(s.timers, id)
	}
}
