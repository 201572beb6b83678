// Package refresh coalesces bursts of refresh requests into one delayed run.
package refresh

import (
	"sync"
	"time"
)

// DefaultDelay is used when New is given a non-positive delay.
const DefaultDelay = time.Second

// Scheduler owns one cancellable timer. Every Schedule call restarts the
// delay; the callback runs once the delay passes without another Schedule.
// A timer superseded by Schedule, Cancel or Stop never runs its callback,
// even if it already fired and is waiting for the lock.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// New returns a scheduler that calls fn after delay.
func New(delay time.Duration, fn func()) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{delay: delay, fn: fn}
}

// Delay returns the debounce delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule (re)starts the delay. It is a no-op after Stop.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopTimerLocked()
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.delay, func() { s.fire(seq) })
}

// Cancel drops a pending run and reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.timer != nil
	s.stopTimerLocked()
	s.seq++
	return pending
}

// Pending reports whether a run is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Stop cancels any pending run and disables the scheduler for good.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.stopTimerLocked()
	s.seq++
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	if s.stopped || seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.fn()
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
