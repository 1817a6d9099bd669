// Package schedule throttles per-message render frequency and bounds
// global render concurrency. The per-message interval adapts to measured
// render cost: under load the system degrades to fewer, larger updates
// rather than dropping frames.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Scheduler defaults.
const (
	DefaultBaseInterval  = 50 * time.Millisecond
	DefaultMinInterval   = 16 * time.Millisecond
	DefaultMaxInterval   = 500 * time.Millisecond
	DefaultCostBudget    = 16 * time.Millisecond
	DefaultMaxConcurrent = 3

	costRise  = 1.5  // factor growth when a render blows the budget
	costDecay = 0.85 // factor decay when a render stays within it
	maxFactor = 32.0
)

type entry struct {
	lastRender time.Time
	lastCost   time.Duration
	costFactor float64
}

// Scheduler tracks per-message render timing and admits renders through a
// global semaphore so CPU bursts from many concurrent messages stay
// bounded. Waiters block; they are never silently dropped.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry

	base   time.Duration
	min    time.Duration
	max    time.Duration
	budget time.Duration

	sem chan struct{}

	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIntervals sets the base, minimum and maximum adaptive intervals.
func WithIntervals(base, min, max time.Duration) Option {
	return func(s *Scheduler) {
		if base > 0 {
			s.base = base
		}
		if min > 0 {
			s.min = min
		}
		if max > 0 {
			s.max = max
		}
	}
}

// WithCostBudget sets the per-render cost budget that drives adaptation.
func WithCostBudget(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.budget = d
		}
	}
}

// WithMaxConcurrent bounds in-flight renders across all messages.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler with the given options.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		entries: make(map[string]*entry),
		base:    DefaultBaseInterval,
		min:     DefaultMinInterval,
		max:     DefaultMaxInterval,
		budget:  DefaultCostBudget,
		sem:     make(chan struct{}, DefaultMaxConcurrent),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldRender reports whether enough time has passed since the message's
// last admitted render. A first render is always admitted.
func (s *Scheduler) ShouldRender(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[messageID]
	if !ok {
		return true
	}
	return s.now().Sub(e.lastRender) >= s.intervalLocked(e)
}

// MarkRendered records that a render was admitted for the message.
func (s *Scheduler) MarkRendered(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(messageID).lastRender = s.now()
}

// RecordCost feeds a measured render duration back into the adaptive
// interval. Costs above the budget raise the message's interval, costs
// below it let the interval decay toward the base.
func (s *Scheduler) RecordCost(messageID string, cost time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(messageID)
	e.lastCost = cost
	if cost > s.budget {
		e.costFactor *= costRise
	} else {
		e.costFactor *= costDecay
	}
	if e.costFactor < 1 {
		e.costFactor = 1
	}
	if e.costFactor > maxFactor {
		e.costFactor = maxFactor
	}
}

// Interval returns the current adaptive interval for the message.
func (s *Scheduler) Interval(messageID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[messageID]
	if !ok {
		return clampDuration(s.base, s.min, s.max)
	}
	return s.intervalLocked(e)
}

// Forget drops all state for a message. Call on session end so the map
// does not grow with message history.
func (s *Scheduler) Forget(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, messageID)
}

// Acquire blocks until a global render slot is free or ctx is done.
func (s *Scheduler) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a render slot taken by Acquire.
func (s *Scheduler) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// InFlight returns the number of currently admitted renders.
func (s *Scheduler) InFlight() int { return len(s.sem) }

func (s *Scheduler) entryLocked(messageID string) *entry {
	e, ok := s.entries[messageID]
	if !ok {
		e = &entry{costFactor: 1}
		s.entries[messageID] = e
	}
	return e
}

func (s *Scheduler) intervalLocked(e *entry) time.Duration {
	return clampDuration(time.Duration(float64(s.base)*e.costFactor), s.min, s.max)
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
