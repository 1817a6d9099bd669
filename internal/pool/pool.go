// Package pool provides a bounded pool of expensive, stateful render
// surfaces with an acquire/reset/release lease lifecycle. Surfaces are
// never shared between two live leases; an unhealthy surface is destroyed
// on release and the pool lazily rebuilds up to capacity.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Extent is the measured size a surface reports after layout completes.
type Extent struct {
	Width  int
	Height int
}

// Surface is a reusable heavyweight render context. Load blocks until the
// surface reports layout completion or the context is cancelled, and
// returns the styled output with its measured extent. Reset returns the
// surface to a blank state between leases.
type Surface interface {
	Load(ctx context.Context, content string, width int) (styled string, extent Extent, err error)
	Reset()
	Healthy() bool
	Close() error
}

// Factory creates a fresh surface. Called under the pool's serialization,
// so it must not block for long.
type Factory func() (Surface, error)

var (
	// ErrPoolExhausted means no surface became free within the acquire
	// timeout. Recoverable: callers fall back to plain rendering.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrPoolClosed is returned from Acquire after Close.
	ErrPoolClosed = errors.New("pool: closed")
)

// DefaultAcquireTimeout bounds how long Acquire waits for a free surface.
const DefaultAcquireTimeout = 500 * time.Millisecond

// Pool is a bounded surface pool.
type Pool struct {
	mu       sync.Mutex
	free     chan Surface
	created  int
	capacity int
	factory  Factory
	timeout  time.Duration
	closed   bool

	faults uint64 // surfaces destroyed for being unhealthy
}

// New creates a pool holding at most capacity surfaces, created lazily by
// the factory.
func New(capacity int, acquireTimeout time.Duration, factory Factory) *Pool {
	if capacity <= 0 {
		capacity = 5
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Pool{
		free:     make(chan Surface, capacity),
		capacity: capacity,
		factory:  factory,
		timeout:  acquireTimeout,
	}
}

// Acquire leases a surface. It returns a free surface immediately, creates
// one if the pool is under capacity, or waits up to the acquire timeout
// (or the caller's context deadline, whichever ends first) before failing
// with ErrPoolExhausted. It never hangs indefinitely.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case s := <-p.free:
		return &Lease{pool: p, surface: s}, nil
	default:
	}

	if s, handled, err := p.tryCreate(); handled {
		if err != nil {
			return nil, err
		}
		return &Lease{pool: p, surface: s}, nil
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case s := <-p.free:
		return &Lease{pool: p, surface: s}, nil
	case <-timer.C:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ErrPoolExhausted
	}
}

// tryCreate makes a new surface if the pool is under capacity. handled
// distinguishes "created or failed" from "at capacity, wait for a free
// surface".
func (p *Pool) tryCreate() (s Surface, handled bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, true, ErrPoolClosed
	}
	if p.created >= p.capacity {
		return nil, false, nil
	}
	s, err = p.factory()
	if err != nil {
		return nil, true, err
	}
	p.created++
	return s, true, nil
}

// release returns a surface to the free list, or destroys it if it has
// become unhealthy so a replacement can be created on demand.
func (p *Pool) release(s Surface) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return
	}
	if !s.Healthy() {
		p.created--
		p.faults++
		p.mu.Unlock()
		s.Close()
		return
	}
	p.mu.Unlock()

	s.Reset()
	select {
	case p.free <- s:
	default:
		// Free list holds capacity surfaces; only reachable if the
		// created count has drifted.
		s.Close()
	}
}

// discard removes a surface from the pool's accounting and destroys it.
func (p *Pool) discard(s Surface) {
	p.mu.Lock()
	if !p.closed {
		p.created--
		p.faults++
	}
	p.mu.Unlock()
	s.Close()
}

// Close destroys all free surfaces and fails future acquires. Surfaces
// out on lease are destroyed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case s := <-p.free:
			s.Close()
		default:
			return
		}
	}
}

// Stats reports the number of surfaces created, currently free, and
// destroyed for faults.
func (p *Pool) Stats() (created, free int, faults uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, len(p.free), p.faults
}

// Lease is a temporary, exclusive hold on a surface. Release is
// idempotent; the surface must not be used after release.
type Lease struct {
	pool     *Pool
	surface  Surface
	released sync.Once
}

// Surface returns the leased surface.
func (l *Lease) Surface() Surface { return l.surface }

// Release resets the surface and returns it to the pool, or destroys it
// if it reports unhealthy. Safe to call more than once.
func (l *Lease) Release() {
	l.released.Do(func() {
		l.pool.release(l.surface)
	})
}

// Discard destroys the surface instead of returning it, for contexts that
// crashed or stopped responding. The pool lazily creates a replacement up
// to capacity. Safe to call more than once, and a later Release is a
// no-op.
func (l *Lease) Discard() {
	l.released.Do(func() {
		l.pool.discard(l.surface)
	})
}
