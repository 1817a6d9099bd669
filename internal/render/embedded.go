package render

import (
	"context"
	"fmt"
	"time"

	"github.com/streamrow/streamrow/internal/pool"
)

// DefaultLoadTimeout bounds how long an embedded surface may take to
// report layout completion.
const DefaultLoadTimeout = 3 * time.Second

// EmbeddedRenderer renders heavyweight content classes through a pooled
// surface. It is asynchronous in nature: the render call suspends until
// the surface reports completion or the load timeout fires. Failures are
// recoverable; the caller degrades to the plain renderer for the same
// content.
type EmbeddedRenderer struct {
	pool        *pool.Pool
	loadTimeout time.Duration
}

// NewEmbeddedRenderer creates an embedded renderer backed by the given
// surface pool.
func NewEmbeddedRenderer(p *pool.Pool, loadTimeout time.Duration) *EmbeddedRenderer {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	return &EmbeddedRenderer{pool: p, loadTimeout: loadTimeout}
}

// Render acquires a surface lease, loads the content, and returns the
// styled output with the surface's measured extent. The lease is always
// released before returning, so pool accounting survives every error
// path.
func (r *EmbeddedRenderer) Render(ctx context.Context, unit Unit, width int) (Result, error) {
	start := time.Now()

	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer lease.Release()

	loadCtx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()

	type loaded struct {
		styled string
		extent pool.Extent
		err    error
	}
	done := make(chan loaded, 1)
	go func() {
		styled, extent, err := lease.Surface().Load(loadCtx, unit.Content, width)
		done <- loaded{styled, extent, err}
	}()

	select {
	case l := <-done:
		if l.err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrRenderFailed, l.err)
		}
		return Result{
			Styled:   l.styled,
			Size:     Size{Width: l.extent.Width, Height: l.extent.Height},
			Duration: time.Since(start),
		}, nil
	case <-loadCtx.Done():
		// The surface stopped responding; destroy it rather than hand a
		// possibly-wedged context to the next lease.
		lease.Discard()
		return Result{}, ErrRenderTimeout
	}
}
