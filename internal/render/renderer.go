// Package render turns buffered content snapshots into styled, measured
// output. Renderers are polymorphic over a closed set of content classes:
// cheap synchronous text and markup renderers, plus an embedded-surface
// renderer that borrows a pooled heavyweight context.
package render

import (
	"context"
	"errors"
	"time"
)

// ContentClass is the closed set of content kinds a unit can carry.
// The renderer boundary matches over it exhaustively.
type ContentClass int

const (
	ClassPlain ContentClass = iota
	ClassMarkup
	ClassEmbedded
)

// String returns a short label for logging and stats.
func (c ContentClass) String() string {
	switch c {
	case ClassPlain:
		return "plain"
	case ClassMarkup:
		return "markup"
	case ClassEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// Unit is a snapshot of buffered content eligible for rendering. Value
// type; never mutated after creation.
type Unit struct {
	Content  string
	Complete bool
	Class    ContentClass
}

// Size is a measured cell extent.
type Size struct {
	Width  int
	Height int
}

// Result is a finished render: styled output with its exact measurement.
type Result struct {
	Styled   string
	Size     Size
	Duration time.Duration
}

// Renderer produces a styled, measured result for a unit at a constraint
// width. Implementations for embedded content may block until the surface
// reports layout completion, bounded by the context deadline.
type Renderer interface {
	Render(ctx context.Context, unit Unit, width int) (Result, error)
}

var (
	// ErrRenderTimeout means an embedded render did not complete within
	// its deadline. Recoverable: callers fall back to plain rendering.
	ErrRenderTimeout = errors.New("render: timed out")

	// ErrRenderFailed is an irrecoverable renderer error, surfaced to the
	// UI as an error state for the affected message only.
	ErrRenderFailed = errors.New("render: failed")
)
