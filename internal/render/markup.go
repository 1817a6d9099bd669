package render

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
)

// MarkupRenderer renders marked-up text through glamour. Creating a
// glamour renderer is expensive, so instances are cached per width. A
// TermRenderer is not safe for concurrent use, so each cached instance
// carries its own lock.
type MarkupRenderer struct {
	renderers sync.Map // map[int]*lockedTermRenderer
}

type lockedTermRenderer struct {
	mu sync.Mutex
	tr *glamour.TermRenderer
}

// NewMarkupRenderer creates a markup renderer.
func NewMarkupRenderer() *MarkupRenderer {
	return &MarkupRenderer{}
}

// Render renders the unit's content as markup and measures the styled
// output. On a glamour failure the raw content is rendered plain rather
// than leaving the row blank.
func (r *MarkupRenderer) Render(_ context.Context, unit Unit, width int) (Result, error) {
	start := time.Now()

	lr, err := r.rendererFor(width)
	if err != nil {
		return r.raw(unit, width, start), nil
	}
	lr.mu.Lock()
	styled, err := lr.tr.Render(unit.Content)
	lr.mu.Unlock()
	if err != nil {
		return r.raw(unit, width, start), nil
	}
	styled = strings.TrimRight(styled, "\n")

	return Result{
		Styled:   styled,
		Size:     Measure(styled),
		Duration: time.Since(start),
	}, nil
}

// rendererFor returns a cached glamour renderer for the width, creating
// one if needed. If two goroutines race, the loser's renderer is simply
// discarded.
func (r *MarkupRenderer) rendererFor(width int) (*lockedTermRenderer, error) {
	if cached, ok := r.renderers.Load(width); ok {
		return cached.(*lockedTermRenderer), nil
	}

	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	lr, _ := r.renderers.LoadOrStore(width, &lockedTermRenderer{tr: tr})
	return lr.(*lockedTermRenderer), nil
}

func (r *MarkupRenderer) raw(unit Unit, width int, start time.Time) Result {
	styled := Wrap(unit.Content, width)
	return Result{
		Styled:   styled,
		Size:     Measure(styled),
		Duration: time.Since(start),
	}
}
