package render

import (
	"context"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// PlainRenderer renders content as word-wrapped styled text. It is the
// cheapest renderer and the universal fallback when an expensive path
// fails.
type PlainRenderer struct {
	style lipgloss.Style
}

// NewPlainRenderer creates a plain-text renderer with the default style.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{style: lipgloss.NewStyle()}
}

// NewPlainRendererWithStyle creates a plain-text renderer using the given
// lipgloss style for the whole block.
func NewPlainRendererWithStyle(style lipgloss.Style) *PlainRenderer {
	return &PlainRenderer{style: style}
}

// Render wraps, styles and measures the content. Always synchronous.
func (r *PlainRenderer) Render(_ context.Context, unit Unit, width int) (Result, error) {
	start := time.Now()
	styled := r.style.Render(Wrap(unit.Content, width))
	return Result{
		Styled:   styled,
		Size:     Measure(styled),
		Duration: time.Since(start),
	}, nil
}
