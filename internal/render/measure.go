package render

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// Wrap word-wraps content to the constraint width.
func Wrap(content string, width int) string {
	if width <= 0 {
		return content
	}
	return wordwrap.String(content, width)
}

// Measure returns the cell extent of styled output. lipgloss measurement
// is ANSI-aware, so escape sequences do not inflate the width.
func Measure(styled string) Size {
	if styled == "" {
		return Size{}
	}
	return Size{
		Width:  lipgloss.Width(styled),
		Height: lipgloss.Height(styled),
	}
}
