// Package layout owns committed row heights and the scroll-follow state.
// It smooths height transitions, guards against out-of-order render
// commits, and emits outbound events through a single delivery channel
// that the toolkit integration layer dispatches onto its own UI thread.
package layout

import "github.com/streamrow/streamrow/internal/render"

// EventType identifies an outbound layout event.
type EventType int

const (
	// EventResult carries a committed render with its measured height.
	EventResult EventType = iota
	// EventScrollToBottom asks the consumer to pin the view to the newest
	// content. Emitted only while follow mode is on.
	EventScrollToBottom
	// EventRenderFailed tells the consumer to keep showing the last good
	// content with an inline error affordance.
	EventRenderFailed
)

// Event is one outbound notification. The core makes no assumption about
// which thread consumes it.
type Event struct {
	Type      EventType
	MessageID string

	// For EventResult
	Result  render.Result
	Height  int
	Animate bool
	Steps   int

	// For EventRenderFailed
	Reason string
}
