package layout

import (
	"strings"
	"sync"

	"github.com/streamrow/streamrow/internal/render"
)

// Coordinator defaults.
const (
	DefaultNoiseThreshold   = 2 // height deltas below this apply without animation
	DefaultReEngageDistance = 3 // rows from bottom at which follow mode re-engages
	DefaultAnimateMaxSteps  = 8
	DefaultEventBuffer      = 256
)

type committed struct {
	result  render.Result
	content string
	height  int
}

// Coordinator owns the messageID to height mapping and the follow-mode
// flag. Commits for the same message are applied in increasing
// content-length order: a render whose source is a strict prefix of what
// is already committed arrives late and is discarded rather than
// regressing the row.
type Coordinator struct {
	mu       sync.Mutex
	rows     map[string]*committed
	follow   bool
	newest   string // messageID of the newest (last) row
	noise    int
	reEngage int
	maxSteps int

	events chan Event
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNoiseThreshold sets the height delta below which changes apply
// without animation.
func WithNoiseThreshold(rows int) CoordinatorOption {
	return func(c *Coordinator) {
		if rows >= 0 {
			c.noise = rows
		}
	}
}

// WithReEngageDistance sets how close to the bottom the viewport must
// return before follow mode re-engages.
func WithReEngageDistance(rows int) CoordinatorOption {
	return func(c *Coordinator) {
		if rows >= 0 {
			c.reEngage = rows
		}
	}
}

// WithAnimateMaxSteps caps the animation length for large height jumps.
func WithAnimateMaxSteps(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithEventBuffer sets the delivery channel capacity.
func WithEventBuffer(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.events = make(chan Event, n)
		}
	}
}

// NewCoordinator creates a coordinator with follow mode engaged.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		rows:     make(map[string]*committed),
		follow:   true,
		noise:    DefaultNoiseThreshold,
		reEngage: DefaultReEngageDistance,
		maxSteps: DefaultAnimateMaxSteps,
		events:   make(chan Event, DefaultEventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the delivery channel. A single consumer drains it and
// dispatches onto whatever thread its toolkit requires.
func (c *Coordinator) Events() <-chan Event { return c.events }

// SetNewest marks the message occupying the last visible row. Height
// growth of this row is what drives scroll-to-bottom requests.
func (c *Coordinator) SetNewest(messageID string) {
	c.mu.Lock()
	c.newest = messageID
	c.mu.Unlock()
}

// Commit applies a render result for a message. Returns false when the
// result was discarded as stale (its source content is a strict prefix of
// the committed content).
func (c *Coordinator) Commit(messageID, content string, result render.Result) bool {
	c.mu.Lock()

	prev, ok := c.rows[messageID]
	if ok && len(content) < len(prev.content) && strings.HasPrefix(prev.content, content) {
		c.mu.Unlock()
		return false
	}

	newHeight := result.Size.Height
	prevHeight := 0
	if ok {
		prevHeight = prev.height
	}

	delta := newHeight - prevHeight
	if delta < 0 {
		delta = -delta
	}
	animate := delta >= c.noise && ok
	steps := 0
	if animate {
		// Longer transitions for bigger jumps, capped.
		steps = delta / 2
		if steps < 1 {
			steps = 1
		}
		if steps > c.maxSteps {
			steps = c.maxSteps
		}
	}

	c.rows[messageID] = &committed{result: result, content: content, height: newHeight}

	follow := c.follow
	isNewest := c.newest == messageID
	grew := newHeight > prevHeight
	c.mu.Unlock()

	c.emit(Event{
		Type:      EventResult,
		MessageID: messageID,
		Result:    result,
		Height:    newHeight,
		Animate:   animate,
		Steps:     steps,
	})
	if follow && isNewest && grew {
		c.emit(Event{Type: EventScrollToBottom, MessageID: messageID})
	}
	return true
}

// ReportFailure emits a render-failed event for the message. The row
// keeps its last committed content.
func (c *Coordinator) ReportFailure(messageID, reason string) {
	c.emit(Event{Type: EventRenderFailed, MessageID: messageID, Reason: reason})
}

// Height returns the committed height for a message, zero if none.
func (c *Coordinator) Height(messageID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.rows[messageID]; ok {
		return row.height
	}
	return 0
}

// Result returns the committed render result for a message.
func (c *Coordinator) Result(messageID string) (render.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.rows[messageID]; ok {
		return row.result, true
	}
	return render.Result{}, false
}

// Forget drops all state for a message.
func (c *Coordinator) Forget(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, messageID)
	if c.newest == messageID {
		c.newest = ""
	}
}

// ViewportMoved is the consumer's report of the viewport's distance from
// the bottom, in rows. A move beyond the re-engage distance is treated as
// a user-initiated scroll away and drops follow mode; returning within
// the distance restores it.
func (c *Coordinator) ViewportMoved(distanceFromBottom int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follow = distanceFromBottom <= c.reEngage
}

// Following reports whether the view auto-scrolls to new content.
func (c *Coordinator) Following() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.follow
}

// emit delivers an event without blocking the render path; if the
// consumer has fallen DefaultEventBuffer events behind, the oldest
// pending event is dropped to make room.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- ev:
		default:
		}
	}
}
