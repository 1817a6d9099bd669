// Package session ties the pipeline together: one StreamSession per
// active message owns a sequenced buffer and drives flush policy, render
// scheduling, rendering and layout commits; the Engine owns the shared
// services and a bounded worker pool that executes renders off the
// caller's goroutine.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamrow/streamrow/internal/render"
	"github.com/streamrow/streamrow/internal/stream"
)

// State is the lifecycle of a streaming message.
type State int

const (
	StateCreated State = iota
	StateStreaming
	StateFinalizing
	StateSettled
	StateCancelled
	StateEvicted
)

// String returns a short label for logging.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateSettled:
		return "settled"
	case StateCancelled:
		return "cancelled"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// terminal reports whether no further work may be scheduled.
func (s State) terminal() bool {
	return s == StateSettled || s == StateCancelled || s == StateEvicted
}

// Session is the per-message state machine. All fields are guarded by mu;
// sessions never share locks, so independent messages never block one
// another.
type Session struct {
	id     string
	engine *Engine

	mu         sync.Mutex
	state      State
	buf        *stream.SequencedBuffer
	lastFlush  time.Time
	lastActive time.Time

	// ctx is cancelled on Cancel/Evict so in-flight embedded renders
	// abort and release their pool lease promptly.
	ctx    context.Context
	cancel context.CancelFunc

	log *logrus.Entry
}

func newSession(id string, e *Engine) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		engine: e,
		state:  StateCreated,
		buf: stream.NewSequencedBuffer(id,
			stream.WithHoldingCap(e.cfg.Buffer.HoldingCap),
			stream.WithGapTimeout(e.cfg.Buffer.GapTimeout),
			stream.WithMaxBytes(e.cfg.Buffer.MaxBytes),
		),
		lastFlush:  e.now(),
		lastActive: e.now(),
		ctx:        ctx,
		cancel:     cancel,
		log:        e.log.WithField("message_id", id),
	}
	return s
}

// ID returns the message id this session streams.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ingest applies a chunk and decides whether to schedule a render. It
// never blocks: render work is handed to the engine's worker pool.
func (s *Session) ingest(c stream.Chunk) error {
	s.mu.Lock()

	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateCreated {
		s.state = StateStreaming
	}
	s.lastActive = s.engine.now()

	if skipped := s.buf.SkipStaleGaps(); skipped > 0 {
		s.log.WithField("skipped", skipped).Warn("sequence gap timed out, skipping")
	}

	_, err := s.buf.Ingest(c)
	if err != nil {
		s.mu.Unlock()
		switch err {
		case stream.ErrDuplicateChunk:
			s.log.WithField("sequence", c.Sequence).Debug("dropping duplicate chunk")
			return nil
		case stream.ErrBufferClosed:
			return nil
		default:
			return err
		}
	}

	if s.buf.Truncated() {
		s.log.Debug("buffer over cap, oldest content truncated")
	}

	final := s.buf.Final()
	if final {
		s.state = StateFinalizing
	}

	decision, reason := s.engine.policy.Decide(stream.FlushInput{
		Unflushed: s.buf.Unflushed(),
		Total:     s.buf.Len(),
		Elapsed:   s.engine.now().Sub(s.lastFlush),
		Complete:  final,
		Tail:      s.tailLocked(),
	})
	if !decision {
		s.mu.Unlock()
		return nil
	}

	// The final render bypasses the adaptive interval: the exact
	// measurement must always be committed.
	if !final && !s.engine.sched.ShouldRender(s.id) {
		s.mu.Unlock()
		return nil
	}

	unit := render.Unit{
		Content:  s.buf.Content(),
		Complete: final,
		Class:    ClassifyContent(s.buf.Content()),
	}
	s.buf.MarkFlushed()
	s.lastFlush = s.engine.now()
	s.engine.sched.MarkRendered(s.id)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"reason": reason.String(),
		"class":  unit.Class.String(),
		"bytes":  len(unit.Content),
	}).Trace("flush")

	s.engine.dispatch(renderJob{session: s, unit: unit})
	return nil
}

// tailLocked returns the last few bytes of content for boundary
// detection. Lock held.
func (s *Session) tailLocked() string {
	content := s.buf.Content()
	if len(content) > 8 {
		return content[len(content)-8:]
	}
	return content
}

// Cancel stops the session from any non-terminal state. Idempotent. The
// session context is cancelled synchronously, which aborts any in-flight
// embedded render and releases its pool lease before that render
// returns.
func (s *Session) Cancel() {
	s.transition(StateCancelled)
}

// evict is Cancel with eviction bookkeeping, used under memory pressure.
func (s *Session) evict() {
	s.transition(StateEvicted)
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.cancel()
	s.engine.sched.Forget(s.id)
	s.log.WithField("state", to.String()).Debug("session stopped")
}

// settle marks the final exact measurement as committed.
func (s *Session) settle() {
	s.mu.Lock()
	if s.state == StateFinalizing {
		s.state = StateSettled
	}
	s.mu.Unlock()
}

// ClassifyContent maps raw content to its content class: fenced code
// needs an embedded surface, markup structure wants the markup renderer,
// anything else renders plain.
func ClassifyContent(content string) render.ContentClass {
	if strings.Contains(content, "```") {
		return render.ClassEmbedded
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "#"),
			strings.HasPrefix(trimmed, "- "),
			strings.HasPrefix(trimmed, "* "),
			strings.HasPrefix(trimmed, "> "),
			strings.Contains(trimmed, "**"),
			strings.Contains(trimmed, "|"):
			return render.ClassMarkup
		}
	}
	return render.ClassPlain
}
