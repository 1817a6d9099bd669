package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamrow/streamrow/internal/config"
	"github.com/streamrow/streamrow/internal/layout"
	"github.com/streamrow/streamrow/internal/pool"
	"github.com/streamrow/streamrow/internal/render"
	"github.com/streamrow/streamrow/internal/schedule"
	"github.com/streamrow/streamrow/internal/stream"
)

type renderJob struct {
	session *Session
	unit    render.Unit
}

// Engine owns the shared services of the pipeline and a bounded worker
// pool that executes renders. Shared caches and the surface pool are
// injected, explicitly owned services, not process-wide singletons.
type Engine struct {
	cfg    *config.Config
	log    *logrus.Entry
	policy stream.FlushPolicy
	sched  *schedule.Scheduler
	coord  *layout.Coordinator
	pred   *layout.Predictor
	cache  *render.ResultCache
	pool   *pool.Pool

	plain    render.Renderer
	markup   render.Renderer
	embedded render.Renderer

	mu       sync.Mutex
	sessions map[string]*Session
	width    int
	closed   bool

	jobs chan renderJob
	done chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(log *logrus.Logger) EngineOption {
	return func(e *Engine) { e.log = log.WithField("component", "engine") }
}

// WithSurfaceFactory overrides the embedded surface factory, for tests
// and for toolkit integrations that bring their own heavyweight surface.
func WithSurfaceFactory(f pool.Factory) EngineOption {
	return func(e *Engine) {
		e.pool = pool.New(e.cfg.Pool.Capacity, e.cfg.Pool.AcquireTimeout, f)
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine rendering at the given constraint width.
func NewEngine(cfg *config.Config, width int, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if width <= 0 {
		width = 80
	}

	e := &Engine{
		cfg:    cfg,
		log:    logrus.StandardLogger().WithField("component", "engine"),
		policy: stream.NewFlushPolicy(cfg.Flush.SizeThreshold, cfg.Flush.MaxWait),
		sched: schedule.New(
			schedule.WithIntervals(cfg.Scheduler.BaseInterval, cfg.Scheduler.MinInterval, cfg.Scheduler.MaxInterval),
			schedule.WithCostBudget(cfg.Scheduler.CostBudget),
			schedule.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent),
		),
		coord: layout.NewCoordinator(
			layout.WithNoiseThreshold(cfg.Layout.NoiseThreshold),
			layout.WithReEngageDistance(cfg.Layout.ReEngageDistance),
			layout.WithAnimateMaxSteps(cfg.Layout.AnimateMaxSteps),
			layout.WithEventBuffer(cfg.Layout.EventBuffer),
		),
		pred:     layout.NewPredictor(),
		cache:    render.NewResultCache(cfg.Engine.CacheSize),
		sessions: make(map[string]*Session),
		width:    width,
		jobs:     make(chan renderJob, cfg.Engine.Workers*4),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	e.pool = pool.New(cfg.Pool.Capacity, cfg.Pool.AcquireTimeout, render.NewHighlightSurface)
	for _, opt := range opts {
		opt(e)
	}

	e.plain = render.NewPlainRenderer()
	e.markup = render.NewMarkupRenderer()
	e.embedded = render.NewEmbeddedRenderer(e.pool, cfg.Pool.LoadTimeout)

	for i := 0; i < cfg.Engine.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Events returns the outbound delivery channel. The toolkit integration
// layer drains it and dispatches onto its own UI thread.
func (e *Engine) Events() <-chan layout.Event { return e.coord.Events() }

// Ingest routes a transport chunk to its session, creating one on the
// first chunk for a message id. It never blocks on rendering.
func (e *Engine) Ingest(c stream.Chunk) error {
	s, err := e.sessionFor(c.MessageID)
	if err != nil {
		return err
	}
	return s.ingest(c)
}

// Cancel stops a message's session. Idempotent; unknown ids are a no-op.
func (e *Engine) Cancel(messageID string) {
	e.mu.Lock()
	s := e.sessions[messageID]
	e.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// ViewportMoved forwards the consumer's scroll position to the layout
// coordinator. distanceFromBottom is in rows; zero means pinned.
func (e *Engine) ViewportMoved(distanceFromBottom int) {
	e.coord.ViewportMoved(distanceFromBottom)
}

// Following reports whether the view auto-scrolls to new content.
func (e *Engine) Following() bool { return e.coord.Following() }

// Height returns the committed height for a message, falling back to the
// predictor's estimate while no measurement exists yet.
func (e *Engine) Height(messageID string) int {
	if h := e.coord.Height(messageID); h > 0 {
		return h
	}

	e.mu.Lock()
	s := e.sessions[messageID]
	width := e.width
	e.mu.Unlock()
	if s == nil {
		return 0
	}

	s.mu.Lock()
	content := s.buf.Content()
	s.mu.Unlock()

	class := ClassifyContent(content)
	if e.pred.Samples(class) == 0 {
		return layout.EstimateRows(content, width)
	}
	return e.pred.Predict(class, len(content), width)
}

// Result returns the last committed render for a message.
func (e *Engine) Result(messageID string) (render.Result, bool) {
	return e.coord.Result(messageID)
}

// Resize changes the constraint width, invalidates every cached render
// and re-renders all live sessions at the new width.
func (e *Engine) Resize(width int) {
	if width <= 0 {
		return
	}

	e.mu.Lock()
	if width == e.width {
		e.mu.Unlock()
		return
	}
	e.width = width
	live := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		live = append(live, s)
	}
	e.mu.Unlock()

	e.cache.InvalidateAll()

	for _, s := range live {
		s.mu.Lock()
		skip := s.state.terminal() && s.state != StateSettled
		content := s.buf.Content()
		complete := s.buf.Final()
		s.mu.Unlock()
		if skip || content == "" {
			continue
		}
		e.dispatch(renderJob{session: s, unit: render.Unit{
			Content:  content,
			Complete: complete,
			Class:    ClassifyContent(content),
		}})
	}
}

// Close cancels all sessions, drains the workers and destroys the pool.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	close(e.done)
	e.wg.Wait()
	e.pool.Close()
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Sessions    int
	CacheHits   uint64
	CacheMisses uint64
	PoolCreated int
	PoolFree    int
	PoolFaults  uint64
	InFlight    int
}

// StatsSnapshot returns current counters for logging and debugging.
func (e *Engine) StatsSnapshot() Stats {
	e.mu.Lock()
	sessions := len(e.sessions)
	e.mu.Unlock()

	hits, misses := e.cache.Stats()
	created, free, faults := e.pool.Stats()
	return Stats{
		Sessions:    sessions,
		CacheHits:   hits,
		CacheMisses: misses,
		PoolCreated: created,
		PoolFree:    free,
		PoolFaults:  faults,
		InFlight:    e.sched.InFlight(),
	}
}

// sessionFor returns the session for a message id, creating it on first
// sight and evicting the least recently active session above the cap.
func (e *Engine) sessionFor(messageID string) (*Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("session: engine closed")
	}
	if s, ok := e.sessions[messageID]; ok {
		e.mu.Unlock()
		return s, nil
	}

	var victim *Session
	if len(e.sessions) >= e.cfg.Engine.MaxSessions {
		victim = e.evictionCandidateLocked()
		if victim != nil {
			delete(e.sessions, victim.id)
		}
	}

	s := newSession(messageID, e)
	e.sessions[messageID] = s
	e.mu.Unlock()

	if victim != nil {
		victim.evict()
		e.coord.Forget(victim.id)
		e.log.WithField("message_id", victim.id).Debug("session evicted under pressure")
	}

	// The newest message drives scroll-to-bottom while following.
	e.coord.SetNewest(messageID)
	return s, nil
}

// evictionCandidateLocked picks the least recently active session,
// preferring already-terminal ones. Engine lock held.
func (e *Engine) evictionCandidateLocked() *Session {
	var victim *Session
	var victimActive time.Time
	victimTerminal := false

	for _, s := range e.sessions {
		s.mu.Lock()
		active := s.lastActive
		terminal := s.state.terminal()
		s.mu.Unlock()

		better := victim == nil ||
			(terminal && !victimTerminal) ||
			(terminal == victimTerminal && active.Before(victimActive))
		if better {
			victim, victimActive, victimTerminal = s, active, terminal
		}
	}
	return victim
}

// dispatch hands a render job to the worker pool. Intermediate renders
// are droppable under backpressure (the next flush re-covers the
// content); final renders block until a worker frees, because the exact
// measurement must be committed.
func (e *Engine) dispatch(job renderJob) {
	if job.unit.Complete {
		select {
		case e.jobs <- job:
		case <-e.done:
		}
		return
	}
	select {
	case e.jobs <- job:
	default:
		e.log.WithField("message_id", job.session.id).Debug("render queue full, dropping intermediate render")
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.jobs:
			e.process(job)
		case <-e.done:
			return
		}
	}
}

// process runs one render under global admission, with cache check,
// fallback and layout commit. Every error is contained to the job's
// message.
func (e *Engine) process(job renderJob) {
	s := job.session

	state := s.State()
	if state == StateCancelled || state == StateEvicted {
		return
	}

	if err := e.sched.Acquire(s.ctx); err != nil {
		// Cancelled while waiting for an admission slot.
		return
	}
	defer e.sched.Release()

	e.mu.Lock()
	width := e.width
	e.mu.Unlock()

	key := render.Key(job.unit.Content, width)
	res, cached := e.cache.Get(key)
	if !cached {
		var err error
		res, err = e.renderUnit(s, job.unit, width)
		if err != nil {
			s.log.WithError(err).Error("render failed")
			e.coord.ReportFailure(s.id, err.Error())
			return
		}
		e.cache.Put(key, res)
		e.sched.RecordCost(s.id, res.Duration)
		e.pred.Observe(job.unit.Class, len(job.unit.Content), res.Size.Height)
	}

	// Re-check: the session may have been cancelled mid-render.
	state = s.State()
	if state == StateCancelled || state == StateEvicted {
		return
	}

	if e.coord.Commit(s.id, job.unit.Content, res) && job.unit.Complete {
		s.settle()
		s.log.WithField("height", res.Size.Height).Debug("final height committed")
	}
}

// renderUnit picks the renderer for the unit's class. Any failure on the
// expensive embedded path degrades to the plain renderer for the same
// content rather than leaving the row blank.
func (e *Engine) renderUnit(s *Session, unit render.Unit, width int) (render.Result, error) {
	var (
		res render.Result
		err error
	)
	switch unit.Class {
	case render.ClassPlain:
		res, err = e.plain.Render(s.ctx, unit, width)
	case render.ClassMarkup:
		res, err = e.markup.Render(s.ctx, unit, width)
	case render.ClassEmbedded:
		res, err = e.embedded.Render(s.ctx, unit, width)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return render.Result{}, err
			}
			s.log.WithError(err).Warn("embedded render failed, falling back to plain")
			res, err = e.plain.Render(s.ctx, unit, width)
		}
	default:
		res, err = e.plain.Render(s.ctx, unit, width)
	}
	return res, err
}
