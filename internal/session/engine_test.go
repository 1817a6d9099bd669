package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamrow/streamrow/internal/layout"
	"github.com/streamrow/streamrow/internal/pool"
	"github.com/streamrow/streamrow/internal/stream"
)

// stubSurface is a cheap embedded surface for tests.
type stubSurface struct{}

func newStubSurface() (pool.Surface, error) { return &stubSurface{}, nil }

func (s *stubSurface) Load(_ context.Context, content string, width int) (string, pool.Extent, error) {
	return content, pool.Extent{Width: width, Height: strings.Count(content, "\n") + 1}, nil
}
func (s *stubSurface) Reset()        {}
func (s *stubSurface) Healthy() bool { return true }
func (s *stubSurface) Close() error  { return nil }

// blockedSurface never finishes a load until its context is cancelled.
type blockedSurface struct{}

func newBlockedSurface() (pool.Surface, error) { return &blockedSurface{}, nil }

func (s *blockedSurface) Load(ctx context.Context, _ string, _ int) (string, pool.Extent, error) {
	<-ctx.Done()
	return "", pool.Extent{}, ctx.Err()
}
func (s *blockedSurface) Reset()        {}
func (s *blockedSurface) Healthy() bool { return true }
func (s *blockedSurface) Close() error  { return nil }

func waitEvent(t *testing.T, e *Engine, match func(layout.Event) bool) layout.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("no matching event within deadline")
		}
	}
}

func TestEngineRendersFinalChunk(t *testing.T) {
	e := newTestEngine(t, nil)

	err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte("Hello, world."), Final: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	ev := waitEvent(t, e, func(ev layout.Event) bool {
		return ev.Type == layout.EventResult && ev.MessageID == "m1"
	})
	if ev.Height < 1 {
		t.Errorf("committed height = %d, want >= 1", ev.Height)
	}
	if !strings.Contains(ev.Result.Styled, "Hello, world.") {
		t.Errorf("styled output %q does not contain the content", ev.Result.Styled)
	}

	e.mu.Lock()
	s := e.sessions["m1"]
	e.mu.Unlock()
	waitState(t, s, StateSettled)
}

func TestEngineAssemblesOutOfOrderChunks(t *testing.T) {
	e := newTestEngine(t, nil)

	// Second half arrives first; nothing renders until the gap fills.
	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 1, Payload: []byte("world."), Final: true}); err != nil {
		t.Fatalf("Ingest seq 1: %v", err)
	}
	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte("Hello, ")}); err != nil {
		t.Fatalf("Ingest seq 0: %v", err)
	}

	ev := waitEvent(t, e, func(ev layout.Event) bool {
		return ev.Type == layout.EventResult && ev.MessageID == "m1"
	})
	if !strings.Contains(ev.Result.Styled, "Hello, world.") {
		t.Errorf("styled output %q, want assembled content in order", ev.Result.Styled)
	}
}

func TestEngineFallsBackToPlainOnSurfaceTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.LoadTimeout = 20 * time.Millisecond
	e := NewEngine(cfg, 80,
		WithLogger(discardLogger()),
		WithSurfaceFactory(newBlockedSurface),
	)
	t.Cleanup(e.Close)

	content := "```go\nfunc main() {}\n```"
	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte(content), Final: true}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// The surface never loads, but the message still gets a committed
	// plain rendering instead of a failure.
	ev := waitEvent(t, e, func(ev layout.Event) bool { return ev.MessageID == "m1" })
	if ev.Type != layout.EventResult {
		t.Fatalf("event type = %v, want %v", ev.Type, layout.EventResult)
	}
	if !strings.Contains(ev.Result.Styled, "func main()") {
		t.Errorf("fallback output %q does not contain the source", ev.Result.Styled)
	}
}

func TestEngineConcurrentMessagesBoundedByPool(t *testing.T) {
	e := newTestEngine(t, nil)

	const messages = 10
	var wg sync.WaitGroup
	for i := 0; i < messages; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "m" + string(rune('0'+n))
			content := "```\nblock " + id + "\n```"
			if err := e.Ingest(stream.Chunk{MessageID: id, Sequence: 0, Payload: []byte(content), Final: true}); err != nil {
				t.Errorf("Ingest %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for len(seen) < messages {
		ev := waitEvent(t, e, func(ev layout.Event) bool { return ev.Type == layout.EventResult })
		seen[ev.MessageID] = true
	}

	if created, _, _ := e.pool.Stats(); created > e.cfg.Pool.Capacity {
		t.Errorf("pool created %d surfaces, capacity is %d", created, e.cfg.Pool.Capacity)
	}
}

func TestEngineEvictsLeastRecentlyActive(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.MaxSessions = 2
	e := NewEngine(cfg, 80,
		WithLogger(discardLogger()),
		WithSurfaceFactory(newStubSurface),
	)
	t.Cleanup(e.Close)

	for _, id := range []string{"m1", "m2"} {
		if err := e.Ingest(stream.Chunk{MessageID: id, Sequence: 0, Payload: []byte("partial " + id)}); err != nil {
			t.Fatalf("Ingest %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	e.mu.Lock()
	victim := e.sessions["m1"]
	e.mu.Unlock()

	if err := e.Ingest(stream.Chunk{MessageID: "m3", Sequence: 0, Payload: []byte("partial m3")}); err != nil {
		t.Fatalf("Ingest m3: %v", err)
	}

	if got := victim.State(); got != StateEvicted {
		t.Errorf("oldest session state = %v, want %v", got, StateEvicted)
	}
	e.mu.Lock()
	_, m1Present := e.sessions["m1"]
	_, m3Present := e.sessions["m3"]
	e.mu.Unlock()
	if m1Present {
		t.Error("evicted session still tracked")
	}
	if !m3Present {
		t.Error("new session not tracked after eviction")
	}
}

func TestEngineResizeRerendersAtNewWidth(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte("Some settled prose."), Final: true}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	waitEvent(t, e, func(ev layout.Event) bool {
		return ev.Type == layout.EventResult && ev.MessageID == "m1"
	})

	e.Resize(40)

	ev := waitEvent(t, e, func(ev layout.Event) bool {
		return ev.Type == layout.EventResult && ev.MessageID == "m1"
	})
	if ev.Result.Size.Width > 40 {
		t.Errorf("re-rendered width = %d, want <= 40", ev.Result.Size.Width)
	}
}

func TestEngineHeightEstimateBeforeCommit(t *testing.T) {
	cfg := testConfig()
	// High threshold and long wait: nothing flushes, nothing commits.
	cfg.Flush.SizeThreshold = 10_000
	cfg.Flush.MaxWait = time.Hour
	e := NewEngine(cfg, 80,
		WithLogger(discardLogger()),
		WithSurfaceFactory(newStubSurface),
	)
	t.Cleanup(e.Close)

	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte("short prose so far")}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := e.Height("m1"); got < 1 {
		t.Errorf("Height before any commit = %d, want an estimate >= 1", got)
	}
	if got := e.Height("unknown"); got != 0 {
		t.Errorf("Height for unknown message = %d, want 0", got)
	}
}

func TestEngineStatsSnapshot(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte("Hello."), Final: true}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	waitEvent(t, e, func(ev layout.Event) bool {
		return ev.Type == layout.EventResult && ev.MessageID == "m1"
	})

	st := e.StatsSnapshot()
	if st.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", st.Sessions)
	}
	if st.CacheHits+st.CacheMisses == 0 {
		t.Error("cache counters untouched after a render")
	}
}

func TestEngineCloseRejectsIngest(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, 80,
		WithLogger(discardLogger()),
		WithSurfaceFactory(newStubSurface),
	)
	e.Close()
	e.Close() // idempotent

	if err := e.Ingest(stream.Chunk{MessageID: "m1", Sequence: 0, Payload: []byte("x")}); err == nil {
		t.Error("Ingest after Close = nil, want error")
	}
}

func TestEngineFollowModeForwarding(t *testing.T) {
	e := newTestEngine(t, nil)

	if !e.Following() {
		t.Fatal("engine should start in follow mode")
	}
	e.ViewportMoved(50)
	if e.Following() {
		t.Error("still following after scrolling far from bottom")
	}
	e.ViewportMoved(1)
	if !e.Following() {
		t.Error("did not re-engage near the bottom")
	}
}
