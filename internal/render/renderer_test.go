package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamrow/streamrow/internal/pool"
)

func TestPlainRenderer_MeasuresWrappedText(t *testing.T) {
	r := NewPlainRenderer()
	unit := Unit{Content: "aaaa bbbb cccc", Class: ClassPlain}

	res, err := r.Render(context.Background(), unit, 5)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Size.Height != 3 {
		t.Errorf("Height = %d, want 3 (three wrapped words)", res.Size.Height)
	}
	if res.Size.Width > 5 {
		t.Errorf("Width = %d, want <= 5", res.Size.Width)
	}
}

func TestPlainRenderer_EmptyContent(t *testing.T) {
	r := NewPlainRenderer()
	res, err := r.Render(context.Background(), Unit{}, 80)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Size.Height > 1 {
		t.Errorf("Height = %d for empty content, want <= 1", res.Size.Height)
	}
}

func TestMarkupRenderer_RendersAndMeasures(t *testing.T) {
	r := NewMarkupRenderer()
	unit := Unit{Content: "# Heading\n\nSome **bold** body text.", Class: ClassMarkup}

	res, err := r.Render(context.Background(), unit, 60)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Styled == "" {
		t.Fatal("Render() produced empty output")
	}
	if !strings.Contains(res.Styled, "Heading") {
		t.Errorf("styled output should contain heading text, got %q", res.Styled)
	}
	if res.Size.Height < 2 {
		t.Errorf("Height = %d, want >= 2 (heading plus body)", res.Size.Height)
	}
}

func TestMarkupRenderer_ReusesRendererPerWidth(t *testing.T) {
	r := NewMarkupRenderer()
	ctx := context.Background()
	if _, err := r.Render(ctx, Unit{Content: "one"}, 60); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Render(ctx, Unit{Content: "two"}, 60); err != nil {
		t.Fatal(err)
	}

	count := 0
	r.renderers.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Errorf("cached renderers = %d, want 1 for a single width", count)
	}
}

// slowSurface blocks in Load until the context is cancelled.
type slowSurface struct{}

func (slowSurface) Load(ctx context.Context, _ string, _ int) (string, pool.Extent, error) {
	<-ctx.Done()
	return "", pool.Extent{}, ctx.Err()
}
func (slowSurface) Reset()        {}
func (slowSurface) Healthy() bool { return true }
func (slowSurface) Close() error  { return nil }

func TestEmbeddedRenderer_TimeoutIsRecoverable(t *testing.T) {
	p := pool.New(1, 100*time.Millisecond, func() (pool.Surface, error) {
		return slowSurface{}, nil
	})
	defer p.Close()

	r := NewEmbeddedRenderer(p, 50*time.Millisecond)
	_, err := r.Render(context.Background(), Unit{Content: "```go\nx\n```", Class: ClassEmbedded}, 80)
	if !errors.Is(err, ErrRenderTimeout) {
		t.Fatalf("Render() error = %v, want ErrRenderTimeout", err)
	}
}

func TestEmbeddedRenderer_PoolExhaustedSurfaces(t *testing.T) {
	p := pool.New(1, 30*time.Millisecond, func() (pool.Surface, error) {
		return slowSurface{}, nil
	})
	defer p.Close()

	// Occupy the only surface.
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer lease.Release()

	r := NewEmbeddedRenderer(p, time.Second)
	_, err = r.Render(context.Background(), Unit{Content: "x", Class: ClassEmbedded}, 80)
	if !errors.Is(err, pool.ErrPoolExhausted) {
		t.Fatalf("Render() error = %v, want ErrPoolExhausted", err)
	}
}

func TestEmbeddedRenderer_HighlightSurface(t *testing.T) {
	p := pool.New(2, time.Second, NewHighlightSurface)
	defer p.Close()

	r := NewEmbeddedRenderer(p, 2*time.Second)
	unit := Unit{
		Content: "```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```",
		Class:   ClassEmbedded,
	}
	res, err := r.Render(context.Background(), unit, 80)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Styled == "" {
		t.Fatal("Render() produced empty output")
	}
	if !strings.Contains(res.Styled, "main") {
		t.Errorf("styled output should contain source text, got %q", res.Styled)
	}
	if res.Size.Height < 3 {
		t.Errorf("Height = %d, want >= 3", res.Size.Height)
	}
}

func TestEmbeddedRenderer_ConcurrentRendersBounded(t *testing.T) {
	const capacity = 2
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	p := pool.New(capacity, 200*time.Millisecond, func() (pool.Surface, error) {
		return countingSurface{mu: &mu, inFlight: &inFlight, max: &maxInFlight}, nil
	})
	defer p.Close()
	r := NewEmbeddedRenderer(p, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Render(context.Background(), Unit{Content: "x"}, 80)
		}()
	}
	wg.Wait()

	if maxInFlight > capacity {
		t.Errorf("max concurrent loads = %d, want <= %d", maxInFlight, capacity)
	}
}

type countingSurface struct {
	mu       *sync.Mutex
	inFlight *int
	max      *int
}

func (s countingSurface) Load(ctx context.Context, content string, width int) (string, pool.Extent, error) {
	s.mu.Lock()
	*s.inFlight++
	if *s.inFlight > *s.max {
		*s.max = *s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	*s.inFlight--
	s.mu.Unlock()
	return content, pool.Extent{Width: width, Height: 1}, nil
}
func (countingSurface) Reset()        {}
func (countingSurface) Healthy() bool { return true }
func (countingSurface) Close() error  { return nil }

func TestSplitFence(t *testing.T) {
	source, lang := splitFence("```go\nfunc f() {}\n```")
	if lang != "go" {
		t.Errorf("lang = %q, want %q", lang, "go")
	}
	if source != "func f() {}" {
		t.Errorf("source = %q, want %q", source, "func f() {}")
	}

	source, lang = splitFence("no fence here")
	if lang != "" || source != "no fence here" {
		t.Errorf("splitFence(plain) = (%q, %q), want passthrough", source, lang)
	}
}

func TestContentClass_String(t *testing.T) {
	if ClassPlain.String() != "plain" || ClassEmbedded.String() != "embedded" {
		t.Error("ContentClass labels changed unexpectedly")
	}
}
