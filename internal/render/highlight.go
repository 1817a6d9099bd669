package render

import (
	"context"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/streamrow/streamrow/internal/pool"
)

// HighlightSurface is the in-tree embedded surface: a stateful syntax
// highlighting context built on chroma. Tokenizing plus ANSI formatting
// is the expensive layout step; the surface keeps its formatter and style
// across leases and only its loaded content is cleared on reset.
type HighlightSurface struct {
	mu        sync.Mutex
	formatter chroma.Formatter
	style     *chroma.Style
	content   string
	faulted   bool
}

// NewHighlightSurface creates a highlight surface. Use it as the factory
// for a pool of embedded render contexts.
func NewHighlightSurface() (pool.Surface, error) {
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	// Monokai reads well on dark backgrounds.
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	return &HighlightSurface{formatter: formatter, style: style}, nil
}

// Load tokenizes and formats the content, honoring ctx between phases,
// and reports the measured extent of the styled output.
func (s *HighlightSurface) Load(ctx context.Context, content string, width int) (string, pool.Extent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", pool.Extent{}, err
	}

	source, lang := splitFence(content)
	lexer := pickLexer(lang, source)

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		s.faulted = true
		return "", pool.Extent{}, err
	}

	if err := ctx.Err(); err != nil {
		return "", pool.Extent{}, err
	}

	var buf strings.Builder
	if err := s.formatter.Format(&buf, s.style, iterator); err != nil {
		s.faulted = true
		return "", pool.Extent{}, err
	}

	styled := strings.TrimRight(buf.String(), "\n")
	styled = Wrap(styled, width)
	s.content = styled

	size := Measure(styled)
	return styled, pool.Extent{Width: size.Width, Height: size.Height}, nil
}

// Reset clears loaded content so the next lease starts blank.
func (s *HighlightSurface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = ""
}

// Healthy reports whether the surface can be reused.
func (s *HighlightSurface) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.faulted
}

// Close releases the surface.
func (s *HighlightSurface) Close() error { return nil }

// splitFence strips a surrounding markdown code fence, returning the
// inner source and the fence's language tag if present. Content without
// a fence passes through unchanged.
func splitFence(content string) (source, lang string) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content, ""
	}
	body := strings.TrimPrefix(trimmed, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return content, ""
	}
	lang = strings.TrimSpace(body[:nl])
	source = body[nl+1:]
	source = strings.TrimSuffix(strings.TrimRight(source, " \t\n"), "```")
	return strings.TrimRight(source, "\n"), lang
}

func pickLexer(lang, source string) chroma.Lexer {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
