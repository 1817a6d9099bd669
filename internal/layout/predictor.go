package layout

import (
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/streamrow/streamrow/internal/render"
)

// Predictor defaults.
const (
	predictorAlpha   = 0.2 // EWMA smoothing for height-per-char samples
	defaultOverhead  = 1   // structural rows beyond raw text (headers, padding)
	fallbackPerWidth = 1.0 // chars-per-cell assumption before any samples
)

type classStats struct {
	perChar float64 // EWMA of rows contributed per character at width 1
	samples int
}

// Predictor estimates row heights from partial content before a real
// measurement exists, keeping a per-content-class moving average of
// height per character that each real measurement refines.
type Predictor struct {
	mu       sync.Mutex
	classes  map[render.ContentClass]*classStats
	overhead int
}

// NewPredictor creates a predictor with the default structural overhead.
func NewPredictor() *Predictor {
	return &Predictor{
		classes:  make(map[render.ContentClass]*classStats),
		overhead: defaultOverhead,
	}
}

// Predict estimates the height of contentLen characters of the given
// class at the constraint width. Before any observation it falls back to
// a plain chars-per-line estimate.
func (p *Predictor) Predict(class render.ContentClass, contentLen, width int) int {
	if width <= 0 {
		width = 1
	}
	if contentLen <= 0 {
		return p.overhead
	}

	p.mu.Lock()
	stats, ok := p.classes[class]
	p.mu.Unlock()

	var rows float64
	if ok && stats.samples > 0 {
		rows = stats.perChar * float64(contentLen)
	} else {
		rows = float64(contentLen) / (float64(width) * fallbackPerWidth)
	}

	h := int(rows) + p.overhead
	if h < 1 {
		h = 1
	}
	return h
}

// Observe refines the class average with a real measurement.
func (p *Predictor) Observe(class render.ContentClass, contentLen, measuredHeight int) {
	if contentLen <= 0 || measuredHeight <= 0 {
		return
	}

	sample := float64(measuredHeight-p.overhead) / float64(contentLen)
	if sample < 0 {
		sample = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stats, ok := p.classes[class]
	if !ok {
		stats = &classStats{perChar: sample}
		p.classes[class] = stats
	} else {
		stats.perChar = stats.perChar*(1-predictorAlpha) + sample*predictorAlpha
	}
	stats.samples++
}

// Samples returns how many measurements have been observed for a class.
func (p *Predictor) Samples(class render.ContentClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stats, ok := p.classes[class]; ok {
		return stats.samples
	}
	return 0
}

// EstimateRows approximates the wrapped row count of raw, unstyled
// content at the given width, counting wide runes as two cells. It is
// the estimator of last resort, before the predictor has seen a single
// real measurement for the content's class.
func EstimateRows(content string, width int) int {
	if width <= 0 || content == "" {
		return 1
	}
	rows := 0
	for _, line := range strings.Split(content, "\n") {
		cells := runewidth.StringWidth(line)
		if cells == 0 {
			rows++
			continue
		}
		rows += 1 + (cells-1)/width
	}
	return rows
}
