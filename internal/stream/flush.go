package stream

import (
	"strings"
	"time"
)

// FlushReason explains why buffered content became renderable.
type FlushReason int

const (
	FlushNone FlushReason = iota
	FlushComplete
	FlushSizeThreshold
	FlushBoundary
	FlushMaxWait
)

// String returns a short label for logging.
func (r FlushReason) String() string {
	switch r {
	case FlushComplete:
		return "complete"
	case FlushSizeThreshold:
		return "size"
	case FlushBoundary:
		return "boundary"
	case FlushMaxWait:
		return "max-wait"
	default:
		return "none"
	}
}

// Flush policy defaults.
const (
	DefaultSizeThreshold = 100
	DefaultMaxWait       = 150 * time.Millisecond
)

// boundaryChars end a sentence or paragraph. Content ending on one of
// these flushes early so readers see complete thoughts, not mid-word
// fragments. Fullwidth variants cover CJK output.
const boundaryChars = ".!?\n。！？"

// FlushInput is the state the policy decides over. The policy itself has
// no side effects and touches neither the network nor the renderer.
type FlushInput struct {
	Unflushed int
	Total     int
	Elapsed   time.Duration
	Complete  bool
	Tail      string // trailing content, used for boundary detection
}

// FlushPolicy decides when buffered bytes become a renderable unit.
type FlushPolicy struct {
	SizeThreshold int
	MaxWait       time.Duration
}

// NewFlushPolicy returns a policy with the given thresholds, substituting
// defaults for non-positive values.
func NewFlushPolicy(sizeThreshold int, maxWait time.Duration) FlushPolicy {
	if sizeThreshold <= 0 {
		sizeThreshold = DefaultSizeThreshold
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return FlushPolicy{SizeThreshold: sizeThreshold, MaxWait: maxWait}
}

// Decide evaluates the triggers in priority order: completion, size
// threshold, sentence boundary, max wait. First match wins.
func (p FlushPolicy) Decide(in FlushInput) (bool, FlushReason) {
	if in.Complete {
		return true, FlushComplete
	}
	if in.Unflushed == 0 {
		return false, FlushNone
	}
	if in.Unflushed >= p.SizeThreshold {
		return true, FlushSizeThreshold
	}
	if endsOnBoundary(in.Tail) {
		return true, FlushBoundary
	}
	if in.Elapsed >= p.MaxWait {
		return true, FlushMaxWait
	}
	return false, FlushNone
}

func endsOnBoundary(tail string) bool {
	trimmed := strings.TrimRight(tail, " \t")
	if trimmed == "" {
		return false
	}
	r := []rune(trimmed)
	return strings.ContainsRune(boundaryChars, r[len(r)-1])
}
