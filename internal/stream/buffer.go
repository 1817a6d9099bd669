package stream

import (
	"sort"
	"time"
)

// TruncationMarker is prepended to Content when the head of the message
// was dropped to stay under the byte cap. Chat UIs show the tail during
// overflow, so the oldest prefix is the part that goes.
const TruncationMarker = "[earlier content truncated]\n"

// Defaults for SequencedBuffer limits.
const (
	DefaultHoldingCap = 32
	DefaultGapTimeout = 2 * time.Second
	DefaultMaxBytes   = 1 << 20 // 1 MiB per message
)

type heldChunk struct {
	chunk   Chunk
	arrived time.Time
}

// SequencedBuffer accumulates the contiguous prefix of a chunk sequence for
// one message. Chunks arriving ahead of the expected sequence are parked in
// a bounded holding map; chunks below it are rejected as duplicates.
// Ordering is best-effort: when the holding map overflows or a gap persists
// past the gap timeout, the gap is skipped permanently rather than growing
// memory without bound.
//
// The buffer is not internally synchronized; the owning session serializes
// access.
type SequencedBuffer struct {
	messageID    string
	nextExpected uint64
	held         map[uint64]heldChunk
	gapSince     time.Time

	content   []byte
	totalLen  int // length of the full logical content, pre-truncation
	truncated bool
	unflushed int // bytes appended since the last MarkFlushed
	final     bool

	holdingCap int
	gapTimeout time.Duration
	maxBytes   int

	now func() time.Time
}

// BufferOption configures a SequencedBuffer.
type BufferOption func(*SequencedBuffer)

// WithHoldingCap bounds the out-of-order holding map.
func WithHoldingCap(n int) BufferOption {
	return func(b *SequencedBuffer) {
		if n > 0 {
			b.holdingCap = n
		}
	}
}

// WithGapTimeout sets how long a sequence gap may block reassembly before
// it is skipped.
func WithGapTimeout(d time.Duration) BufferOption {
	return func(b *SequencedBuffer) {
		if d > 0 {
			b.gapTimeout = d
		}
	}
}

// WithMaxBytes caps the retained content size.
func WithMaxBytes(n int) BufferOption {
	return func(b *SequencedBuffer) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) BufferOption {
	return func(b *SequencedBuffer) { b.now = now }
}

// NewSequencedBuffer creates a buffer for the given message.
func NewSequencedBuffer(messageID string, opts ...BufferOption) *SequencedBuffer {
	b := &SequencedBuffer{
		messageID:  messageID,
		held:       make(map[uint64]heldChunk),
		holdingCap: DefaultHoldingCap,
		gapTimeout: DefaultGapTimeout,
		maxBytes:   DefaultMaxBytes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MessageID returns the message this buffer belongs to.
func (b *SequencedBuffer) MessageID() string { return b.messageID }

// Ingest applies a chunk. A chunk matching the expected sequence is
// appended and the holding map drained for now-contiguous successors; a
// chunk ahead of the expected sequence is held; a chunk behind it fails
// with ErrDuplicateChunk. Ingest never blocks.
func (b *SequencedBuffer) Ingest(c Chunk) (AppendedRange, error) {
	if b.final {
		return AppendedRange{}, ErrBufferClosed
	}

	switch {
	case c.Sequence < b.nextExpected:
		return AppendedRange{}, ErrDuplicateChunk

	case c.Sequence > b.nextExpected:
		if _, dup := b.held[c.Sequence]; dup {
			return AppendedRange{}, ErrDuplicateChunk
		}
		if len(b.held) >= b.holdingCap {
			b.dropOldestHeld()
		}
		b.held[c.Sequence] = heldChunk{chunk: c, arrived: b.now()}
		if b.gapSince.IsZero() {
			b.gapSince = b.now()
		}
		return AppendedRange{Start: b.totalLen, End: b.totalLen}, nil
	}

	start := b.totalLen
	b.append(c)
	b.drainHeld()
	return AppendedRange{Start: start, End: b.totalLen}, nil
}

// SkipStaleGaps advances past a sequence gap that has been open longer
// than the gap timeout, draining whatever held chunks become contiguous.
// Returns the number of sequence numbers skipped. The caller logs a
// SequenceGapTimeout when the result is nonzero.
func (b *SequencedBuffer) SkipStaleGaps() int {
	if b.final || len(b.held) == 0 || b.gapSince.IsZero() {
		return 0
	}
	if b.now().Sub(b.gapSince) < b.gapTimeout {
		return 0
	}

	lowest := b.lowestHeld()
	skipped := int(lowest - b.nextExpected)
	b.nextExpected = lowest
	b.drainHeld()
	return skipped
}

// Content returns the materialized contiguous content, with a truncation
// marker prepended when the head has been dropped.
func (b *SequencedBuffer) Content() string {
	if b.truncated {
		return TruncationMarker + string(b.content)
	}
	return string(b.content)
}

// Len returns the retained content length in bytes, excluding any marker.
func (b *SequencedBuffer) Len() int { return len(b.content) }

// TotalLen returns the length of the full logical content, including
// bytes since dropped by truncation.
func (b *SequencedBuffer) TotalLen() int { return b.totalLen }

// Unflushed returns the number of bytes appended since the last flush.
func (b *SequencedBuffer) Unflushed() int { return b.unflushed }

// MarkFlushed resets the unflushed counter after the owner snapshots the
// content for rendering.
func (b *SequencedBuffer) MarkFlushed() { b.unflushed = 0 }

// Final reports whether the chunk marked final has been applied to the
// contiguous prefix.
func (b *SequencedBuffer) Final() bool { return b.final }

// Truncated reports whether the head of the content was dropped.
func (b *SequencedBuffer) Truncated() bool { return b.truncated }

// Pending returns the number of held out-of-order chunks.
func (b *SequencedBuffer) Pending() int { return len(b.held) }

func (b *SequencedBuffer) append(c Chunk) {
	b.content = append(b.content, c.Payload...)
	b.totalLen += len(c.Payload)
	b.unflushed += len(c.Payload)
	b.nextExpected = c.Sequence + 1
	if c.Final {
		b.final = true
		b.held = nil
	}
	if len(b.content) > b.maxBytes {
		over := len(b.content) - b.maxBytes
		b.content = append(b.content[:0], b.content[over:]...)
		b.truncated = true
	}
}

func (b *SequencedBuffer) drainHeld() {
	for {
		h, ok := b.held[b.nextExpected]
		if !ok {
			break
		}
		delete(b.held, b.nextExpected)
		b.append(h.chunk)
		if b.final {
			return
		}
	}
	if len(b.held) == 0 {
		b.gapSince = time.Time{}
	} else {
		// A gap remains; restart the clock from the most recent progress.
		b.gapSince = b.now()
	}
}

func (b *SequencedBuffer) dropOldestHeld() {
	var oldest uint64
	first := true
	for seq, h := range b.held {
		if first || h.arrived.Before(b.held[oldest].arrived) {
			oldest = seq
			first = false
		}
	}
	if !first {
		delete(b.held, oldest)
	}
}

func (b *SequencedBuffer) lowestHeld() uint64 {
	seqs := make([]uint64, 0, len(b.held))
	for seq := range b.held {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs[0]
}
