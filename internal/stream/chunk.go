// Package stream implements per-message ingestion of out-of-order content
// chunks. A SequencedBuffer reassembles the contiguous prefix of a chunk
// sequence under bounded memory, and a FlushPolicy decides when buffered
// content is worth handing to the renderer.
package stream

import "errors"

// Chunk is one delivered fragment of a streaming message. Chunks are
// immutable once created; ownership transfers to the buffer on ingest.
type Chunk struct {
	MessageID string
	Sequence  uint64
	Payload   []byte
	Final     bool
}

// AppendedRange describes the contiguous region materialized by an ingest,
// in byte offsets relative to the full (untruncated) content.
type AppendedRange struct {
	Start int
	End   int
}

// Empty reports whether the ingest appended nothing (the chunk was held
// for later reordering).
func (r AppendedRange) Empty() bool { return r.Start == r.End }

var (
	// ErrDuplicateChunk is returned for a sequence number at or below the
	// already-applied prefix. Callers log and drop; it is never fatal.
	ErrDuplicateChunk = errors.New("stream: duplicate chunk")

	// ErrBufferClosed is returned when ingesting into a finalized buffer.
	ErrBufferClosed = errors.New("stream: buffer closed")
)
