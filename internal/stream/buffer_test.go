package stream

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func chunk(id string, seq uint64, payload string) Chunk {
	return Chunk{MessageID: id, Sequence: seq, Payload: []byte(payload)}
}

func TestSequencedBuffer_InOrder(t *testing.T) {
	b := NewSequencedBuffer("m1")

	r, err := b.Ingest(chunk("m1", 0, "Hello "))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if r.Start != 0 || r.End != 6 {
		t.Errorf("AppendedRange = %+v, want {0 6}", r)
	}

	if _, err := b.Ingest(chunk("m1", 1, "World")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := b.Content(); got != "Hello World" {
		t.Errorf("Content() = %q, want %q", got, "Hello World")
	}
}

func TestSequencedBuffer_ReorderScenario(t *testing.T) {
	// seq=0 "Hel", seq=2 "o!", seq=1 "l" in that arrival order.
	b := NewSequencedBuffer("m1")

	b.Ingest(chunk("m1", 0, "Hel"))
	if got := b.Content(); got != "Hel" {
		t.Fatalf("Content() = %q, want %q", got, "Hel")
	}

	r, err := b.Ingest(chunk("m1", 2, "o!"))
	if err != nil {
		t.Fatalf("Ingest(seq=2) error = %v", err)
	}
	if !r.Empty() {
		t.Errorf("out-of-order chunk should append nothing, got %+v", r)
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}

	r, err = b.Ingest(chunk("m1", 1, "l"))
	if err != nil {
		t.Fatalf("Ingest(seq=1) error = %v", err)
	}
	if got := b.Content(); got != "Hello!" {
		t.Errorf("Content() = %q, want %q", got, "Hello!")
	}
	if r.End-r.Start != 3 {
		t.Errorf("drain should have appended 3 bytes, got %+v", r)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after drain", b.Pending())
	}
}

func TestSequencedBuffer_PermutationIdempotence(t *testing.T) {
	parts := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "over ", "the ", "lazy ", "dog."}
	want := strings.Join(parts, "")

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		order := rng.Perm(len(parts))
		b := NewSequencedBuffer("m1")
		for _, i := range order {
			if _, err := b.Ingest(chunk("m1", uint64(i), parts[i])); err != nil {
				t.Fatalf("trial %d: Ingest(seq=%d) error = %v", trial, i, err)
			}
		}
		if got := b.Content(); got != want {
			t.Fatalf("trial %d (order %v): Content() = %q, want %q", trial, order, got, want)
		}
	}
}

func TestSequencedBuffer_DuplicateSafety(t *testing.T) {
	b := NewSequencedBuffer("m1")
	b.Ingest(chunk("m1", 0, "abc"))

	_, err := b.Ingest(chunk("m1", 0, "abc"))
	if !errors.Is(err, ErrDuplicateChunk) {
		t.Fatalf("Ingest(dup) error = %v, want ErrDuplicateChunk", err)
	}
	if got := b.Content(); got != "abc" {
		t.Errorf("Content() = %q after duplicate, want %q", got, "abc")
	}

	// Duplicate of a held out-of-order chunk.
	b.Ingest(chunk("m1", 5, "zzz"))
	if _, err := b.Ingest(chunk("m1", 5, "zzz")); !errors.Is(err, ErrDuplicateChunk) {
		t.Errorf("Ingest(held dup) error = %v, want ErrDuplicateChunk", err)
	}
}

func TestSequencedBuffer_HoldingCapDropsOldest(t *testing.T) {
	b := NewSequencedBuffer("m1", WithHoldingCap(3))
	b.Ingest(chunk("m1", 0, "a"))

	// Hold 2, 3, 4; then 5 should push out the oldest arrival (2).
	for seq := uint64(2); seq <= 5; seq++ {
		b.Ingest(chunk("m1", seq, fmt.Sprintf("%d", seq)))
	}
	if b.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", b.Pending())
	}

	// Fill the gap: seq 2 was dropped, so only 1, 3, 4, 5 materialize.
	b.Ingest(chunk("m1", 1, "b"))
	if got := b.Content(); got != "ab" {
		t.Errorf("Content() = %q, want %q (seq 2 dropped leaves a gap)", got, "ab")
	}
}

func TestSequencedBuffer_GapTimeoutSkips(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewSequencedBuffer("m1", WithGapTimeout(time.Second), WithClock(clock))

	b.Ingest(chunk("m1", 0, "start "))
	b.Ingest(chunk("m1", 2, "end"))

	if skipped := b.SkipStaleGaps(); skipped != 0 {
		t.Fatalf("SkipStaleGaps() = %d before timeout, want 0", skipped)
	}

	now = now.Add(2 * time.Second)
	if skipped := b.SkipStaleGaps(); skipped != 1 {
		t.Fatalf("SkipStaleGaps() = %d, want 1", skipped)
	}
	if got := b.Content(); got != "start end" {
		t.Errorf("Content() = %q, want %q", got, "start end")
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestSequencedBuffer_TruncationKeepsTail(t *testing.T) {
	b := NewSequencedBuffer("m1", WithMaxBytes(10))
	b.Ingest(chunk("m1", 0, "0123456789"))
	b.Ingest(chunk("m1", 1, "ABCDE"))

	if !b.Truncated() {
		t.Fatal("Truncated() = false, want true")
	}
	want := TruncationMarker + "56789ABCDE"
	if got := b.Content(); got != want {
		t.Errorf("Content() = %q, want %q", got, want)
	}
	if b.TotalLen() != 15 {
		t.Errorf("TotalLen() = %d, want 15", b.TotalLen())
	}
}

func TestSequencedBuffer_FinalClosesBuffer(t *testing.T) {
	b := NewSequencedBuffer("m1")
	b.Ingest(chunk("m1", 0, "done"))
	b.Ingest(Chunk{MessageID: "m1", Sequence: 1, Payload: []byte("."), Final: true})

	if !b.Final() {
		t.Fatal("Final() = false after final chunk applied")
	}
	if _, err := b.Ingest(chunk("m1", 2, "late")); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Ingest after final error = %v, want ErrBufferClosed", err)
	}
}

func TestSequencedBuffer_UnflushedTracking(t *testing.T) {
	b := NewSequencedBuffer("m1")
	b.Ingest(chunk("m1", 0, "12345"))
	if b.Unflushed() != 5 {
		t.Fatalf("Unflushed() = %d, want 5", b.Unflushed())
	}
	b.MarkFlushed()
	if b.Unflushed() != 0 {
		t.Fatalf("Unflushed() = %d after MarkFlushed, want 0", b.Unflushed())
	}
	b.Ingest(chunk("m1", 1, "67"))
	if b.Unflushed() != 2 {
		t.Errorf("Unflushed() = %d, want 2", b.Unflushed())
	}
}
