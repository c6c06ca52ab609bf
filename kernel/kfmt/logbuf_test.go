package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogBufferReplay(t *testing.T) {
	var (
		b   logBuffer
		buf bytes.Buffer
		exp = "initium: entry point at 0xffffffff80100000"
	)

	b.write([]byte(exp))
	b.replay(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected to replay %q, got %q", exp, got)
	}

	// Replay empties the buffer.
	buf.Reset()
	b.replay(&buf)
	if buf.Len() != 0 {
		t.Fatalf("expected an empty second replay, got %q", buf.String())
	}
}

func TestLogBufferOverwritesOldest(t *testing.T) {
	var (
		b   logBuffer
		buf bytes.Buffer
	)

	// Overfill the buffer; only the most recent earlyBufSize bytes are
	// retained, oldest first.
	head := strings.Repeat("a", 100)
	tail := strings.Repeat("b", earlyBufSize)
	b.write([]byte(head))
	b.write([]byte(tail))

	b.replay(&buf)

	if got := buf.Len(); got != earlyBufSize {
		t.Fatalf("expected %d retained bytes, got %d", earlyBufSize, got)
	}
	if got := buf.String(); got != tail {
		t.Fatal("expected the oldest bytes to have been overwritten")
	}
}

func TestLogBufferWrapAround(t *testing.T) {
	var (
		b   logBuffer
		buf bytes.Buffer
	)

	// Leave the live window straddling the end of the backing array: the
	// replay must stitch the two halves in order.
	b.write([]byte(strings.Repeat("x", earlyBufSize-4)))
	b.write([]byte("ABCDEFGH"))

	b.replay(&buf)

	exp := strings.Repeat("x", earlyBufSize-8) + "ABCDEFGH"
	if got := buf.String(); got != exp {
		t.Fatalf("expected the wrapped replay to keep byte order, got tail %q", buf.String()[buf.Len()-12:])
	}
}
