package kfmt

import "io"

// earlyBufSize is the capacity of the early log buffer. It must be a power
// of two. 2 KiB holds the full diagnostic output of a typical load
// pipeline run.
const earlyBufSize = 2048

// logBuffer retains the most recent earlyBufSize bytes written to it. It
// exists for the two windows in which no debug console is usable: before
// the platform attaches one, and between console detach and the jump into
// the kernel. In the first case the contents are replayed to the console
// when it appears; in the second they stay in memory where a kernel-side
// debugger can find the tail of the loader log.
type logBuffer struct {
	data [earlyBufSize]byte

	// total counts every byte ever written; the live window is the last
	// min(total, earlyBufSize) bytes, located via total modulo the
	// buffer size.
	total uint64
}

// write appends p, overwriting the oldest bytes once the buffer is full.
func (b *logBuffer) write(p []byte) {
	for _, c := range p {
		b.data[b.total&(earlyBufSize-1)] = c
		b.total++
	}
}

// replay emits the retained bytes, oldest first, to w and empties the
// buffer.
func (b *logBuffer) replay(w io.Writer) {
	start := uint64(0)
	if b.total > earlyBufSize {
		start = b.total - earlyBufSize
	}

	first := start & (earlyBufSize - 1)
	retained := b.total - start

	if first+retained <= earlyBufSize {
		w.Write(b.data[first : first+retained])
	} else {
		w.Write(b.data[first:])
		w.Write(b.data[:(first+retained)&(earlyBufSize-1)])
	}

	b.total = 0
}
