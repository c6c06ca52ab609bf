package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{
			func() { printfn("no args") },
			"no args",
		},
		// bool values
		{
			func() { printfn("%t", true) },
			"true",
		},
		{
			func() { printfn("%t and %t", false, true) },
			"false and true",
		},
		// strings and byte slices
		{
			func() { printfn("loading module '%s'", "mod.a") },
			"loading module 'mod.a'",
		},
		{
			func() { printfn("%s arg", []byte("BYTE SLICE")) },
			"BYTE SLICE arg",
		},
		{
			func() { printfn("'%6s' padded", "abc") },
			"'   abc' padded",
		},
		{
			func() { printfn("'%2s' longer than width", "abcde") },
			"'abcde' longer than width",
		},
		// unsigned values
		{
			func() { printfn("size: %d", uint8(10)) },
			"size: 10",
		},
		{
			func() { printfn("mode: %o", uint16(0777)) },
			"mode: 777",
		},
		{
			func() { printfn("phys: 0x%x", uint32(0xbadf00d)) },
			"phys: 0xbadf00d",
		},
		{
			func() { printfn("'%10d' space padded", uint64(123)) },
			"'       123' space padded",
		},
		{
			func() { printfn("'0x%10x' zero padded", uint64(0xbadf00d)) },
			"'0x000badf00d' zero padded",
		},
		{
			func() { printfn("'0x%5x' longer than width", uint64(0xbadf00d)) },
			"'0xbadf00d' longer than width",
		},
		{
			func() { printfn("trampoline at physical 0x%x", uintptr(0xb8000)) },
			"trampoline at physical 0xb8000",
		},
		// signed values
		{
			func() { printfn("%d", int8(-10)) },
			"-10",
		},
		{
			func() { printfn("%x", int32(-0xbadf00d)) },
			"-badf00d",
		},
		{
			func() { printfn("'%6d' sign counts toward width", int16(-123)) },
			"'-  123' sign counts toward width",
		},
		// multiple arguments and literal %
		{
			func() { printfn("%%%s%d%t", "foo", 123, true) },
			"%foo123true",
		},
		// malformed calls render inline markers
		{
			func() { printfn("surplus args are ignored", "foo", "bar") },
			"surplus args are ignored",
		},
		{
			func() { printfn("missing arg: %s") },
			"missing arg: <missing>",
		},
		{
			func() { printfn("bad verb %Q") },
			"bad verb <badverb>",
		},
		{
			func() { printfn("dangling %") },
			"dangling <badverb>",
		},
		{
			func() { printfn("not bool %t", "foo") },
			"not bool <badtype>",
		},
		{
			func() { printfn("not int %d", "foo") },
			"not int <badtype>",
		},
		{
			func() { printfn("not string %s", 123) },
			"not string <badtype>",
		},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		spec.fn()

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}
	}
}

func TestPrintfTruncatesAtLineBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	long := strings.Repeat("x", lineBufSize+100)
	Printf("%s", long)

	if got := buf.Len(); got != lineBufSize {
		t.Fatalf("expected output truncated to %d bytes, got %d", lineBufSize, got)
	}
}

func TestPrintfToEarlyBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	// With no sink attached, output lands in the early log buffer and is
	// replayed once a debug console shows up.
	exp := "initium: version 1 image, flags 0x0"
	Printf("initium: version %d image, flags 0x%x", uint32(1), uint32(0))

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}

	// Detaching buffers again; re-attaching replays only the new output.
	SetOutputSink(nil)
	Printf("after detach")

	buf.Reset()
	SetOutputSink(&buf)

	if got := buf.String(); got != "after detach" {
		t.Fatalf("expected post-detach replay %q, got %q", "after detach", got)
	}
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer

	Fprintf(&buf, "entry point at 0x%x", uint64(0xffffffff80100000))

	exp := "entry point at 0xffffffff80100000"
	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}
