// Package console manages the loader's debug console. The debug console is
// a plain byte sink (a serial port, an EFI text protocol wrapper); kfmt
// output is routed to it while it is attached. On the EFI path the console
// may be backed by firmware boot services, so the pipeline detaches it
// before ExitBootServices is called.
package console

import (
	"io"

	"github.com/gil0mendes/LAOS/kernel/kfmt"
)

var debug io.Writer

// SetDebug attaches w as the debug console and routes kfmt output to it.
func SetDebug(w io.Writer) {
	debug = w
	kfmt.SetOutputSink(w)
}

// DetachDebug disconnects the debug console. Any kfmt output after this
// point accumulates in the early print buffer instead of touching the
// (possibly invalidated) console device.
func DetachDebug() {
	debug = nil
	kfmt.SetOutputSink(nil)
}

// Attached reports whether a debug console is currently connected.
func Attached() bool {
	return debug != nil
}
