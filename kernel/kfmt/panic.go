package kfmt

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/cpu"
)

// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
var cpuHaltFn = cpu.Halt

// Panic prints a diagnostic for an unrecoverable condition and halts the
// CPU. It is the terminal path for failures outside the load pipeline
// (whose own fatal handler resets through the platform shim instead, where
// a reboot is friendlier than a dead machine). Panic never returns.
func Panic(err *kernel.Error) {
	if err != nil {
		Printf("\nunrecoverable error in %s: %s\n", err.Module, err.Message)
	}
	Printf("*** boot loader halted ***\n")

	cpuHaltFn()
}
