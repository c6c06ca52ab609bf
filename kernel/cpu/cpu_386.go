// +build 386

package cpu

var (
	cpuidFn = ID
)

// Halt stops instruction execution.
func Halt()

// DisableInterrupts masks all maskable interrupts.
func DisableInterrupts()

// FlushCaches writes back and invalidates the CPU caches (WBINVD).
func FlushCaches()

// ID returns information about the CPU and its features.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 &&
		edx == 0x49656e69 &&
		ecx == 0x6c65746e
}

// SupportsPAE reports whether the CPU advertises the PAE feature bit,
// required for the 32-bit PAE-style large addressing mode.
func SupportsPAE() bool {
	_, _, _, edx := cpuidFn(1)
	const paeBit = 1 << 6
	return edx&paeBit != 0
}

// SupportsLongMode reports whether the CPU advertises the long-mode
// feature bit via the extended CPUID leaf. CPUID is available from 32-bit
// protected mode, so a 32-bit loader can still inspect it before honoring
// a 64-bit LOAD tag.
func SupportsLongMode() bool {
	maxExtLeaf, _, _, _ := cpuidFn(0x80000000)
	if maxExtLeaf < 0x80000001 {
		return false
	}

	_, _, _, edx := cpuidFn(0x80000001)
	const longModeBit = 1 << 29
	return edx&longModeBit != 0
}
