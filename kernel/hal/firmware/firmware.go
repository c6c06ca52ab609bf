// Package firmware declares the platform shim contract. Each firmware
// backend (BIOS, EFI) provides one Platform implementation, registered at
// startup; the pipeline calls through it for the physical memory map, the
// loader's own extent and the exit-boot-services handoff.
package firmware

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/initium/memmgr"
)

// Platform is the firmware backend the loader runs on.
type Platform interface {
	// Name identifies the backend ("bios", "efi").
	Name() string

	// DetectMemory delivers the firmware's physical memory map into the
	// memory manager: reserved and firmware-owned regions are inserted
	// as typed ranges. Called once at startup, before any loader
	// allocation and therefore before the map is finalized.
	DetectMemory(mm *memmgr.Manager) *kernel.Error

	// LoaderExtent returns the loader image's own range: its virtual
	// start address, the physical address backing it, and its size,
	// all page-rounded. The trampoline setup identity-maps this range
	// and keeps it out of the kernel's virtual allocator.
	LoaderExtent() (virt, phys, size uint64)

	// ExitBootServices relinquishes firmware services. After it returns
	// no firmware calls, device I/O or firmware-backed console output
	// are permitted. On BIOS this is a no-op.
	ExitBootServices() *kernel.Error

	// Reboot restarts the machine. Used as the terminal action of the
	// fatal error path.
	Reboot()
}

var active Platform

// Set registers the running platform. Called once by the backend's
// entry point.
func Set(p Platform) {
	active = p
}

// Active returns the registered platform, or nil before startup completes.
func Active() Platform {
	return active
}
