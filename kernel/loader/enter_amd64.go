// +build amd64

package loader

// enterKernel installs the trampoline address space and jumps to the
// trampoline page at its kernel virtual address, which the temporary address
// space maps as well. argsPhys is the physical address of the entry
// arguments; they are read before the switch. It never returns.
func enterKernel(argsPhys uint64)
