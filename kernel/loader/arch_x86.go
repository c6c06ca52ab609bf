package loader

import (
	"github.com/gil0mendes/LAOS/kernel/cpu"
	"github.com/gil0mendes/LAOS/kernel/initium/itag"
	"github.com/gil0mendes/LAOS/kernel/initium/mmu"
	"github.com/gil0mendes/LAOS/kernel/initium/wire"
	"github.com/gil0mendes/LAOS/kernel/kfmt"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

// Entry arguments for the kernel, laid out at the start of the trampoline
// page. The trampoline code blob follows at argsCodeOffset and reads these
// fields relative to the args pointer it is entered with.
const (
	argsTrampolineCR3  = 0
	argsTrampolineVirt = 8
	argsKernelCR3      = 16
	argsSP             = 24
	argsEntry          = 32
	argsTags           = 40
	argsCodeOffset     = 48
)

// The following functions are mocked by tests and are automatically
// inlined by the compiler.
var (
	supportsLongModeFn  = cpu.SupportsLongMode
	disableInterruptsFn = cpu.DisableInterrupts
	flushCachesFn       = cpu.FlushCaches

	// enterKernelFn is the point of no return; tests mock it to capture
	// the final machine state instead of jumping into it.
	enterKernelFn = enterKernel
)

// trampoline64 switches from the temporary address space to the kernel's.
// Contract: entered in 64-bit mode with SI holding the virtual address of
// the entry arguments (the trampoline page itself).
var trampoline64 = []byte{
	0x48, 0x8b, 0x46, 0x10, // mov rax, [rsi+16]   kernel CR3
	0x0f, 0x22, 0xd8, //       mov cr3, rax
	0x48, 0x8b, 0x66, 0x18, // mov rsp, [rsi+24]   kernel stack pointer
	0x48, 0x8b, 0x7e, 0x28, // mov rdi, [rsi+40]   tag list virtual address
	0x48, 0x8b, 0x46, 0x20, // mov rax, [rsi+32]   kernel entry point
	0x31, 0xed, //             xor ebp, ebp
	0xff, 0xe0, //             jmp rax
}

// trampoline32 is the 32-bit variant; same contract with ESI.
var trampoline32 = []byte{
	0x8b, 0x46, 0x10, // mov eax, [esi+16]
	0x0f, 0x22, 0xd8, // mov cr3, eax
	0x8b, 0x66, 0x18, // mov esp, [esi+24]
	0x8b, 0x7e, 0x28, // mov edi, [esi+40]
	0x8b, 0x46, 0x20, // mov eax, [esi+32]
	0x31, 0xed, //       xor ebp, ebp
	0xff, 0xe0, //       jmp eax
}

// archCheckKernel verifies the CPU can host the kernel's mode.
func (l *Loader) archCheckKernel() {
	if l.mode == mmu.Mode64 && !supportsLongModeFn() {
		bootErrorFn("64-bit kernel requires 64-bit CPU")
	}
}

// canonicalRange reports whether [base, base+size) lies entirely within
// one canonical half of the 64-bit address space.
func canonicalRange(base, size uint64) bool {
	end := base + size - 1
	canonical := func(addr uint64) bool {
		return uint64(int64(addr<<16)>>16) == addr
	}
	return canonical(base) && canonical(end) && base>>47 == end>>47
}

// archCheckLoadParams fills the architecture defaults of the LOAD
// parameters: large-page alignment with a 1MB fallback for relocatable
// kernels, and the higher-half window for 64-bit kernels that do not
// declare one.
func (l *Loader) archCheckLoadParams() {
	load := &l.load

	if load.Flags&itag.LoadFixed == 0 && load.Alignment == 0 {
		// Align to the large page size so segments can be mapped with
		// large pages, falling back to 1MB when memory is tight.
		load.Alignment = l.mode.LargePageSize()
		load.MinAlignment = 0x100000
	}

	if l.mode == mmu.Mode64 {
		if load.VirtMapBase != 0 || load.VirtMapSize != 0 {
			if !canonicalRange(load.VirtMapBase, load.VirtMapSize) {
				bootErrorFn("Kernel specifies invalid virtual map range")
				return
			}
		} else {
			// Default to the whole higher half, where fixed kernels
			// link and where the 48-bit space cannot collide with the
			// loader's identity-mapped range.
			load.VirtMapBase = 0xffff800000000000
			load.VirtMapSize = 1 << 47
		}
	}
}

// archSetup installs the recursive page table self-mapping and emits the
// PAGETABLES tag.
func (l *Loader) archSetup() {
	mapping, err := l.mmu.SelfMap(l.load.VirtMapBase, l.load.VirtMapSize)
	if err != nil {
		bootErrorFn("%s", err.Message)
		return
	}

	if err := l.tags.AddPageTables(l.mmu.Root(), mapping); err != nil {
		bootErrorFn("%s", err.Message)
		return
	}

	kfmt.Printf("initium: recursive page table mapping at 0x%x\n", mapping)
}

// archEnter populates the entry arguments, copies the trampoline code into
// its page and jumps in with interrupts masked and caches flushed. It does
// not return.
func (l *Loader) archEnter() {
	kfmt.Printf("initium: entry point at 0x%x, stack at 0x%x\n", l.entry, l.stackBase)

	disableInterruptsFn()
	flushCachesFn()

	page := l.cfg.Mapper.Map(l.trampolinePhys, uint64(mem.PageSize))
	wire.PutU64(page, argsTrampolineCR3, l.trampMMU.Root())
	wire.PutU64(page, argsTrampolineVirt, l.trampolineVirt)
	wire.PutU64(page, argsKernelCR3, l.mmu.Root())
	wire.PutU64(page, argsSP, l.stackBase+uint64(l.stackSize))
	wire.PutU64(page, argsEntry, l.entry)
	wire.PutU64(page, argsTags, l.tagsVirt)

	if l.mode == mmu.Mode64 {
		copy(page[argsCodeOffset:], trampoline64)
	} else {
		copy(page[argsCodeOffset:], trampoline32)
	}

	enterKernelFn(l.trampolinePhys)
}
