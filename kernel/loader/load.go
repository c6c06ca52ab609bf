package loader

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/hal/console"
	"github.com/gil0mendes/LAOS/kernel/hal/device"
	"github.com/gil0mendes/LAOS/kernel/initium/handoff"
	"github.com/gil0mendes/LAOS/kernel/initium/itag"
	"github.com/gil0mendes/LAOS/kernel/initium/memmgr"
	"github.com/gil0mendes/LAOS/kernel/initium/mmu"
	"github.com/gil0mendes/LAOS/kernel/kfmt"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

func isPow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Load runs the kernel-load pipeline and enters the kernel. Every failure
// past this point is fatal; Load does not return.
func (l *Loader) Load() {
	kfmt.Printf("initium: version %d image, flags 0x%x\n", l.image.Version, uint32(l.image.Flags))

	// Check whether the CPU can host the requested mode.
	l.archCheckKernel()

	// Allocate the tag list; the CORE tag is live at arena offset 0 from
	// here on.
	tags, err := handoff.New(l.cfg.Memory, l.cfg.Mapper)
	if err != nil {
		bootErrorFn("%s", err.Message)
		return
	}
	l.tags = tags

	// Validate load parameters and fill in architecture defaults.
	l.validateLoadParams()

	// Create the kernel address space and the virtual allocator, and
	// ensure virtual address 0 is never handed out.
	kctx, err := mmu.Create(l.mode, l.cfg.Mapper, l.allocPageTable)
	if err != nil {
		bootErrorFn("%s", err.Message)
		return
	}
	l.mmu = kctx
	l.allocator.Init(l.load.VirtMapBase, l.load.VirtMapSize)
	l.allocator.Reserve(0, uint64(mem.PageSize))

	// Load the kernel image.
	l.loadSegments()

	// Perform all mappings specified by the kernel image.
	for _, tag := range l.itags.All(itag.Mapping) {
		m := itag.DecodeMapping(tag.Raw)
		if m.Virt == itag.AnyVirt {
			l.allocVirtual(m.Phys, m.Size)
		} else {
			l.mapVirtual(m.Virt, m.Phys, m.Size)
		}
	}

	// Install the recursive page table mapping.
	l.archSetup()

	// Now virtual allocations work, so the tag list itself can be mapped.
	l.tagsVirt = l.allocVirtual(l.tags.Phys(), handoff.ArenaSize)

	l.loadModules()
	l.allocStack()
	l.setupTrampoline()

	// Emit the remaining information tags. All memory allocation is done
	// once the memory map is finalized.
	l.setVideoMode()
	l.addOptionTags()
	l.addBootDevTag()
	l.addMemoryTags()
	l.addVMemTags()
	if err := l.tags.Terminate(); err != nil {
		bootErrorFn("%s", err.Message)
		return
	}

	l.preboot()
	l.archEnter()
}

// validateLoadParams decodes the LOAD tag (synthesizing a zeroed one if
// absent), validates its alignment and virtual map fields and applies the
// architecture defaults.
func (l *Loader) validateLoadParams() {
	if raw, found := l.itags.First(itag.Load); found {
		l.load = itag.DecodeLoad(raw.Raw)

		if !l.checkAlignmentParams() {
			bootErrorFn("Invalid kernel alignment parameters")
			return
		}
		if !l.checkVirtMapParams() {
			bootErrorFn("Invalid kernel virtual map range")
			return
		}
	} else if l.mode != mmu.Mode64 {
		l.load.VirtMapSize = 1 << 32
	}

	l.archCheckLoadParams()
}

func (l *Loader) checkAlignmentParams() bool {
	load := &l.load
	pageSize := uint64(mem.PageSize)

	if load.Alignment != 0 {
		if load.Alignment < pageSize || !isPow2(load.Alignment) {
			return false
		}
	}

	if load.MinAlignment != 0 {
		if load.MinAlignment < pageSize || load.MinAlignment > load.Alignment || !isPow2(load.MinAlignment) {
			return false
		}
	} else {
		load.MinAlignment = load.Alignment
	}

	return true
}

func (l *Loader) checkVirtMapParams() bool {
	load := &l.load
	pageSize := uint64(mem.PageSize)

	switch {
	case load.VirtMapBase%pageSize != 0 || load.VirtMapSize%pageSize != 0:
		return false
	case load.VirtMapBase != 0 && load.VirtMapSize == 0:
		return false
	case load.VirtMapBase+load.VirtMapSize-1 < load.VirtMapBase && (load.VirtMapBase != 0 || load.VirtMapSize != 0):
		return false
	}

	if l.mode != mmu.Mode64 {
		if load.VirtMapBase == 0 && load.VirtMapSize == 0 {
			load.VirtMapSize = 1 << 32
		} else if load.VirtMapBase+load.VirtMapSize > 1<<32 {
			return false
		}
	}

	return true
}

// allocPageTable hands the kernel MMU context a cleared PAGETABLES-typed
// page.
func (l *Loader) allocPageTable() (uint64, *kernel.Error) {
	return l.allocClearedPage(memmgr.PageTables)
}

// allocTrampolineTable hands the trampoline MMU context a cleared
// INTERNAL-typed page, invisible to the kernel.
func (l *Loader) allocTrampolineTable() (uint64, *kernel.Error) {
	return l.allocClearedPage(memmgr.Internal)
}

func (l *Loader) allocClearedPage(typ memmgr.RangeType) (uint64, *kernel.Error) {
	pageSize := uint64(mem.PageSize)

	physAddr, err := l.cfg.Memory.Alloc(pageSize, 0, 0, 0, typ, memmgr.High)
	if err != nil {
		return 0, err
	}

	page := l.cfg.Mapper.Map(physAddr, pageSize)
	for i := range page {
		page[i] = 0
	}
	return physAddr, nil
}

// loadModules reads each bound module into a MODULES-typed physical range
// and emits its MODULE tag, in binding order.
func (l *Loader) loadModules() {
	pageSize := uint64(mem.PageSize)

	for _, mod := range l.modules {
		fileSize := mod.handle.Size()
		size := roundUp(fileSize, pageSize)

		physAddr, err := l.cfg.Memory.Alloc(size, 0, 0, 0, memmgr.Modules, memmgr.High)
		if err != nil {
			bootErrorFn("Error allocating memory for module '%s'", mod.name)
			return
		}

		kfmt.Printf("initium: loading module '%s' to 0x%x (size: %d)\n", mod.name, physAddr, fileSize)

		dst := l.cfg.Mapper.Map(physAddr, size)
		if err := mod.handle.ReadAt(dst[:fileSize], 0); err != nil {
			bootErrorFn("Error reading module '%s': %s", mod.name, err.Message)
			return
		}
		for i := fileSize; i < size; i++ {
			dst[i] = 0
		}

		if err := l.tags.AddModule(physAddr, fileSize, mod.name); err != nil {
			bootErrorFn("%s", err.Message)
			return
		}
	}
}

// allocStack allocates the kernel stack and records it in the CORE tag.
func (l *Loader) allocStack() {
	pageSize := uint64(mem.PageSize)

	physAddr, err := l.cfg.Memory.Alloc(pageSize, 0, 0, 0, memmgr.Stack, memmgr.High)
	if err != nil {
		bootErrorFn("%s", err.Message)
		return
	}

	l.stackBase = l.allocVirtual(physAddr, pageSize)
	l.stackSize = uint32(pageSize)
	l.tags.SetStack(l.stackBase, physAddr, l.stackSize)
}

// setupTrampoline prepares the kernel entry trampoline: a page mapped into
// the kernel's address space plus a temporary address space that identity
// maps the loader and maps that page at the same virtual address it has in
// the kernel's address space, so the final address-space switch runs from
// code that stays mapped on both sides. The trampoline page itself is not
// identity mapped.
func (l *Loader) setupTrampoline() {
	pageSize := uint64(mem.PageSize)

	// Avoid the loader's own address range.
	loaderVirt, loaderPhys, loaderSize := l.cfg.Platform.LoaderExtent()
	l.allocator.Reserve(loaderVirt, loaderSize)

	physAddr, err := l.cfg.Memory.Alloc(pageSize, 0, 0, 0, memmgr.Internal, memmgr.High)
	if err != nil {
		bootErrorFn("%s", err.Message)
		return
	}
	l.trampolinePhys = physAddr
	l.trampolineVirt = l.allocVirtual(physAddr, pageSize)

	tctx, err := mmu.Create(l.mode, l.cfg.Mapper, l.allocTrampolineTable)
	if err != nil {
		bootErrorFn("%s", err.Message)
		return
	}
	l.trampMMU = tctx

	if err := tctx.Map(loaderVirt, loaderPhys, loaderSize); err != nil {
		bootErrorFn("%s", err.Message)
		return
	}
	if err := tctx.Map(l.trampolineVirt, physAddr, pageSize); err != nil {
		bootErrorFn("%s", err.Message)
		return
	}

	kfmt.Printf("initium: trampoline at physical 0x%x, virtual 0x%x\n", l.trampolinePhys, l.trampolineVirt)
}

// setVideoMode maps the selected mode's memory into the kernel address
// space and emits the VIDEO tag. A kernel that did not request video has
// no mode selected and gets no tag.
func (l *Loader) setVideoMode() {
	mode := l.cfg.Environment.VideoMode
	if mode == nil {
		return
	}

	memVirt := l.allocVirtual(mode.MemPhys, roundUp(mode.MemSize, uint64(mem.PageSize)))
	if err := l.tags.AddVideo(mode, memVirt); err != nil {
		bootErrorFn("%s", err.Message)
	}
}

// addOptionTags echoes every kernel-declared option back with its current
// value.
func (l *Loader) addOptionTags() {
	for _, tag := range l.itags.All(itag.Option) {
		opt, valid := itag.DecodeOption(tag.Raw)
		if !valid {
			// Validated during the command phase.
			bootErrorFn("Corrupt option tag")
			return
		}

		value, found := l.cfg.Environment.Lookup(opt.Name)
		if !found {
			bootErrorFn("Option '%s' missing from environment", opt.Name)
			return
		}

		var data []byte
		switch opt.Type {
		case itag.OptionBoolean:
			data = []byte{0}
			if value.Data.Bool {
				data[0] = 1
			}
		case itag.OptionString:
			data = append([]byte(value.Data.String), 0)
		case itag.OptionInteger:
			data = make([]byte, 8)
			for i := 0; i < 8; i++ {
				data[i] = byte(value.Data.Integer >> (8 * i))
			}
		}

		if err := l.tags.AddOption(uint8(opt.Type), opt.Name, data); err != nil {
			bootErrorFn("%s", err.Message)
			return
		}
	}
}

// addBootDevTag emits the boot device tag: a root_device override if set,
// otherwise the device the kernel was loaded from.
func (l *Loader) addBootDevTag() {
	var err *kernel.Error

	if root := l.cfg.Environment.RootDevice; root != "" {
		switch {
		case hasPrefix(root, "other:"):
			err = l.tags.AddBootDevOther(root[len("other:"):])
		case hasPrefix(root, "uuid:"):
			err = l.tags.AddBootDevFS(root[len("uuid:"):])
		default:
			err = l.bootDevTagFor(device.Lookup(root))
		}
	} else {
		err = l.bootDevTagFor(l.cfg.BootDevice)
	}

	if err != nil {
		bootErrorFn("%s", err.Message)
	}
}

func (l *Loader) bootDevTagFor(dev *device.Device) *kernel.Error {
	switch {
	case dev == nil:
		return l.tags.AddBootDevNone()
	case dev.Type == device.TypeNet && dev.Net != nil:
		return l.tags.AddBootDevNet(dev.Net)
	case dev.Mount != nil && dev.Mount.UUID != "":
		return l.tags.AddBootDevFS(dev.Mount.UUID)
	default:
		return l.tags.AddBootDevNone()
	}
}

// addMemoryTags finalizes the physical memory map (reclaiming loader
// internal ranges) and emits one MEMORY tag per range.
func (l *Loader) addMemoryTags() {
	kfmt.Printf("initium: final physical memory map:\n")

	for _, r := range l.cfg.Memory.Finalize() {
		kfmt.Printf(" 0x%x-0x%x: %s\n", r.Start, r.End(), r.Type.String())

		if err := l.tags.AddMemory(r.Start, r.Size, uint8(r.Type)); err != nil {
			bootErrorFn("%s", err.Message)
			return
		}
	}
}

// addVMemTags emits the mapping list, already maintained in ascending
// start order.
func (l *Loader) addVMemTags() {
	kfmt.Printf("initium: final virtual memory map:\n")

	for _, m := range l.mappings {
		kfmt.Printf(" 0x%x-0x%x -> 0x%x\n", m.start, m.start+m.size, m.phys)

		if err := l.tags.AddVMem(m.start, m.size, m.phys); err != nil {
			bootErrorFn("%s", err.Message)
			return
		}
	}
}

// preboot detaches the debug console and relinquishes firmware services.
// No firmware calls or device I/O are permitted after this point.
func (l *Loader) preboot() {
	console.DetachDebug()

	if err := l.cfg.Platform.ExitBootServices(); err != nil {
		bootErrorFn("%s", err.Message)
	}
}
