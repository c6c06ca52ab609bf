package loader

import (
	"github.com/gil0mendes/LAOS/kernel/initium/elf"
	"github.com/gil0mendes/LAOS/kernel/initium/itag"
	"github.com/gil0mendes/LAOS/kernel/initium/memmgr"
	"github.com/gil0mendes/LAOS/kernel/kfmt"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

// loadSegments places every PT_LOAD segment, copies its file bytes into
// place and records the mapping. The ELF entry point is relocated by the
// delta of whichever segment contains it.
func (l *Loader) loadSegments() {
	l.entry = l.img.Entry
	firstSegment := true

	for _, phdr := range l.img.Phdrs() {
		if phdr.Type != elf.PTLoad || phdr.MemSize == 0 {
			continue
		}

		virt, physAddr := l.placeSegment(phdr)

		if firstSegment {
			l.kernelPhys = physAddr
			l.tags.SetKernelPhys(physAddr)
			firstSegment = false
		}

		if l.img.Entry >= phdr.Vaddr && l.img.Entry < phdr.Vaddr+phdr.MemSize {
			l.entry = l.img.Entry - phdr.Vaddr + virt
		}

		size := roundUp(phdr.MemSize, uint64(mem.PageSize))
		dst := l.cfg.Mapper.Map(physAddr, size)
		for i := phdr.MemSize; i < size; i++ {
			dst[i] = 0
		}
		if err := l.img.ReadSegment(phdr, dst); err != nil {
			bootErrorFn("Error reading '%s': %s", l.path, err.Message)
			return
		}

		kfmt.Printf("initium: loaded segment to 0x%x (virtual 0x%x, size 0x%x)\n", physAddr, virt, size)
	}
}

// placeSegment decides the segment's physical and virtual location. FIXED
// kernels are honored literally; otherwise physical memory is allocated
// high-biased at the requested alignment, halving down to the minimum
// alignment under memory pressure, and a virtual range is carved at the
// same alignment.
func (l *Loader) placeSegment(phdr elf.ProgramHeader) (virt, physAddr uint64) {
	pageSize := uint64(mem.PageSize)
	size := roundUp(phdr.MemSize, pageSize)

	if l.load.Flags&itag.LoadFixed != 0 {
		virt = phdr.Vaddr
		physAddr = phdr.Paddr

		if err := l.cfg.Memory.Insert(physAddr, size, memmgr.Allocated); err != nil {
			bootErrorFn("Unable to allocate 0x%x bytes at 0x%x for kernel image", size, physAddr)
			return
		}
		l.mapVirtual(virt, physAddr, size)
		return virt, physAddr
	}

	align := l.load.Alignment
	for {
		addr, err := l.cfg.Memory.Alloc(size, align, 0, 0, memmgr.Allocated, memmgr.High)
		if err == nil {
			physAddr = addr
			break
		}

		if align/2 < l.load.MinAlignment || align/2 < pageSize {
			bootErrorFn("Insufficient memory to load kernel image (0x%x bytes)", size)
			return
		}
		align /= 2
	}

	var ok bool
	virt, ok = l.allocator.Alloc(size, align)
	if !ok {
		bootErrorFn("Insufficient address space available (allocating %d bytes)", size)
		return
	}

	if err := l.mmu.Map(virt, physAddr, size); err != nil {
		bootErrorFn("Invalid virtual mapping (virtual 0x%x)", virt)
		return
	}
	l.addMapping(virt, size, physAddr)

	return virt, physAddr
}
