package loader

import (
	"github.com/gil0mendes/LAOS/kernel/initium/handoff"
	"github.com/gil0mendes/LAOS/kernel/initium/mmu"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

// mapping is one record of the kernel's view of its virtual address space.
// phys is handoff.NoPhys for an unmapped reservation.
type mapping struct {
	start uint64
	size  uint64
	phys  uint64
}

// addMapping records a virtual range. All MAPPING tags must be emitted in
// ascending start order, so the record is inserted sorted rather than the
// list being sorted once at the end.
func (l *Loader) addMapping(start, size, physAddr uint64) {
	rec := mapping{start: start, size: size, phys: physAddr}

	idx := len(l.mappings)
	for i, other := range l.mappings {
		if rec.start <= other.start {
			idx = i
			break
		}
	}

	l.mappings = append(l.mappings, mapping{})
	copy(l.mappings[idx+1:], l.mappings[idx:])
	l.mappings[idx] = rec
}

// checkMapping validates a requested virtual mapping. addr is
// handoff.NoPhys when the caller wants the loader to choose the address.
func (l *Loader) checkMapping(addr, physAddr, size uint64) bool {
	pageSize := uint64(mem.PageSize)

	if size == 0 || size%pageSize != 0 {
		return false
	}

	if addr != ^uint64(0) {
		switch {
		case addr%pageSize != 0:
			return false
		case addr+size-1 < addr:
			return false
		case l.mode != mmu.Mode64 && addr+size-1 >= 1<<32:
			return false
		}
	}

	if physAddr != handoff.NoPhys && physAddr%pageSize != 0 {
		return false
	}

	return true
}

// allocVirtual chooses a virtual address for [phys, phys+size) (or for an
// unmapped reservation when phys is NoPhys), establishes the mapping and
// records it. Failures are fatal.
func (l *Loader) allocVirtual(physAddr, size uint64) uint64 {
	if !l.checkMapping(^uint64(0), physAddr, size) {
		bootErrorFn("Invalid virtual mapping (physical 0x%x)", physAddr)
		return 0
	}

	addr, ok := l.allocator.Alloc(size, 0)
	if !ok {
		bootErrorFn("Insufficient address space available (allocating %d bytes)", size)
		return 0
	}

	if physAddr != handoff.NoPhys {
		if err := l.mmu.Map(addr, physAddr, size); err != nil {
			bootErrorFn("Invalid virtual mapping (physical 0x%x)", physAddr)
			return 0
		}
	}

	l.addMapping(addr, size, physAddr)
	return addr
}

// mapVirtual reserves the exact virtual range [addr, addr+size) for
// [phys, phys+size), establishes the mapping and records it. Failures are
// fatal.
func (l *Loader) mapVirtual(addr, physAddr, size uint64) {
	if !l.checkMapping(addr, physAddr, size) {
		bootErrorFn("Invalid virtual mapping (virtual 0x%x)", addr)
		return
	}

	if !l.allocator.Insert(addr, size) {
		bootErrorFn("Mapping 0x%x conflicts with another", addr)
		return
	}

	if physAddr != handoff.NoPhys {
		if err := l.mmu.Map(addr, physAddr, size); err != nil {
			bootErrorFn("Invalid virtual mapping (virtual 0x%x)", addr)
			return
		}
	}

	l.addMapping(addr, size, physAddr)
}
