// Package memmgr implements the loader's physical memory manager: an
// ordered list of typed, page-aligned physical ranges partitioning a
// superset of the machine's usable memory. The load pipeline carves out
// PAGETABLES, STACK, MODULES and INTERNAL ranges from it and later folds
// the loader-internal ones back into the final map the kernel sees.
package memmgr

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

// RangeType classifies a physical range's ownership/purpose.
type RangeType uint8

const (
	Free RangeType = iota
	Allocated
	Reclaimable
	PageTables
	Stack
	Modules
	Internal
	Reserved
)

// String names a RangeType for diagnostics.
func (t RangeType) String() string {
	switch t {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Reclaimable:
		return "reclaimable"
	case PageTables:
		return "pagetables"
	case Stack:
		return "stack"
	case Modules:
		return "modules"
	case Internal:
		return "internal"
	case Reserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// Bias selects the scan direction used by Alloc when searching for a free
// range that can satisfy a request.
type Bias uint8

const (
	// Low scans the free-range list from the lowest address upward.
	Low Bias = iota
	// High scans the free-range list from the highest address downward.
	High
)

// Range describes a half-open physical interval [Start, Start+Size) tagged
// with a RangeType.
type Range struct {
	Start uint64
	Size  uint64
	Type  RangeType
}

// End returns the exclusive end address of the range.
func (r Range) End() uint64 { return r.Start + r.Size }

var (
	errOutOfMemory    = &kernel.Error{Module: "memmgr", Message: "out of memory"}
	errBadAllocParams = &kernel.Error{Module: "memmgr", Message: "invalid allocation parameters"}
	errOverlap        = &kernel.Error{Module: "memmgr", Message: "range overlaps a non-free range"}
	errFinalized      = &kernel.Error{Module: "memmgr", Message: "memory manager already finalized"}
)

// Manager owns the ordered, coalesced list of physical ranges for a single
// boot. It is single-owner and is never accessed from more than one
// execution context (see the concurrency model in the core pipeline).
type Manager struct {
	ranges    []Range
	finalized bool
	finalList []Range
}

// New creates a Manager with its entire addressable span marked FREE. The
// firmware shim (component H) then calls Insert to carve out reserved
// regions reported by the platform's memory map before the loader begins
// allocating.
func New(totalSize uint64) *Manager {
	return &Manager{ranges: []Range{{Start: 0, Size: totalSize, Type: Free}}}
}

// alignUp rounds v up to the next multiple of align (align must be a power
// of two).
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func isPow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// alignDown rounds v down to the previous multiple of align (align must be
// a power of two).
func alignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}

// Alloc scans the free-range list (in the direction dictated by bias) for
// the first FREE range able to accommodate an aligned size-byte subrange
// whose address lies within [min, max]. On success it splits the
// surrounding FREE range, inserts a new range of the requested type at the
// chosen position and returns its start address.
func (m *Manager) Alloc(size, align, min, max uint64, typ RangeType, bias Bias) (uint64, *kernel.Error) {
	if m.finalized {
		return 0, errFinalized
	}
	if align == 0 {
		align = uint64(mem.PageSize)
	}
	if size == 0 || size%uint64(mem.PageSize) != 0 || align%uint64(mem.PageSize) != 0 || !isPow2(align) {
		return 0, errBadAllocParams
	}
	if max == 0 {
		max = ^uint64(0)
	}

	indices := m.scanOrder(bias)
	for _, idx := range indices {
		r := m.ranges[idx]
		if r.Type != Free {
			continue
		}

		candidate, ok := m.fitWithin(r, size, align, min, max, bias)
		if !ok {
			continue
		}

		m.splitAndInsert(idx, candidate, size, typ)
		return candidate, nil
	}

	return 0, errOutOfMemory
}

// scanOrder returns the indices of m.ranges in the order Alloc should
// examine them for the given bias: ascending for Low, descending for High.
func (m *Manager) scanOrder(bias Bias) []int {
	idx := make([]int, len(m.ranges))
	for i := range idx {
		idx[i] = i
	}
	if bias == High {
		for i, j := 0, len(idx)-1; i < j; i, j = i+1, j-1 {
			idx[i], idx[j] = idx[j], idx[i]
		}
	}
	return idx
}

// fitWithin finds an aligned size-byte subrange of r that lies within
// [min, max], preferring the highest-addressed fit for High bias and the
// lowest-addressed fit for Low bias.
func (m *Manager) fitWithin(r Range, size, align, min, max uint64, bias Bias) (uint64, bool) {
	lo := r.Start
	if min > lo {
		lo = min
	}
	lo = alignUp(lo, align)

	hi := r.End()
	if max != ^uint64(0) && max+1 < hi {
		hi = max + 1
	}

	if lo >= hi || hi-lo < size {
		return 0, false
	}

	if bias == High {
		top := alignDown(hi-size, align)
		if top < lo {
			return 0, false
		}
		return top, true
	}

	return lo, true
}

// splitAndInsert replaces the free range at idx with up to three ranges:
// the unused prefix (if any, still FREE), the newly typed range, and the
// unused suffix (if any, still FREE).
func (m *Manager) splitAndInsert(idx int, start, size uint64, typ RangeType) {
	r := m.ranges[idx]

	var replacement []Range
	if start > r.Start {
		replacement = append(replacement, Range{Start: r.Start, Size: start - r.Start, Type: Free})
	}
	replacement = append(replacement, Range{Start: start, Size: size, Type: typ})
	if end := start + size; end < r.End() {
		replacement = append(replacement, Range{Start: end, Size: r.End() - end, Type: Free})
	}

	m.ranges = append(m.ranges[:idx], append(replacement, m.ranges[idx+1:]...)...)
	m.coalesce()
}

// Insert forces a typed range at a specified location, splitting any
// overlapping FREE range. It fails if the requested range overlaps any
// non-FREE range (e.g. two firmware-reported reserved regions colliding).
func (m *Manager) Insert(start, size uint64, typ RangeType) *kernel.Error {
	if m.finalized {
		return errFinalized
	}
	if size == 0 {
		return errBadAllocParams
	}

	end := start + size
	var newRanges []Range
	inserted := false

	for _, r := range m.ranges {
		switch {
		case r.End() <= start || r.Start >= end:
			// No overlap with the requested range.
			newRanges = append(newRanges, r)
		case r.Type != Free:
			return errOverlap
		default:
			if r.Start < start {
				newRanges = append(newRanges, Range{Start: r.Start, Size: start - r.Start, Type: Free})
			}
			if !inserted {
				newRanges = append(newRanges, Range{Start: start, Size: size, Type: typ})
				inserted = true
			}
			if r.End() > end {
				newRanges = append(newRanges, Range{Start: end, Size: r.End() - end, Type: Free})
			}
		}
	}

	if !inserted {
		// The requested range fell entirely outside any tracked range
		// (e.g. beyond the declared total size); extend the map.
		newRanges = append(newRanges, Range{Start: start, Size: size, Type: typ})
	}

	m.ranges = newRanges
	m.coalesce()
	return nil
}

// sortRanges keeps the range list in ascending start order. The list is
// nearly sorted after every mutation, so a simple insertion sort does
// without pulling sort's reflection machinery into the freestanding build.
func sortRanges(ranges []Range) {
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j].Start < ranges[j-1].Start; j-- {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
		}
	}
}

// coalesce merges adjacent ranges that share the same Type. It assumes
// m.ranges is sorted by Start, which every mutating method maintains.
func (m *Manager) coalesce() {
	sortRanges(m.ranges)

	out := m.ranges[:0:0]
	for _, r := range m.ranges {
		if n := len(out); n > 0 && out[n-1].Type == r.Type && out[n-1].End() == r.Start {
			out[n-1].Size += r.Size
			continue
		}
		out = append(out, r)
	}
	m.ranges = out
}

// Reclaim converts every Internal range into Reclaimable (existing
// Reclaimable ranges are left as-is) and coalesces the result. It must be
// called before Finalize, once every internal loader allocation (page
// tables, the trampoline's temporary address space, the tag arena's own
// allocation metadata) is done.
func (m *Manager) Reclaim() {
	for i := range m.ranges {
		if m.ranges[i].Type == Internal {
			m.ranges[i].Type = Reclaimable
		}
	}
	m.coalesce()
}

// Finalize reclaims internal ranges and returns the ordered, coalesced
// range list to be emitted as MEMORY handoff tags. After Finalize no
// further allocations or inserts are permitted. Calling Finalize more than
// once is idempotent and always returns an identical list.
func (m *Manager) Finalize() []Range {
	if !m.finalized {
		m.Reclaim()
		m.finalized = true
		m.finalList = append([]Range(nil), m.ranges...)
	}

	out := make([]Range, len(m.finalList))
	copy(out, m.finalList)
	return out
}
