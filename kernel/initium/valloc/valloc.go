// Package valloc implements the first-fit virtual address allocator used to
// carve the kernel's virtual map window. It tracks the allocated ranges of a
// bounded [base, base+size) region in sorted order and hands out the lowest
// aligned gap able to satisfy a request.
package valloc

import "github.com/gil0mendes/LAOS/kernel/mem"

// allocRange is a half-open allocated interval [start, start+size).
type allocRange struct {
	start uint64
	size  uint64
}

func (r allocRange) end() uint64 { return r.start + r.size }

// Allocator hands out ranges of a bounded virtual region. The zero value is
// unusable; call Init first.
type Allocator struct {
	base uint64
	size uint64

	// Allocated ranges in ascending start order, pairwise disjoint.
	ranges []allocRange
}

// Init prepares the allocator to manage [base, base+size). A size of 0 means
// the region extends to the top of the address space.
func (a *Allocator) Init(base, size uint64) {
	a.base = base
	a.size = size
	a.ranges = nil
}

// Base returns the start of the managed region.
func (a *Allocator) Base() uint64 { return a.base }

// Size returns the length of the managed region (0 = to the address space top).
func (a *Allocator) Size() uint64 { return a.size }

// end returns the exclusive end of the managed region, saturating at the top
// of the 64-bit address space.
func (a *Allocator) end() uint64 {
	if a.size == 0 || a.base+a.size < a.base {
		return ^uint64(0)
	}
	return a.base + a.size
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc finds the lowest-addressed gap that can hold an aligned size-byte
// range. An align of 0 defaults to the page size. Returns (addr, true) on
// success.
func (a *Allocator) Alloc(size, align uint64) (uint64, bool) {
	if align == 0 {
		align = uint64(mem.PageSize)
	}
	if size == 0 {
		return 0, false
	}

	candidate := alignUp(a.base, align)
	for _, r := range a.ranges {
		if candidate+size <= r.start && candidate+size > candidate {
			break
		}
		if next := alignUp(r.end(), align); next > candidate {
			candidate = next
		}
	}

	if candidate+size < candidate || candidate+size-1 > a.end()-1 || candidate < a.base {
		return 0, false
	}

	a.insertSorted(allocRange{start: candidate, size: size})
	return candidate, true
}

// Insert reserves the exact range [start, start+size). It fails if the range
// lies outside the managed region or overlaps an existing allocation.
func (a *Allocator) Insert(start, size uint64) bool {
	if size == 0 || start+size < start {
		return false
	}
	if start < a.base || start+size-1 > a.end()-1 {
		return false
	}

	for _, r := range a.ranges {
		if start < r.end() && r.start < start+size {
			return false
		}
	}

	a.insertSorted(allocRange{start: start, size: size})
	return true
}

// Reserve marks [start, start+size) as unusable, clipping the request to the
// managed region and merging with any overlapping allocations. Unlike Insert
// it never fails: it is used to exclude the loader's own address range and
// virtual address 0 from the pool, which may lie wholly or partly outside
// the window.
func (a *Allocator) Reserve(start, size uint64) {
	if size == 0 {
		return
	}

	end := start + size
	if end < start {
		end = ^uint64(0)
	}

	// Clip to the managed region.
	if start < a.base {
		start = a.base
	}
	if regionEnd := a.end(); end > regionEnd {
		end = regionEnd
	}
	if start >= end {
		return
	}

	// Swallow any allocations the reservation overlaps or touches.
	kept := a.ranges[:0:0]
	for _, r := range a.ranges {
		if start <= r.end() && r.start <= end {
			if r.start < start {
				start = r.start
			}
			if r.end() > end {
				end = r.end()
			}
			continue
		}
		kept = append(kept, r)
	}
	a.ranges = kept

	a.insertSorted(allocRange{start: start, size: end - start})
}

// insertSorted places r into the range list keeping ascending start order.
func (a *Allocator) insertSorted(r allocRange) {
	idx := len(a.ranges)
	for i, other := range a.ranges {
		if r.start < other.start {
			idx = i
			break
		}
	}

	a.ranges = append(a.ranges, allocRange{})
	copy(a.ranges[idx+1:], a.ranges[idx:])
	a.ranges[idx] = r
}
