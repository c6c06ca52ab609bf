// Package mmu builds the page table trees the kernel (and the entry
// trampoline) will run on. A Context is parametric over the target paging
// mode: the loader may be constructing a 64-bit long-mode tree or a 32-bit
// tree regardless of which mode it runs in itself, so nothing here touches
// CR3 or the live TLB. Table memory is obtained from a caller-supplied page
// allocator and accessed through a phys.Mapper, so the same walk works over
// inactive tables on the real machine and in tests.
package mmu

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/initium/phys"
	"github.com/gil0mendes/LAOS/kernel/initium/wire"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

// Mode selects the paging layout a Context builds.
type Mode uint8

const (
	// Mode32 is legacy two-level 32-bit paging with 4MB PSE large pages.
	Mode32 Mode = iota

	// Mode32PAE is three-level PAE paging with 2MB large pages.
	Mode32PAE

	// Mode64 is four-level long-mode paging with 2MB large pages.
	Mode64
)

// String names a Mode for diagnostics.
func (m Mode) String() string {
	switch m {
	case Mode32:
		return "32-bit"
	case Mode32PAE:
		return "32-bit PAE"
	case Mode64:
		return "64-bit"
	default:
		return "unknown"
	}
}

// Is64Bit reports whether the mode uses the 64-bit virtual address space.
func (m Mode) Is64Bit() bool { return m == Mode64 }

// LargePageSize returns the large-page granularity for the mode.
func (m Mode) LargePageSize() uint64 {
	if m == Mode32 {
		return 1 << 22
	}
	return 1 << 21
}

// Page table entry flag bits, common to every x86 paging mode.
const (
	entryPresent = 1 << 0
	entryWrite   = 1 << 1
	entryLarge   = 1 << 7
)

var (
	errBadMapping   = &kernel.Error{Module: "mmu", Message: "invalid mapping parameters"}
	errNotCanonical = &kernel.Error{Module: "mmu", Message: "virtual address is not canonical"}
	// ErrNoSelfMapSlot is returned when every top-level slot outside the
	// virtual map window is already in use.
	ErrNoSelfMapSlot = &kernel.Error{Module: "mmu", Message: "Unable to allocate page table mapping space"}
)

// AllocPageFn allocates one zeroed, page-aligned physical page for use as a
// page table and returns its physical address. The memory type of the
// allocation (PAGETABLES for the kernel context, INTERNAL for the
// trampoline's) is the caller's concern.
type AllocPageFn func() (uint64, *kernel.Error)

// Context is a page table tree under construction for a given mode.
type Context struct {
	mode      Mode
	root      uint64
	mapper    phys.Mapper
	allocPage AllocPageFn

	shifts    []uint
	indexBits []uint
	entrySize int
}

var (
	shifts64  = []uint{39, 30, 21, 12}
	shiftsPAE = []uint{30, 21, 12}
	shifts32  = []uint{22, 12}
)

// Create allocates the top-level table for a new address space.
func Create(mode Mode, mapper phys.Mapper, allocPage AllocPageFn) (*Context, *kernel.Error) {
	root, err := allocPage()
	if err != nil {
		return nil, err
	}

	ctx := &Context{mode: mode, root: root, mapper: mapper, allocPage: allocPage}
	switch mode {
	case Mode64:
		ctx.shifts = shifts64
		ctx.indexBits = []uint{9, 9, 9, 9}
		ctx.entrySize = 8
	case Mode32PAE:
		ctx.shifts = shiftsPAE
		ctx.indexBits = []uint{2, 9, 9}
		ctx.entrySize = 8
	default:
		ctx.shifts = shifts32
		ctx.indexBits = []uint{10, 10}
		ctx.entrySize = 4
	}

	return ctx, nil
}

// Mode returns the paging mode the context was created for.
func (c *Context) Mode() Mode { return c.mode }

// Root returns the physical address of the top-level table (the CR3 value
// the kernel entry code will install).
func (c *Context) Root() uint64 { return c.root }

// table returns a byte view of the page-sized table at tablePhys.
func (c *Context) table(tablePhys uint64) []byte {
	return c.mapper.Map(tablePhys, uint64(mem.PageSize))
}

func (c *Context) readEntry(table []byte, idx int) uint64 {
	if c.entrySize == 8 {
		return wire.GetU64(table, idx*8)
	}
	return uint64(wire.GetU32(table, idx*4))
}

func (c *Context) writeEntry(table []byte, idx int, v uint64) {
	if c.entrySize == 8 {
		wire.PutU64(table, idx*8, v)
		return
	}
	wire.PutU32(table, idx*4, uint32(v))
}

// entryIndex extracts the table index for virt at the given walk level.
func (c *Context) entryIndex(virt uint64, level int) int {
	return int((virt >> c.shifts[level]) & ((1 << c.indexBits[level]) - 1))
}

// entryAddr masks the flag bits off a table entry.
func entryAddr(e uint64) uint64 {
	return e &^ 0xfff & ((1 << 52) - 1)
}

// canonical reports whether addr is canonical in 64-bit mode: bits 63:47
// must be copies of bit 47.
func canonical(addr uint64) bool {
	return uint64(int64(addr<<16)>>16) == addr
}

// checkRange validates a map request against the mode's address space.
func (c *Context) checkRange(virt, physAddr, size uint64) *kernel.Error {
	pageSize := uint64(mem.PageSize)
	if size == 0 || size%pageSize != 0 || virt%pageSize != 0 || physAddr%pageSize != 0 {
		return errBadMapping
	}
	if virt+size-1 < virt {
		return errBadMapping
	}

	if c.mode == Mode64 {
		if !canonical(virt) || !canonical(virt+size-1) {
			return errNotCanonical
		}
	} else if virt+size > 1<<32 {
		return errBadMapping
	}

	return nil
}

// Map establishes a writable kernel mapping of [virt, virt+size) onto
// [phys, phys+size). Large pages are used for any subrange where both
// addresses are large-page aligned and at least a large page remains;
// intermediate tables are allocated on demand.
func (c *Context) Map(virt, physAddr, size uint64) *kernel.Error {
	if err := c.checkRange(virt, physAddr, size); err != nil {
		return err
	}

	large := c.mode.LargePageSize()
	pageSize := uint64(mem.PageSize)

	for size > 0 {
		if virt%large == 0 && physAddr%large == 0 && size >= large {
			if err := c.mapOne(virt, physAddr, len(c.shifts)-2, entryPresent|entryWrite|entryLarge); err != nil {
				return err
			}
			virt, physAddr, size = virt+large, physAddr+large, size-large
			continue
		}

		if err := c.mapOne(virt, physAddr, len(c.shifts)-1, entryPresent|entryWrite); err != nil {
			return err
		}
		virt, physAddr, size = virt+pageSize, physAddr+pageSize, size-pageSize
	}

	return nil
}

// mapOne installs a single entry for virt at targetLevel, allocating the
// intermediate tables above it on demand.
func (c *Context) mapOne(virt, physAddr uint64, targetLevel int, flags uint64) *kernel.Error {
	tablePhys := c.root

	for level := 0; level < targetLevel; level++ {
		table := c.table(tablePhys)
		idx := c.entryIndex(virt, level)
		entry := c.readEntry(table, idx)

		if entry&entryPresent == 0 {
			newTable, err := c.allocPage()
			if err != nil {
				return err
			}
			c.writeEntry(table, idx, newTable|entryPresent|entryWrite)
			tablePhys = newTable
			continue
		}

		if entry&entryLarge != 0 {
			return errBadMapping
		}
		tablePhys = entryAddr(entry)
	}

	table := c.table(tablePhys)
	c.writeEntry(table, c.entryIndex(virt, targetLevel), physAddr|flags)
	return nil
}

// VirtToPhys walks the tables and returns the physical backing of virt, or
// false if the address is unmapped.
func (c *Context) VirtToPhys(virt uint64) (uint64, bool) {
	if c.mode == Mode64 && !canonical(virt) {
		return 0, false
	}

	tablePhys := c.root
	for level := 0; level < len(c.shifts); level++ {
		table := c.table(tablePhys)
		entry := c.readEntry(table, c.entryIndex(virt, level))

		if entry&entryPresent == 0 {
			return 0, false
		}

		last := level == len(c.shifts)-1
		if entry&entryLarge != 0 && !last {
			pageMask := uint64(1)<<c.shifts[level] - 1
			return entryAddr(entry)&^pageMask | virt&pageMask, true
		}
		if last {
			return entryAddr(entry) | virt&(uint64(mem.PageSize)-1), true
		}

		tablePhys = entryAddr(entry)
	}

	return 0, false
}

// SelfMap installs a recursive mapping of the top-level table into a free
// top-level slot outside [avoidBase, avoidBase+avoidSize) and returns the
// virtual address at which the page tables become reachable. The search
// runs from the top of the address space downward.
func (c *Context) SelfMap(avoidBase, avoidSize uint64) (uint64, *kernel.Error) {
	var (
		slots     int
		slotRange uint64
	)

	switch c.mode {
	case Mode64:
		slots, slotRange = 512, 1<<39
	case Mode32PAE:
		slots, slotRange = 4, 1<<30
	default:
		slots, slotRange = 1024, 1<<22
	}

	vmStart := int(avoidBase / slotRange % uint64(slots))
	vmEnd := int((avoidBase + avoidSize - 1) / slotRange % uint64(slots))

	table := c.table(c.root)
	for i := slots - 1; i >= 0; i-- {
		if c.readEntry(table, i)&entryPresent != 0 || (i >= vmStart && i <= vmEnd) {
			continue
		}

		c.writeEntry(table, i, c.root|entryPresent|entryWrite)

		mapping := uint64(i) * slotRange
		if c.mode == Mode64 && i >= 256 {
			mapping |= 0xffff000000000000
		}
		return mapping, nil
	}

	return 0, ErrNoSelfMapSlot
}
