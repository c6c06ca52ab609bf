package mmu

import (
	"testing"

	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/mem"
)

// testMemory simulates a machine's physical memory with a bump allocator for
// page-table pages, the same shape as the loader's real INTERNAL/PAGETABLES
// allocations.
type testMemory struct {
	buf  []byte
	next uint64
}

func newTestMemory(size uint64) *testMemory {
	return &testMemory{buf: make([]byte, size), next: 0x1000}
}

func (m *testMemory) Map(addr, size uint64) []byte {
	return m.buf[addr : addr+size]
}

func (m *testMemory) allocPage() (uint64, *kernel.Error) {
	addr := m.next
	m.next += uint64(mem.PageSize)
	return addr, nil
}

func TestMapAndTranslate64(t *testing.T) {
	tm := newTestMemory(16 << 20)
	ctx, err := Create(Mode64, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	virt := uint64(0xffffffff80100000)
	phys := uint64(0x400000)
	if err := ctx.Map(virt, phys, 0x10000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := ctx.VirtToPhys(virt + 0x1234)
	if !ok || got != phys+0x1234 {
		t.Fatalf("VirtToPhys = 0x%x, %t; want 0x%x", got, ok, phys+0x1234)
	}

	if _, ok := ctx.VirtToPhys(virt + 0x10000); ok {
		t.Fatal("expected address past the mapping to be unmapped")
	}
}

func TestMapLargePages64(t *testing.T) {
	tm := newTestMemory(16 << 20)
	ctx, err := Create(Mode64, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tablesBefore := tm.next

	// 2MB-aligned virt, phys and size: must use a single PD entry and
	// allocate no page table below the PD level.
	if err := ctx.Map(0xffffffff80000000, 0x200000, 0x200000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	// PML4 exists already; the walk must have allocated exactly a PDPT
	// and a PD, no PT.
	if allocated := tm.next - tablesBefore; allocated != 2*uint64(mem.PageSize) {
		t.Fatalf("expected 2 intermediate tables for a large-page mapping, got %d bytes", allocated)
	}

	got, ok := ctx.VirtToPhys(0xffffffff80000000 + 0x123456)
	if !ok || got != 0x200000+0x123456 {
		t.Fatalf("VirtToPhys inside large page = 0x%x, %t", got, ok)
	}
}

func TestMapRejectsNonCanonical64(t *testing.T) {
	tm := newTestMemory(4 << 20)
	ctx, err := Create(Mode64, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ctx.Map(0x0000800000000000, 0x1000, 0x1000); err != errNotCanonical {
		t.Fatalf("expected non-canonical mapping to be rejected, got %v", err)
	}
}

func TestMapAndTranslate32(t *testing.T) {
	tm := newTestMemory(16 << 20)
	ctx, err := Create(Mode32, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ctx.Map(0xc0000000, 0x100000, 0x4000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := ctx.VirtToPhys(0xc0002345)
	if !ok || got != 0x102345 {
		t.Fatalf("VirtToPhys = 0x%x, %t; want 0x102345", got, ok)
	}

	// A 32-bit context cannot map past 4GiB.
	if err := ctx.Map(0xfffff000, 0x100000, 0x2000); err != errBadMapping {
		t.Fatalf("expected wrap past 4GiB to be rejected, got %v", err)
	}
}

func TestMapAndTranslatePAE(t *testing.T) {
	tm := newTestMemory(16 << 20)
	ctx, err := Create(Mode32PAE, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 2MB large page via the PAE page directory.
	if err := ctx.Map(0xc0000000, 0x200000, 0x200000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := ctx.VirtToPhys(0xc0150000)
	if !ok || got != 0x350000 {
		t.Fatalf("VirtToPhys = 0x%x, %t; want 0x350000", got, ok)
	}
}

func TestSelfMap64(t *testing.T) {
	tm := newTestMemory(16 << 20)
	ctx, err := Create(Mode64, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ctx.Map(0xffffffff80100000, 0x400000, 0x10000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	mapping, err := ctx.SelfMap(0, 0x800000000000)
	if err != nil {
		t.Fatalf("SelfMap: %v", err)
	}

	// The top slot (511) holds the kernel mapping, so the next slot down
	// must be chosen, sign-extended.
	slot := uint64(510)
	want := slot*(1<<39) | 0xffff000000000000
	if mapping != want {
		t.Fatalf("SelfMap mapping = 0x%x, want 0x%x", mapping, want)
	}

	// Walking the recursive slot at every level must land back on the
	// top-level table itself.
	selfAddr := mapping | slot<<30 | slot<<21 | slot<<12
	if got, ok := ctx.VirtToPhys(selfAddr); !ok || got != ctx.Root() {
		t.Fatalf("recursive slot resolves to 0x%x, %t; want root 0x%x", got, ok, ctx.Root())
	}
}

func TestSelfMapExhaustion(t *testing.T) {
	tm := newTestMemory(16 << 20)
	ctx, err := Create(Mode64, tm, tm.allocPage)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A virtual map window covering the entire 512-entry top level leaves
	// no slot for the recursive mapping.
	if _, err := ctx.SelfMap(0, 1<<48); err != ErrNoSelfMapSlot {
		t.Fatalf("expected ErrNoSelfMapSlot, got %v", err)
	}
}
