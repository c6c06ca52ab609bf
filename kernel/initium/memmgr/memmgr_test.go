package memmgr

import "testing"

func checkPartition(t *testing.T, ranges []Range) {
	t.Helper()

	for i := 1; i < len(ranges); i++ {
		prev, cur := ranges[i-1], ranges[i]
		if cur.Start < prev.End() {
			t.Fatalf("ranges overlap or are unsorted: %+v before %+v", prev, cur)
		}
		if cur.Start == prev.End() && cur.Type == prev.Type {
			t.Fatalf("adjacent ranges of equal type not coalesced: %+v, %+v", prev, cur)
		}
	}
}

func TestAllocHighBias(t *testing.T) {
	m := New(128 << 20)

	phys, err := m.Alloc(0x4000, 0, 0, 0, Allocated, High)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if want := uint64(128<<20) - 0x4000; phys != want {
		t.Fatalf("expected high-biased allocation at 0x%x, got 0x%x", want, phys)
	}

	phys2, err := m.Alloc(0x1000, 0, 0, 0, Allocated, High)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if want := phys - 0x1000; phys2 != want {
		t.Fatalf("expected second allocation just below the first at 0x%x, got 0x%x", want, phys2)
	}
}

func TestAllocLowBiasWithBounds(t *testing.T) {
	m := New(128 << 20)

	phys, err := m.Alloc(0x2000, 0, 0x100000, 0x1fffff, Allocated, Low)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if phys != 0x100000 {
		t.Fatalf("expected bounded allocation at 0x100000, got 0x%x", phys)
	}

	// A request that cannot fit between min and max must fail non-fatally.
	if _, err := m.Alloc(0x200000, 0, 0x100000, 0x1fffff, Allocated, Low); err != errOutOfMemory {
		t.Fatalf("expected out-of-memory, got %v", err)
	}
}

func TestAllocAlignment(t *testing.T) {
	m := New(128 << 20)

	// Carve out a low range so the next low-biased allocation must skip
	// ahead to stay aligned.
	if _, err := m.Alloc(0x1000, 0, 0, 0, Internal, Low); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	phys, err := m.Alloc(0x200000, 0x200000, 0, 0, Allocated, Low)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if phys%0x200000 != 0 {
		t.Fatalf("expected 2MB-aligned allocation, got 0x%x", phys)
	}
}

func TestInsertSplitsFreeRange(t *testing.T) {
	m := New(128 << 20)

	if err := m.Insert(0x100000, 0x10000, Reserved); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Insert(0x108000, 0x1000, Allocated); err != errOverlap {
		t.Fatalf("expected overlap error, got %v", err)
	}

	final := m.Finalize()
	checkPartition(t, final)

	var found bool
	for _, r := range final {
		if r.Start == 0x100000 && r.Size == 0x10000 && r.Type == Reserved {
			found = true
		}
	}
	if !found {
		t.Fatalf("reserved range missing from final map: %+v", final)
	}
}

func TestReclaimConvertsInternal(t *testing.T) {
	m := New(16 << 20)

	if _, err := m.Alloc(0x1000, 0, 0, 0, Internal, High); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := m.Alloc(0x1000, 0, 0, 0, Reclaimable, High); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	final := m.Finalize()
	checkPartition(t, final)

	for _, r := range final {
		if r.Type == Internal {
			t.Fatalf("internal range leaked into the final map: %+v", r)
		}
	}

	// The adjacent internal and reclaimable allocations must have merged.
	top := final[len(final)-1]
	if top.Type != Reclaimable || top.Size != 0x2000 {
		t.Fatalf("expected a coalesced 0x2000 reclaimable range at the top, got %+v", top)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	m := New(32 << 20)

	if _, err := m.Alloc(0x3000, 0, 0, 0, Stack, High); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	first := m.Finalize()
	second := m.Finalize()

	if len(first) != len(second) {
		t.Fatalf("finalize not idempotent: %d vs %d ranges", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("finalize not idempotent at %d: %+v vs %+v", i, first[i], second[i])
		}
	}

	// No further allocations are permitted after finalize.
	if _, err := m.Alloc(0x1000, 0, 0, 0, Allocated, Low); err != errFinalized {
		t.Fatalf("expected finalized error, got %v", err)
	}
}
