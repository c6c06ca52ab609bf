// +build amd64

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// LargePageShift is equal to log2(LargePageSize) for a 2MB page.
	LargePageShift = 21

	// LargePageSize defines the large-page size for long-mode paging (2MB).
	LargePageSize = Size(1 << LargePageShift)
)
