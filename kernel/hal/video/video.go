// Package video declares the mode description the video collaborator hands
// to the pipeline. Mode setting and framebuffer programming are external;
// the pipeline only serializes the chosen mode into the VIDEO handoff tag
// and maps the framebuffer into the kernel's address space.
package video

// ModeType identifies the kind of a video mode.
type ModeType uint8

const (
	// ModeVGA is VGA text mode.
	ModeVGA ModeType = iota

	// ModeLFB is a linear framebuffer mode.
	ModeLFB
)

// Mode describes a video mode selected for the kernel.
type Mode struct {
	Type ModeType

	// Dimensions: characters for VGA, pixels for LFB.
	Width  uint32
	Height uint32

	// VGA cursor position.
	X uint32
	Y uint32

	// LFB pixel format.
	Bpp       uint8
	Pitch     uint32
	RedSize   uint8
	RedPos    uint8
	GreenSize uint8
	GreenPos  uint8
	BlueSize  uint8
	BluePos   uint8

	// Physical location of VGA memory or the framebuffer.
	MemPhys uint64
	MemSize uint64
}
