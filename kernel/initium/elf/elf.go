// Package elf reads the kernel image: it validates the ELF identification
// against the machines this loader can start, exposes the program header
// table and iterates PT_NOTE segments so the pipeline can collect the
// embedded image tags. Only the executable shapes the boot protocol allows
// are understood; this is not a general-purpose ELF library.
package elf

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/hal/fs"
	"github.com/gil0mendes/LAOS/kernel/initium/wire"
)

// Class is the ELF file class (word size).
type Class uint8

const (
	// Class32 is a 32-bit image.
	Class32 Class = 1

	// Class64 is a 64-bit image.
	Class64 Class = 2
)

// ELF constants used for identification.
const (
	dataLittleEndian = 1
	typeExec         = 2
	machine386       = 3
	machineX8664     = 62

	headerSize32 = 52
	headerSize64 = 64

	phentSize32 = 32
	phentSize64 = 56
)

// Program header segment types the loader cares about.
const (
	PTLoad uint32 = 1
	PTNote uint32 = 4
)

var (
	// ErrNotELF marks a file that is not an ELF executable this loader
	// can start.
	ErrNotELF = &kernel.Error{Module: "elf", Message: "not a supported ELF image"}

	errBadPhdrs = &kernel.Error{Module: "elf", Message: "corrupt program header table"}
	errBadNote  = &kernel.Error{Module: "elf", Message: "corrupt note segment"}
)

// ProgramHeader is one entry of the program header table, widened to 64-bit
// fields regardless of class.
type ProgramHeader struct {
	Type     uint32
	Offset   uint64
	Vaddr    uint64
	Paddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// Image is a validated kernel ELF.
type Image struct {
	handle fs.Handle

	// Class is the identified word size.
	Class Class

	// Entry is the ELF entry point as linked.
	Entry uint64

	phdrs []ProgramHeader
}

// Identify reads and validates the ELF header of h and loads the program
// header table. It returns ErrNotELF if the file is not a little-endian
// x86 executable matching its declared class.
func Identify(h fs.Handle) (*Image, *kernel.Error) {
	var ident [16]byte
	if h.Size() < headerSize32 {
		return nil, ErrNotELF
	}
	if err := h.ReadAt(ident[:], 0); err != nil {
		return nil, err
	}

	if ident[0] != 0x7f || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return nil, ErrNotELF
	}
	if ident[5] != dataLittleEndian {
		return nil, ErrNotELF
	}

	img := &Image{handle: h, Class: Class(ident[4])}
	switch img.Class {
	case Class32:
		if err := img.parseHeader32(); err != nil {
			return nil, err
		}
	case Class64:
		if err := img.parseHeader64(); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotELF
	}

	return img, nil
}

func (img *Image) parseHeader32() *kernel.Error {
	var hdr [headerSize32]byte
	if err := img.handle.ReadAt(hdr[:], 0); err != nil {
		return err
	}

	if wire.GetU16(hdr[:], 16) != typeExec || wire.GetU16(hdr[:], 18) != machine386 {
		return ErrNotELF
	}

	img.Entry = uint64(wire.GetU32(hdr[:], 24))
	phoff := uint64(wire.GetU32(hdr[:], 28))
	phentsize := wire.GetU16(hdr[:], 42)
	phnum := wire.GetU16(hdr[:], 44)

	if phentsize != phentSize32 {
		return errBadPhdrs
	}

	return img.parsePhdrs(phoff, phentsize, phnum, func(raw []byte) ProgramHeader {
		return ProgramHeader{
			Type:     wire.GetU32(raw, 0),
			Offset:   uint64(wire.GetU32(raw, 4)),
			Vaddr:    uint64(wire.GetU32(raw, 8)),
			Paddr:    uint64(wire.GetU32(raw, 12)),
			FileSize: uint64(wire.GetU32(raw, 16)),
			MemSize:  uint64(wire.GetU32(raw, 20)),
			Align:    uint64(wire.GetU32(raw, 28)),
		}
	})
}

func (img *Image) parseHeader64() *kernel.Error {
	var hdr [headerSize64]byte
	if img.handle.Size() < headerSize64 {
		return ErrNotELF
	}
	if err := img.handle.ReadAt(hdr[:], 0); err != nil {
		return err
	}

	if wire.GetU16(hdr[:], 16) != typeExec || wire.GetU16(hdr[:], 18) != machineX8664 {
		return ErrNotELF
	}

	img.Entry = wire.GetU64(hdr[:], 24)
	phoff := wire.GetU64(hdr[:], 32)
	phentsize := wire.GetU16(hdr[:], 54)
	phnum := wire.GetU16(hdr[:], 56)

	if phentsize != phentSize64 {
		return errBadPhdrs
	}

	return img.parsePhdrs(phoff, phentsize, phnum, func(raw []byte) ProgramHeader {
		return ProgramHeader{
			Type:     wire.GetU32(raw, 0),
			Offset:   wire.GetU64(raw, 8),
			Vaddr:    wire.GetU64(raw, 16),
			Paddr:    wire.GetU64(raw, 24),
			FileSize: wire.GetU64(raw, 32),
			MemSize:  wire.GetU64(raw, 40),
			Align:    wire.GetU64(raw, 48),
		}
	})
}

func (img *Image) parsePhdrs(phoff uint64, phentsize, phnum uint16, decode func([]byte) ProgramHeader) *kernel.Error {
	tableSize := uint64(phentsize) * uint64(phnum)
	if phnum == 0 || phoff+tableSize > img.handle.Size() {
		return errBadPhdrs
	}

	raw := make([]byte, tableSize)
	if err := img.handle.ReadAt(raw, phoff); err != nil {
		return err
	}

	img.phdrs = make([]ProgramHeader, phnum)
	for i := range img.phdrs {
		img.phdrs[i] = decode(raw[uint64(i)*uint64(phentsize):])
	}

	return nil
}

// Phdrs returns the program header table.
func (img *Image) Phdrs() []ProgramHeader {
	return img.phdrs
}

// ReadSegment copies a segment's file bytes into dst and zero-fills the BSS
// tail. dst must be at least MemSize bytes.
func (img *Image) ReadSegment(phdr ProgramHeader, dst []byte) *kernel.Error {
	if phdr.FileSize > 0 {
		if err := img.handle.ReadAt(dst[:phdr.FileSize], phdr.Offset); err != nil {
			return err
		}
	}
	for i := phdr.FileSize; i < phdr.MemSize; i++ {
		dst[i] = 0
	}
	return nil
}

// align4 rounds v up to a 4-byte boundary, the note-section field alignment.
func align4(v uint64) uint64 {
	return (v + 3) &^ 3
}

// VisitNotes iterates every note of every PT_NOTE segment, calling fn with
// the note's name (NUL stripped), type and descriptor bytes. Iteration
// stops early when fn returns false or an error.
func (img *Image) VisitNotes(fn func(name string, noteType uint32, desc []byte) (bool, *kernel.Error)) *kernel.Error {
	for _, phdr := range img.phdrs {
		if phdr.Type != PTNote || phdr.FileSize == 0 {
			continue
		}

		seg := make([]byte, phdr.FileSize)
		if err := img.handle.ReadAt(seg, phdr.Offset); err != nil {
			return err
		}

		for off := uint64(0); off < phdr.FileSize; {
			if phdr.FileSize-off < 12 {
				return errBadNote
			}

			nameSize := uint64(wire.GetU32(seg, int(off)))
			descSize := uint64(wire.GetU32(seg, int(off)+4))
			noteType := wire.GetU32(seg, int(off)+8)
			off += 12

			if off+align4(nameSize)+align4(descSize) > phdr.FileSize {
				return errBadNote
			}

			name := seg[off : off+nameSize]
			for len(name) > 0 && name[len(name)-1] == 0 {
				name = name[:len(name)-1]
			}
			off += align4(nameSize)

			desc := seg[off : off+descSize]
			off += align4(descSize)

			cont, err := fn(string(name), noteType, desc)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	}

	return nil
}
