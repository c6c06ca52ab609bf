package elf

import (
	"testing"

	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/hal/fs/memfs"
	"github.com/gil0mendes/LAOS/kernel/initium/wire"
)

// buildNote encodes a single ELF note record.
func buildNote(name string, noteType uint32, desc []byte) []byte {
	nameField := append([]byte(name), 0)
	align4 := func(n int) int { return (n + 3) &^ 3 }

	buf := make([]byte, 12+align4(len(nameField))+align4(len(desc)))
	wire.PutU32(buf, 0, uint32(len(nameField)))
	wire.PutU32(buf, 4, uint32(len(desc)))
	wire.PutU32(buf, 8, noteType)
	copy(buf[12:], nameField)
	copy(buf[12+align4(len(nameField)):], desc)
	return buf
}

type testSegment struct {
	typ   uint32
	vaddr uint64
	paddr uint64
	memsz uint64
	data  []byte
}

// buildELF64 assembles a minimal 64-bit executable with the given segments.
func buildELF64(entry uint64, segs []testSegment) []byte {
	phoff := uint64(64)
	dataOff := phoff + uint64(len(segs))*56

	var payload []byte
	offsets := make([]uint64, len(segs))
	for i, seg := range segs {
		offsets[i] = dataOff + uint64(len(payload))
		payload = append(payload, seg.data...)
	}

	img := make([]byte, dataOff, dataOff+uint64(len(payload)))
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4] = 2               // ELFCLASS64
	img[5] = 1               // little-endian
	img[6] = 1               // EV_CURRENT
	wire.PutU16(img, 16, 2)  // ET_EXEC
	wire.PutU16(img, 18, 62) // EM_X86_64
	wire.PutU32(img, 20, 1)
	wire.PutU64(img, 24, entry)
	wire.PutU64(img, 32, phoff)
	wire.PutU16(img, 52, 64)
	wire.PutU16(img, 54, 56)
	wire.PutU16(img, 56, uint16(len(segs)))

	for i, seg := range segs {
		phdr := img[phoff+uint64(i)*56:]
		wire.PutU32(phdr, 0, seg.typ)
		wire.PutU64(phdr, 8, offsets[i])
		wire.PutU64(phdr, 16, seg.vaddr)
		wire.PutU64(phdr, 24, seg.paddr)
		wire.PutU64(phdr, 32, uint64(len(seg.data)))
		memsz := seg.memsz
		if memsz == 0 {
			memsz = uint64(len(seg.data))
		}
		wire.PutU64(phdr, 40, memsz)
		wire.PutU64(phdr, 48, 0x1000)
	}

	return append(img, payload...)
}

func openImage(t *testing.T, raw []byte) *Image {
	t.Helper()

	var fsys memfs.FS
	fsys.Add("kernel", raw)
	h, err := fsys.Open("kernel")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	img, kerr := Identify(h)
	if kerr != nil {
		t.Fatalf("Identify: %v", kerr)
	}
	return img
}

func TestIdentify64(t *testing.T) {
	raw := buildELF64(0xffffffff80100000, []testSegment{
		{typ: PTLoad, vaddr: 0xffffffff80100000, paddr: 0x100000, data: []byte{0x90, 0x90}},
	})

	img := openImage(t, raw)
	if img.Class != Class64 {
		t.Fatalf("expected Class64, got %d", img.Class)
	}
	if img.Entry != 0xffffffff80100000 {
		t.Fatalf("unexpected entry 0x%x", img.Entry)
	}
	if len(img.Phdrs()) != 1 || img.Phdrs()[0].Type != PTLoad {
		t.Fatalf("unexpected phdrs: %+v", img.Phdrs())
	}
}

func TestIdentifyRejectsGarbage(t *testing.T) {
	var fsys memfs.FS
	fsys.Add("junk", []byte("MZ this is not an ELF image, not even close to one at all"))
	h, err := fsys.Open("junk")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, kerr := Identify(h); kerr != ErrNotELF {
		t.Fatalf("expected ErrNotELF, got %v", kerr)
	}
}

func TestIdentifyRejectsWrongMachine(t *testing.T) {
	raw := buildELF64(0x1000, []testSegment{
		{typ: PTLoad, vaddr: 0x1000, data: []byte{0x90}},
	})
	wire.PutU16(raw, 18, 183) // EM_AARCH64

	var fsys memfs.FS
	fsys.Add("kernel", raw)
	h, _ := fsys.Open("kernel")

	if _, kerr := Identify(h); kerr != ErrNotELF {
		t.Fatalf("expected ErrNotELF for a foreign machine, got %v", kerr)
	}
}

func TestVisitNotes(t *testing.T) {
	notes := append(buildNote("Initium", 1, []byte{1, 0, 0, 0, 0, 0, 0, 0}),
		buildNote("Other", 7, []byte{0xaa})...)

	raw := buildELF64(0x1000, []testSegment{
		{typ: PTNote, data: notes},
		{typ: PTLoad, vaddr: 0x1000, data: []byte{0x90}},
	})

	img := openImage(t, raw)

	type seen struct {
		name string
		typ  uint32
		desc int
	}
	var got []seen
	err := img.VisitNotes(func(name string, noteType uint32, desc []byte) (bool, *kernel.Error) {
		got = append(got, seen{name, noteType, len(desc)})
		return true, nil
	})
	if err != nil {
		t.Fatalf("VisitNotes: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 notes, got %+v", got)
	}
	if got[0].name != "Initium" || got[0].typ != 1 || got[0].desc != 8 {
		t.Fatalf("unexpected first note: %+v", got[0])
	}
	if got[1].name != "Other" || got[1].typ != 7 {
		t.Fatalf("unexpected second note: %+v", got[1])
	}
}

func TestReadSegmentZeroFillsBSS(t *testing.T) {
	raw := buildELF64(0x1000, []testSegment{
		{typ: PTLoad, vaddr: 0x1000, data: []byte{1, 2, 3}, memsz: 8},
	})

	img := openImage(t, raw)
	phdr := img.Phdrs()[0]

	dst := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if err := img.ReadSegment(phdr, dst); err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}

	want := []byte{1, 2, 3, 0, 0, 0, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("segment byte %d = 0x%x, want 0x%x", i, dst[i], want[i])
		}
	}
}
