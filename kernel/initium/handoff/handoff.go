// Package handoff owns the tag list handed to the kernel: a preallocated
// physical arena into which typed, 8-byte-aligned records are packed. The
// byte-level layout here is the protocol contract with the kernel and every
// field is written at an explicit offset in little-endian order.
//
// The CORE tag sits at arena offset 0 and is live: its tags_size field is
// the allocation cursor, bumped by every subsequent AllocTag call, so the
// kernel reads the final list length out of the same record the builder
// used for book-keeping.
package handoff

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/hal/device"
	"github.com/gil0mendes/LAOS/kernel/hal/video"
	"github.com/gil0mendes/LAOS/kernel/initium/memmgr"
	"github.com/gil0mendes/LAOS/kernel/initium/phys"
	"github.com/gil0mendes/LAOS/kernel/initium/wire"
)

// TagType identifies the kind of a handoff tag.
type TagType uint32

// Defined handoff tag types. The numeric values are part of the wire
// contract with the kernel and must never change.
const (
	TagNone TagType = iota
	TagCore
	TagOption
	TagMemory
	TagVMem
	TagPageTables
	TagModule
	TagVideo
	TagBootDev
)

// ArenaSize is the size of the handoff arena.
const ArenaSize = 12 * 1024

// Every tag starts with (type:u32, size:u32); size includes the header.
const headerSize = 8

// CORE tag field offsets. Fields are packed; the record is 48 bytes.
const (
	coreTagsPhys   = 8
	coreTagsSize   = 16
	coreKernelPhys = 20
	coreStackBase  = 28
	coreStackPhys  = 36
	coreStackSize  = 44
	coreSize       = 48
)

// MEMORY: start:u64, size:u64, type:u8.
const (
	memoryStart = 8
	memorySize  = 16
	memoryType  = 24
	memoryLen   = 25
)

// VMEM (MAPPING): start:u64, size:u64, phys:u64.
const (
	vmemStart = 8
	vmemSize  = 16
	vmemPhys  = 24
	vmemLen   = 32
)

// PAGETABLES: table:u64 (PML4 or page directory), mapping:u64.
const (
	pagetablesTable   = 8
	pagetablesMapping = 16
	pagetablesLen     = 24
)

// MODULE: addr:u64, size:u64, name_size:u32, then the name at the next
// 8-byte boundary.
const (
	moduleAddr     = 8
	moduleSize     = 16
	moduleNameSize = 24
	moduleNameOff  = 32
)

// OPTION: type:u8, name_size:u32, value_size:u32, then the name at the next
// 8-byte boundary, then the value at the 8-byte boundary after the name.
const (
	optionType      = 8
	optionNameSize  = 9
	optionValueSize = 13
	optionNameOff   = 24
)

// VIDEO: type:u8 followed by the mode-specific payload.
const (
	videoType = 8

	videoVGACols    = 9
	videoVGALines   = 13
	videoVGAX       = 17
	videoVGAY       = 21
	videoVGAMemPhys = 25
	videoVGAMemSize = 33
	videoVGAMemVirt = 41

	videoLFBFlags     = 9
	videoLFBWidth     = 13
	videoLFBHeight    = 17
	videoLFBBpp       = 21
	videoLFBPitch     = 22
	videoLFBRedSize   = 26
	videoLFBRedPos    = 27
	videoLFBGreenSize = 28
	videoLFBGreenPos  = 29
	videoLFBBlueSize  = 30
	videoLFBBluePos   = 31
	videoLFBPhys      = 32
	videoLFBSize      = 40
	videoLFBVirt      = 48

	videoLen = 56
)

// VIDEO tag type values and LFB flag bits.
const (
	VideoTypeVGA = 0
	VideoTypeLFB = 1

	LFBRGB     = 1 << 0
	LFBIndexed = 1 << 1
)

// BOOTDEV: type:u8 followed by the variant payload.
const (
	bootdevType = 8

	bootdevFSFlags = 9
	bootdevFSUUID  = 13
	bootdevUUIDLen = 64

	bootdevNetFlags      = 9
	bootdevNetServerPort = 13
	bootdevNetHWType     = 17
	bootdevNetHWAddrSize = 19
	bootdevNetServerIP   = 20
	bootdevNetGatewayIP  = 36
	bootdevNetClientIP   = 52
	bootdevNetClientMAC  = 68

	bootdevOtherStrLen = 9
	bootdevOtherStrOff = 88

	bootdevLen = 84
)

// BOOTDEV variant values.
const (
	BootDevNone  = 0
	BootDevFS    = 1
	BootDevNet   = 2
	BootDevOther = 3
)

// NoPhys is the on-wire physical address meaning "unmapped reservation".
const NoPhys = ^uint64(0)

var errArenaOverflow = &kernel.Error{Module: "handoff", Message: "Exceeded maximum tag list size"}

func align8(v uint32) uint32 {
	return (v + 7) &^ 7
}

// Builder allocates tags out of the handoff arena.
type Builder struct {
	mapper   phys.Mapper
	physAddr uint64
}

// New allocates the arena as a high-biased RECLAIMABLE physical range and
// writes the CORE tag at offset 0.
func New(mm *memmgr.Manager, mapper phys.Mapper) (*Builder, *kernel.Error) {
	physAddr, err := mm.Alloc(ArenaSize, 0, 0, 0, memmgr.Reclaimable, memmgr.High)
	if err != nil {
		return nil, err
	}

	b := &Builder{mapper: mapper, physAddr: physAddr}

	arena := b.arena()
	for i := 0; i < coreSize; i++ {
		arena[i] = 0
	}
	wire.PutU32(arena, 0, uint32(TagCore))
	wire.PutU32(arena, 4, coreSize)
	wire.PutU64(arena, coreTagsPhys, physAddr)
	wire.PutU32(arena, coreTagsSize, align8(coreSize))

	return b, nil
}

func (b *Builder) arena() []byte {
	return b.mapper.Map(b.physAddr, ArenaSize)
}

// Phys returns the arena's physical address.
func (b *Builder) Phys() uint64 { return b.physAddr }

// TagsSize returns the current allocation cursor, i.e. the number of bytes
// of tag data emitted so far including the CORE tag.
func (b *Builder) TagsSize() uint32 {
	return wire.GetU32(b.arena(), coreTagsSize)
}

// SetKernelPhys records the kernel image's physical load address in the
// CORE tag.
func (b *Builder) SetKernelPhys(addr uint64) {
	wire.PutU64(b.arena(), coreKernelPhys, addr)
}

// SetStack records the kernel stack's location in the CORE tag.
func (b *Builder) SetStack(base, physAddr uint64, size uint32) {
	arena := b.arena()
	wire.PutU64(arena, coreStackBase, base)
	wire.PutU64(arena, coreStackPhys, physAddr)
	wire.PutU32(arena, coreStackSize, size)
}

// AllocTag appends a zeroed tag of the given type and size at the cursor,
// writes the header and advances the cursor to the next 8-byte boundary.
// It fails with the arena-overflow error when the list would exceed the
// arena; the pipeline treats that as fatal.
func (b *Builder) AllocTag(typ TagType, size uint32) ([]byte, *kernel.Error) {
	arena := b.arena()
	cursor := wire.GetU32(arena, coreTagsSize)

	if uint64(cursor)+uint64(align8(size)) > ArenaSize {
		return nil, errArenaOverflow
	}

	// Zero through the alignment padding so the gap before the next
	// header is zero bytes, as the ABI requires.
	for i := cursor; i < cursor+align8(size); i++ {
		arena[i] = 0
	}

	tag := arena[cursor : cursor+size]
	wire.PutU32(tag, 0, uint32(typ))
	wire.PutU32(tag, 4, size)

	wire.PutU32(arena, coreTagsSize, cursor+align8(size))
	return tag, nil
}

// AddMemory emits one MEMORY tag.
func (b *Builder) AddMemory(start, size uint64, typ uint8) *kernel.Error {
	tag, err := b.AllocTag(TagMemory, memoryLen)
	if err != nil {
		return err
	}

	wire.PutU64(tag, memoryStart, start)
	wire.PutU64(tag, memorySize, size)
	tag[memoryType] = typ
	return nil
}

// AddVMem emits one MAPPING tag; physAddr is NoPhys for an unmapped
// reservation.
func (b *Builder) AddVMem(start, size, physAddr uint64) *kernel.Error {
	tag, err := b.AllocTag(TagVMem, vmemLen)
	if err != nil {
		return err
	}

	wire.PutU64(tag, vmemStart, start)
	wire.PutU64(tag, vmemSize, size)
	wire.PutU64(tag, vmemPhys, physAddr)
	return nil
}

// AddPageTables emits the PAGETABLES tag: the top-level table's physical
// address and the virtual location of its recursive mapping.
func (b *Builder) AddPageTables(table, mapping uint64) *kernel.Error {
	tag, err := b.AllocTag(TagPageTables, pagetablesLen)
	if err != nil {
		return err
	}

	wire.PutU64(tag, pagetablesTable, table)
	wire.PutU64(tag, pagetablesMapping, mapping)
	return nil
}

// AddModule emits one MODULE tag. The stored name is NUL-terminated.
func (b *Builder) AddModule(addr, size uint64, name string) *kernel.Error {
	nameSize := uint32(len(name)) + 1

	tag, err := b.AllocTag(TagModule, moduleNameOff+nameSize)
	if err != nil {
		return err
	}

	wire.PutU64(tag, moduleAddr, addr)
	wire.PutU64(tag, moduleSize, size)
	wire.PutU32(tag, moduleNameSize, nameSize)
	copy(tag[moduleNameOff:], name)
	return nil
}

// AddOption emits one OPTION tag carrying the option's current value. The
// stored name is NUL-terminated; value is the type's natural encoding.
func (b *Builder) AddOption(typ uint8, name string, value []byte) *kernel.Error {
	nameSize := uint32(len(name)) + 1
	valueSize := uint32(len(value))

	tag, err := b.AllocTag(TagOption, optionNameOff+align8(nameSize)+valueSize)
	if err != nil {
		return err
	}

	tag[optionType] = typ
	wire.PutU32(tag, optionNameSize, nameSize)
	wire.PutU32(tag, optionValueSize, valueSize)
	copy(tag[optionNameOff:], name)
	copy(tag[optionNameOff+align8(nameSize):], value)
	return nil
}

// AddVideo emits the VIDEO tag for the selected mode. memVirt is the
// virtual address the framebuffer (or VGA memory) was mapped at.
func (b *Builder) AddVideo(mode *video.Mode, memVirt uint64) *kernel.Error {
	tag, err := b.AllocTag(TagVideo, videoLen)
	if err != nil {
		return err
	}

	switch mode.Type {
	case video.ModeVGA:
		tag[videoType] = VideoTypeVGA
		wire.PutU32(tag, videoVGACols, mode.Width)
		wire.PutU32(tag, videoVGALines, mode.Height)
		wire.PutU32(tag, videoVGAX, mode.X)
		wire.PutU32(tag, videoVGAY, mode.Y)
		wire.PutU64(tag, videoVGAMemPhys, mode.MemPhys)
		wire.PutU64(tag, videoVGAMemSize, mode.MemSize)
		wire.PutU64(tag, videoVGAMemVirt, memVirt)
	case video.ModeLFB:
		tag[videoType] = VideoTypeLFB
		wire.PutU32(tag, videoLFBFlags, LFBRGB)
		wire.PutU32(tag, videoLFBWidth, mode.Width)
		wire.PutU32(tag, videoLFBHeight, mode.Height)
		tag[videoLFBBpp] = mode.Bpp
		wire.PutU32(tag, videoLFBPitch, mode.Pitch)
		tag[videoLFBRedSize] = mode.RedSize
		tag[videoLFBRedPos] = mode.RedPos
		tag[videoLFBGreenSize] = mode.GreenSize
		tag[videoLFBGreenPos] = mode.GreenPos
		tag[videoLFBBlueSize] = mode.BlueSize
		tag[videoLFBBluePos] = mode.BluePos
		wire.PutU64(tag, videoLFBPhys, mode.MemPhys)
		wire.PutU64(tag, videoLFBSize, mode.MemSize)
		wire.PutU64(tag, videoLFBVirt, memVirt)
	}

	return nil
}

// AddBootDevFS emits a filesystem BOOTDEV tag carrying the mount UUID.
func (b *Builder) AddBootDevFS(uuid string) *kernel.Error {
	tag, err := b.AllocTag(TagBootDev, bootdevLen)
	if err != nil {
		return err
	}

	tag[bootdevType] = BootDevFS
	n := copy(tag[bootdevFSUUID:bootdevFSUUID+bootdevUUIDLen], uuid)
	// Guarantee NUL termination even for an over-long UUID.
	if n == bootdevUUIDLen {
		tag[bootdevFSUUID+bootdevUUIDLen-1] = 0
	}
	return nil
}

// AddBootDevNet emits a network BOOTDEV tag from the device's PXE/DHCP
// configuration.
func (b *Builder) AddBootDevNet(net *device.NetInfo) *kernel.Error {
	tag, err := b.AllocTag(TagBootDev, bootdevLen)
	if err != nil {
		return err
	}

	tag[bootdevType] = BootDevNet
	var flags uint32
	if net.Flags&device.NetIPv6 != 0 {
		flags = 1
	}
	wire.PutU32(tag, bootdevNetFlags, flags)
	wire.PutU32(tag, bootdevNetServerPort, net.ServerPort)
	wire.PutU16(tag, bootdevNetHWType, net.HWType)
	tag[bootdevNetHWAddrSize] = net.HWAddrSize
	copy(tag[bootdevNetServerIP:], net.ServerIP[:])
	copy(tag[bootdevNetGatewayIP:], net.GatewayIP[:])
	copy(tag[bootdevNetClientIP:], net.IP[:])
	copy(tag[bootdevNetClientMAC:], net.HWAddr[:])
	return nil
}

// AddBootDevOther emits a BOOTDEV tag carrying a raw device specifier
// string.
func (b *Builder) AddBootDevOther(str string) *kernel.Error {
	strLen := uint32(len(str)) + 1

	tag, err := b.AllocTag(TagBootDev, bootdevOtherStrOff+strLen)
	if err != nil {
		return err
	}

	tag[bootdevType] = BootDevOther
	wire.PutU32(tag, bootdevOtherStrLen, strLen)
	copy(tag[bootdevOtherStrOff:], str)
	return nil
}

// AddBootDevNone emits a BOOTDEV tag reporting that no usable boot device
// information exists.
func (b *Builder) AddBootDevNone() *kernel.Error {
	tag, err := b.AllocTag(TagBootDev, bootdevLen)
	if err != nil {
		return err
	}

	tag[bootdevType] = BootDevNone
	return nil
}

// Terminate appends the NONE tag ending the list.
func (b *Builder) Terminate() *kernel.Error {
	_, err := b.AllocTag(TagNone, headerSize)
	return err
}

// VisitTags walks a tag list the way the kernel does: from the arena start,
// each record at the 8-byte boundary after the previous one, stopping at
// the NONE terminator (which is not passed to fn) or when fn returns
// false. It is the reference decoder for the handoff ABI.
func VisitTags(arena []byte, fn func(typ TagType, tag []byte) bool) {
	off := uint32(0)
	for off+headerSize <= uint32(len(arena)) {
		typ := TagType(wire.GetU32(arena, int(off)))
		size := wire.GetU32(arena, int(off)+4)

		if typ == TagNone {
			return
		}
		if size < headerSize || uint64(off)+uint64(size) > uint64(len(arena)) {
			return
		}

		if !fn(typ, arena[off:off+size]) {
			return
		}
		off += align8(size)
	}
}
