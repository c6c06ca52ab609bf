// Package wire contains the little-endian field accessors used to read and
// write protocol structures (ELF headers, image tags, handoff tags) at
// explicit byte offsets. The handoff ABI is defined bit-for-bit, so the
// serializers spell out every offset instead of overlaying Go structs whose
// layout the compiler controls.
package wire

// GetU16 reads a little-endian uint16 at off.
func GetU16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

// GetU32 reads a little-endian uint32 at off.
func GetU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// GetU64 reads a little-endian uint64 at off.
func GetU64(b []byte, off int) uint64 {
	return uint64(GetU32(b, off)) | uint64(GetU32(b, off+4))<<32
}

// PutU16 writes a little-endian uint16 at off.
func PutU16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

// PutU32 writes a little-endian uint32 at off.
func PutU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

// PutU64 writes a little-endian uint64 at off.
func PutU64(b []byte, off int, v uint64) {
	PutU32(b, off, uint32(v))
	PutU32(b, off+4, uint32(v>>32))
}
