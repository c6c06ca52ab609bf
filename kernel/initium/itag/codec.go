package itag

import "github.com/gil0mendes/LAOS/kernel/initium/wire"

// Image tag wire layouts. Fixed fields are little-endian at the offsets
// below (LOAD leaves bytes 4-7 as padding after its flags); OPTION tags are
// followed by their variable-length name, description and default value.
const (
	imageVersion = 0
	imageFlags   = 4

	loadFlags        = 0
	loadAlignment    = 8
	loadMinAlignment = 16
	loadVirtMapBase  = 24
	loadVirtMapSize  = 32

	videoTypes  = 0
	videoWidth  = 4
	videoHeight = 8
	videoBpp    = 12

	optionTypeOff  = 0
	optionNameSize = 1
	optionDescSize = 5
	optionFixed    = 9

	mappingVirt = 0
	mappingPhys = 8
	mappingSize = 16
)

// DecodeImage parses an IMAGE tag payload.
func DecodeImage(raw []byte) ImageTag {
	return ImageTag{
		Version: wire.GetU32(raw, imageVersion),
		Flags:   ImageFlag(wire.GetU32(raw, imageFlags)),
	}
}

// DecodeLoad parses a LOAD tag payload.
func DecodeLoad(raw []byte) LoadTag {
	return LoadTag{
		Flags:        LoadFlag(wire.GetU32(raw, loadFlags)),
		Alignment:    wire.GetU64(raw, loadAlignment),
		MinAlignment: wire.GetU64(raw, loadMinAlignment),
		VirtMapBase:  wire.GetU64(raw, loadVirtMapBase),
		VirtMapSize:  wire.GetU64(raw, loadVirtMapSize),
	}
}

// DecodeVideo parses a VIDEO tag payload.
func DecodeVideo(raw []byte) VideoTag {
	return VideoTag{
		Types:  VideoModeKind(wire.GetU32(raw, videoTypes)),
		Width:  wire.GetU32(raw, videoWidth),
		Height: wire.GetU32(raw, videoHeight),
		Bpp:    raw[videoBpp],
	}
}

// DecodeMapping parses a MAPPING tag payload.
func DecodeMapping(raw []byte) MappingTag {
	return MappingTag{
		Virt: wire.GetU64(raw, mappingVirt),
		Phys: wire.GetU64(raw, mappingPhys),
		Size: wire.GetU64(raw, mappingSize),
	}
}

// cstring returns the bytes of raw up to (not including) the first NUL.
func cstring(raw []byte) string {
	for i := range raw {
		if raw[i] == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

// DecodeOption parses an OPTION tag payload: the fixed fields, the
// NUL-terminated name and description, and the type-dependent default
// value. It returns false if the payload is truncated or the option type
// is unknown.
func DecodeOption(raw []byte) (OptionTag, bool) {
	if len(raw) < optionFixed {
		return OptionTag{}, false
	}

	opt := OptionTag{Type: OptionType(raw[optionTypeOff])}
	nameSize := wire.GetU32(raw, optionNameSize)
	descSize := wire.GetU32(raw, optionDescSize)

	end := uint64(optionFixed) + uint64(nameSize) + uint64(descSize)
	if end > uint64(len(raw)) || nameSize == 0 {
		return OptionTag{}, false
	}

	opt.Name = cstring(raw[optionFixed : optionFixed+nameSize])
	opt.Description = cstring(raw[optionFixed+nameSize : end])

	value := raw[end:]
	switch opt.Type {
	case OptionBoolean:
		if len(value) < 1 {
			return OptionTag{}, false
		}
		opt.Default.Bool = value[0] != 0
	case OptionString:
		opt.Default.String = cstring(value)
	case OptionInteger:
		if len(value) < 8 {
			return OptionTag{}, false
		}
		opt.Default.Integer = wire.GetU64(value, 0)
	default:
		return OptionTag{}, false
	}

	return opt, true
}

// EncodeImage builds an IMAGE tag payload.
func EncodeImage(img ImageTag) []byte {
	raw := make([]byte, sizeofImage)
	wire.PutU32(raw, imageVersion, img.Version)
	wire.PutU32(raw, imageFlags, uint32(img.Flags))
	return raw
}

// EncodeLoad builds a LOAD tag payload.
func EncodeLoad(load LoadTag) []byte {
	raw := make([]byte, sizeofLoad)
	wire.PutU32(raw, loadFlags, uint32(load.Flags))
	wire.PutU64(raw, loadAlignment, load.Alignment)
	wire.PutU64(raw, loadMinAlignment, load.MinAlignment)
	wire.PutU64(raw, loadVirtMapBase, load.VirtMapBase)
	wire.PutU64(raw, loadVirtMapSize, load.VirtMapSize)
	return raw
}

// EncodeVideo builds a VIDEO tag payload.
func EncodeVideo(v VideoTag) []byte {
	raw := make([]byte, sizeofVideo)
	wire.PutU32(raw, videoTypes, uint32(v.Types))
	wire.PutU32(raw, videoWidth, v.Width)
	wire.PutU32(raw, videoHeight, v.Height)
	raw[videoBpp] = v.Bpp
	return raw
}

// EncodeMapping builds a MAPPING tag payload.
func EncodeMapping(m MappingTag) []byte {
	raw := make([]byte, sizeofMapping)
	wire.PutU64(raw, mappingVirt, m.Virt)
	wire.PutU64(raw, mappingPhys, m.Phys)
	wire.PutU64(raw, mappingSize, m.Size)
	return raw
}

// EncodeOption builds an OPTION tag payload.
func EncodeOption(opt OptionTag) []byte {
	name := append([]byte(opt.Name), 0)
	desc := append([]byte(opt.Description), 0)

	raw := make([]byte, optionFixed, optionFixed+len(name)+len(desc)+8)
	raw[optionTypeOff] = byte(opt.Type)
	wire.PutU32(raw, optionNameSize, uint32(len(name)))
	wire.PutU32(raw, optionDescSize, uint32(len(desc)))
	raw = append(raw, name...)
	raw = append(raw, desc...)

	switch opt.Type {
	case OptionBoolean:
		if opt.Default.Bool {
			raw = append(raw, 1)
		} else {
			raw = append(raw, 0)
		}
	case OptionString:
		raw = append(raw, append([]byte(opt.Default.String), 0)...)
	case OptionInteger:
		var num [8]byte
		wire.PutU64(num[:], 0, opt.Default.Integer)
		raw = append(raw, num[:]...)
	}

	return raw
}
