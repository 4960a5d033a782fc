package zmachine

import (
	"fmt"
	"os"
)

// ---------------------------------------------------------------------------
// Header Layout
// ---------------------------------------------------------------------------

// Byte offsets of the header fields the interpreter consumes. The header
// occupies the first 64 bytes of every story file.
const (
	hdrVersion       = 0x00
	hdrFlags1        = 0x01
	hdrRelease       = 0x02
	hdrHighBase      = 0x04
	hdrInitialPC     = 0x06 // packed main routine on v6
	hdrDictionary    = 0x08
	hdrObjectTable   = 0x0A
	hdrGlobals       = 0x0C
	hdrStaticBase    = 0x0E
	hdrFlags2        = 0x10
	hdrSerial        = 0x12 // 6 ASCII bytes
	hdrAbbreviations = 0x18
	hdrFileLength    = 0x1A // scaled by version, see fileLengthUnit
	hdrChecksum      = 0x1C
	hdrInterpNum     = 0x1E
	hdrInterpVer     = 0x1F
	hdrScreenRows    = 0x20
	hdrScreenCols    = 0x21
	hdrRoutinesOff   = 0x28 // v6/7, divided by 8
	hdrStringsOff    = 0x2A // v6/7, divided by 8
	hdrTermChars     = 0x2E
	hdrStandardRev   = 0x32
	hdrAlphabetTable = 0x34
	hdrExtensionTab  = 0x36

	headerSize = 0x40
)

// Header extension word indices.
const (
	extUnicodeTable = 3
)

// ---------------------------------------------------------------------------
// Story Image
// ---------------------------------------------------------------------------

// Story is the immutable parsed representation of a loaded story file. The
// pristine byte image is retained for the lifetime of the Story and shared
// read-only by every Machine built from it; machines copy it into their own
// writable memory on construction and on Reset.
type Story struct {
	data []byte

	Version    byte
	Release    uint16
	Serial     [6]byte
	Checksum   uint16 // as recorded in the header
	InitialPC  uint32
	FileLength uint32 // unscaled byte length per the header

	HighBase      uint16
	StaticBase    uint16
	Dictionary    uint16
	ObjectTable   uint16
	Globals       uint16
	Abbreviations uint16
	RoutinesOff   uint16 // v6/7 routine offset, already divided by 8
	StringsOff    uint16 // v6/7 string offset, already divided by 8
	AlphabetAddr  uint16
	ExtensionAddr uint16
}

// LoadStory parses a story image from raw bytes. The slice is copied; the
// caller may reuse it afterwards.
func LoadStory(data []byte) (*Story, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrStoryTooShort, len(data), headerSize)
	}
	version := data[hdrVersion]
	if version < 1 || version > 8 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, version)
	}

	s := &Story{
		data:    append([]byte(nil), data...),
		Version: version,
	}
	s.Release = beWord(data, hdrRelease)
	copy(s.Serial[:], data[hdrSerial:hdrSerial+6])
	s.Checksum = beWord(data, hdrChecksum)
	s.HighBase = beWord(data, hdrHighBase)
	s.StaticBase = beWord(data, hdrStaticBase)
	s.Dictionary = beWord(data, hdrDictionary)
	s.ObjectTable = beWord(data, hdrObjectTable)
	s.Globals = beWord(data, hdrGlobals)
	s.Abbreviations = beWord(data, hdrAbbreviations)
	s.RoutinesOff = beWord(data, hdrRoutinesOff)
	s.StringsOff = beWord(data, hdrStringsOff)
	s.AlphabetAddr = beWord(data, hdrAlphabetTable)
	s.ExtensionAddr = beWord(data, hdrExtensionTab)
	s.FileLength = uint32(beWord(data, hdrFileLength)) * fileLengthUnit(version)

	if version == 6 {
		s.InitialPC = uint32(beWord(data, hdrInitialPC))*packedUnit(version) + uint32(s.RoutinesOff)*8 + 1
	} else {
		s.InitialPC = uint32(beWord(data, hdrInitialPC))
	}

	// A zero length field is tolerated (very old files); otherwise the image
	// must contain every byte the header claims.
	if s.FileLength != 0 && uint32(len(data)) < s.FileLength {
		return nil, fmt.Errorf("%w: have %d bytes, header claims %d", ErrStoryTooShort, len(data), s.FileLength)
	}
	if int(s.StaticBase) > len(data) {
		return nil, fmt.Errorf("%w: static base %#x beyond file end", ErrStoryTooShort, s.StaticBase)
	}
	return s, nil
}

// LoadStoryFile reads and parses a story file from disk.
func LoadStoryFile(path string) (*Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story file: %w", err)
	}
	s, err := LoadStory(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Bytes returns the pristine story image. Callers must not mutate it.
func (s *Story) Bytes() []byte { return s.data }

// Size returns the byte length of the loaded image.
func (s *Story) Size() int { return len(s.data) }

// ComputeChecksum sums every byte from 0x40 up to the header file length,
// modulo 0x10000. Files predating the checksum convention record zero.
func (s *Story) ComputeChecksum() uint16 {
	end := s.FileLength
	if end == 0 || end > uint32(len(s.data)) {
		end = uint32(len(s.data))
	}
	var sum uint16
	for _, b := range s.data[headerSize:end] {
		sum += uint16(b)
	}
	return sum
}

// fileLengthUnit is the scale factor applied to the header length word.
func fileLengthUnit(version byte) uint32 {
	switch {
	case version <= 3:
		return 2
	case version <= 5:
		return 4
	default:
		return 8
	}
}

// packedUnit is the multiplier for packed addresses.
func packedUnit(version byte) uint32 {
	switch {
	case version <= 3:
		return 2
	case version <= 7:
		return 4
	default:
		return 8
	}
}

// RoutineAddr resolves a packed routine address to a byte address.
func (s *Story) RoutineAddr(packed uint16) uint32 {
	addr := uint32(packed) * packedUnit(s.Version)
	if s.Version == 6 || s.Version == 7 {
		addr += uint32(s.RoutinesOff) * 8
	}
	return addr
}

// StringAddr resolves a packed string address to a byte address.
func (s *Story) StringAddr(packed uint16) uint32 {
	addr := uint32(packed) * packedUnit(s.Version)
	if s.Version == 6 || s.Version == 7 {
		addr += uint32(s.StringsOff) * 8
	}
	return addr
}

// beWord reads a big-endian 16-bit word at off. Bounds are the caller's
// responsibility; header parsing checks length up front.
func beWord(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}
