package rom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// GBA cartridge ROM is mapped at 0x08000000; stored pointers must land in
// that window before they can be translated to image offsets.
const (
	AddressSpaceStart = 0x08000000
	AddressSpaceEnd   = 0x09FFFFFF
)

const (
	titleOffset    = 0xA0
	codeOffset     = 0xAC
	makerOffset    = 0xB0
	fixedOffset    = 0xB2
	checksumOffset = 0xBD
	headerEnd      = 0xC0
)

var (
	ErrOutOfRange  = errors.New("read out of range")
	ErrBadPointer  = errors.New("invalid ROM pointer")
	ErrBadImage    = errors.New("not a GBA ROM image")
	ErrNoSongTable = errors.New("song table not found")
)

// Image is a read-only view of a loaded GBA ROM with the AGB cartridge
// header parsed up front. All reads are bounds-checked and pure.
type Image struct {
	data  []byte
	title string
	code  string
	maker string
}

// New validates the AGB header and wraps the ROM bytes. The image keeps
// its own copy of data.
func New(data []byte) (*Image, error) {
	if len(data) < headerEnd {
		return nil, fmt.Errorf("%w: %d bytes, need at least 0x%X", ErrBadImage, len(data), headerEnd)
	}
	if data[fixedOffset] != 0x96 {
		return nil, fmt.Errorf("%w: fixed byte 0x%02X at 0x%X, want 0x96", ErrBadImage, data[fixedOffset], fixedOffset)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Image{
		data:  cp,
		title: trimASCII(cp[titleOffset : titleOffset+12]),
		code:  trimASCII(cp[codeOffset : codeOffset+4]),
		maker: trimASCII(cp[makerOffset : makerOffset+2]),
	}, nil
}

func (img *Image) Size() int { return len(img.data) }

// Title returns the 12-character internal game title.
func (img *Image) Title() string { return img.title }

// Code returns the raw 4-character production code.
func (img *Image) Code() string { return img.code }

// Maker returns the 2-character maker code.
func (img *Image) Maker() string { return img.maker }

// GameCode renders the production code in AGB-XXXX-REG form, deriving the
// region from the fourth code character.
func (img *Image) GameCode() string {
	code := img.code
	for len(code) < 4 {
		code += "?"
	}
	return fmt.Sprintf("AGB-%s-%s", code, regionName(code[3]))
}

// HeaderChecksumOK reports whether the header complement byte matches.
// Some dumps fail this while still playing fine, so it is informational.
func (img *Image) HeaderChecksumOK() bool {
	sum := 0
	for _, b := range img.data[titleOffset:checksumOffset] {
		sum += int(b)
	}
	return byte(-(0x19+sum)) == img.data[checksumOffset]
}

// Byte reads one byte at off.
func (img *Image) Byte(off int) (byte, error) {
	if off < 0 || off >= len(img.data) {
		return 0, fmt.Errorf("%w: byte at 0x%X", ErrOutOfRange, off)
	}
	return img.data[off], nil
}

// S8 reads a signed byte at off.
func (img *Image) S8(off int) (int8, error) {
	b, err := img.Byte(off)
	return int8(b), err
}

// U16 reads a little-endian word at off.
func (img *Image) U16(off int) (uint16, error) {
	if off < 0 || off+2 > len(img.data) {
		return 0, fmt.Errorf("%w: word at 0x%X", ErrOutOfRange, off)
	}
	return binary.LittleEndian.Uint16(img.data[off:]), nil
}

// U32 reads a little-endian dword at off.
func (img *Image) U32(off int) (uint32, error) {
	if off < 0 || off+4 > len(img.data) {
		return 0, fmt.Errorf("%w: dword at 0x%X", ErrOutOfRange, off)
	}
	return binary.LittleEndian.Uint32(img.data[off:]), nil
}

// Bytes returns a copy of n bytes starting at off.
func (img *Image) Bytes(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(img.data) {
		return nil, fmt.Errorf("%w: %d bytes at 0x%X", ErrOutOfRange, n, off)
	}
	out := make([]byte, n)
	copy(out, img.data[off:])
	return out, nil
}

// String reads n raw bytes at off as a string.
func (img *Image) String(off, n int) (string, error) {
	b, err := img.Bytes(off, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Offset translates a stored GBA pointer to an image offset. The pointer
// must lie in cartridge space and the offset inside the image.
func (img *Image) Offset(ptr uint32) (int, error) {
	if ptr < AddressSpaceStart || ptr > AddressSpaceEnd {
		return 0, fmt.Errorf("%w: 0x%08X outside cartridge space", ErrBadPointer, ptr)
	}
	off := int(ptr - AddressSpaceStart)
	if off >= len(img.data) {
		return 0, fmt.Errorf("%w: 0x%08X beyond image end", ErrBadPointer, ptr)
	}
	return off, nil
}

// Ptr reads the dword at off and translates it as a GBA pointer.
func (img *Image) Ptr(off int) (int, error) {
	v, err := img.U32(off)
	if err != nil {
		return 0, err
	}
	return img.Offset(v)
}

// --- internal helpers ---

func regionName(c byte) string {
	switch c {
	case 'J':
		return "JPN"
	case 'E':
		return "USA"
	case 'P':
		return "PAL"
	case 'D':
		return "DEU"
	case 'F':
		return "FRA"
	case 'I':
		return "ITA"
	case 'S':
		return "ESP"
	default:
		return "UNK"
	}
}

func trimASCII(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			break
		}
		if c < 0x20 || c > 0x7E {
			c = '?'
		}
		out = append(out, c)
	}
	return strings.TrimSpace(string(out))
}
