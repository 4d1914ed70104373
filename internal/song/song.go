// Package song decodes M4A song data out of a ROM image: song table
// entries, song headers, voice tables, sample data and track bytecode.
package song

import (
	"errors"
	"fmt"

	"github.com/hfmkwi/SapPy/internal/rom"
)

var (
	ErrBadSong        = errors.New("invalid song entry")
	ErrBlankSong      = errors.New("song has no tracks")
	ErrBadVoice       = errors.New("invalid voice entry")
	ErrBadSample      = errors.New("invalid sample header")
	ErrUnknownCommand = errors.New("unsupported track command")
	ErrCallOverflow   = errors.New("pattern call stack overflow")
	ErrCallUnderflow  = errors.New("pattern return without call")
)

// The driver's music player runs at most this many tracks per song; a
// larger count means the entry does not point at a song header.
const maxTracks = 16

// Meta describes a resolved song for display and tooling.
type Meta struct {
	GameTitle string
	GameCode  string
	TableOff  int
	HeaderOff int
	VoiceOff  int
	Tracks    int
	Blocks    int
	Priority  int
	Reverb    int
}

// EchoEnabled reports whether the song overrides the driver reverb
// (bit 7 of the reverb byte).
func (m Meta) EchoEnabled() bool { return m.Reverb&0x80 != 0 }

// ReverbDepth returns the song reverb depth, bits 0..6 of the reverb
// byte. Meaningful only when EchoEnabled.
func (m Meta) ReverbDepth() int { return m.Reverb & 0x7F }

// Track is a handle on one track's bytecode.
type Track struct {
	Entry int // image offset of the first instruction
}

// Song is a fully resolved song table entry: header metadata, track
// entry points, the voice table and the discovered driver mode.
type Song struct {
	Meta   Meta
	Tracks []Track
	Voices *VoiceTable
	Mode   rom.DriverMode
}

// CountSongs walks song table entries from tableOff until a header
// pointer stops translating, which is how the table ends in practice.
func CountSongs(img *rom.Image, tableOff int) int {
	n := 0
	for {
		ptr, err := img.U32(tableOff + n*8)
		if err != nil {
			return n
		}
		if _, err := img.Offset(ptr); err != nil {
			return n
		}
		n++
	}
}

// LoadSong resolves the 8-byte song table entry at tableOff + index*8
// and loads the song header and voice table behind it. Every failure
// mode surfaces here, before any audio is rendered.
func LoadSong(img *rom.Image, tableOff, index int) (*Song, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: song index %d", ErrBadSong, index)
	}
	ptr, err := img.U32(tableOff + index*8)
	if err != nil {
		return nil, fmt.Errorf("%w: song %d entry at 0x%X: %v", ErrBadSong, index, tableOff+index*8, err)
	}
	head, err := img.Offset(ptr)
	if err != nil {
		return nil, fmt.Errorf("%w: song %d header pointer 0x%08X: %v", ErrBadSong, index, ptr, err)
	}

	c := rom.NewCursor(img, head)
	trackCount := int(c.Byte())
	blocks := int(c.Byte())
	priority := int(c.Byte())
	reverb := int(c.Byte())
	voiceOff := c.Ptr()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: song %d header at 0x%X: %v", ErrBadSong, index, head, err)
	}
	if trackCount == 0 {
		return nil, fmt.Errorf("%w: song %d at 0x%X", ErrBlankSong, index, head)
	}
	if trackCount > maxTracks {
		return nil, fmt.Errorf("%w: song %d claims %d tracks", ErrBadSong, index, trackCount)
	}

	tracks := make([]Track, trackCount)
	for i := range tracks {
		off := c.Ptr()
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("%w: song %d track %d: %v", ErrBadSong, index, i, err)
		}
		tracks[i] = Track{Entry: off}
	}

	return &Song{
		Meta: Meta{
			GameTitle: img.Title(),
			GameCode:  img.GameCode(),
			TableOff:  tableOff,
			HeaderOff: head,
			VoiceOff:  voiceOff,
			Tracks:    trackCount,
			Blocks:    blocks,
			Priority:  priority,
			Reverb:    reverb,
		},
		Tracks: tracks,
		Voices: NewVoiceTable(img, voiceOff),
		Mode:   img.FindDriverMode(),
	}, nil
}
