package song

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hfmkwi/SapPy/internal/rom"
)

// testImage builds a 4 KiB image with a valid AGB header and hands the
// raw bytes to build for planting song data.
func testImage(t *testing.T, build func(data []byte)) *rom.Image {
	t.Helper()
	data := make([]byte, 0x1000)
	copy(data[0xA0:], "SONGTEST")
	copy(data[0xAC:], "AXYE")
	data[0xB2] = 0x96
	if build != nil {
		build(data)
	}
	img, err := rom.New(data)
	if err != nil {
		t.Fatalf("test image: %v", err)
	}
	return img
}

// putPtr stores a GBA pointer to an image offset.
func putPtr(data []byte, off, target int) {
	binary.LittleEndian.PutUint32(data[off:], uint32(0x08000000+target))
}

func buildSongROM(data []byte) {
	// Song table at 0x100, song header at 0x180, voice table at 0x400,
	// two tracks at 0x200 and 0x210.
	putPtr(data, 0x100, 0x180)
	data[0x180] = 2    // tracks
	data[0x181] = 5    // blocks
	data[0x182] = 3    // priority
	data[0x183] = 0xA8 // reverb: override bit + depth 40
	putPtr(data, 0x184, 0x400)
	putPtr(data, 0x188, 0x200)
	putPtr(data, 0x18C, 0x210)
	data[0x200] = 0xB1
	data[0x210] = 0xB1
}

func TestLoadSong(t *testing.T) {
	img := testImage(t, buildSongROM)
	s, err := LoadSong(img, 0x100, 0)
	if err != nil {
		t.Fatalf("load song: %v", err)
	}
	m := s.Meta
	if m.GameTitle != "SONGTEST" {
		t.Errorf("title = %q, want SONGTEST", m.GameTitle)
	}
	if m.HeaderOff != 0x180 || m.VoiceOff != 0x400 || m.TableOff != 0x100 {
		t.Errorf("offsets = header 0x%X voice 0x%X table 0x%X", m.HeaderOff, m.VoiceOff, m.TableOff)
	}
	if m.Tracks != 2 || m.Blocks != 5 || m.Priority != 3 {
		t.Errorf("header fields = %d tracks, %d blocks, priority %d", m.Tracks, m.Blocks, m.Priority)
	}
	if !m.EchoEnabled() || m.ReverbDepth() != 40 {
		t.Errorf("reverb = enabled %v depth %d, want enabled 40", m.EchoEnabled(), m.ReverbDepth())
	}
	if len(s.Tracks) != 2 || s.Tracks[0].Entry != 0x200 || s.Tracks[1].Entry != 0x210 {
		t.Errorf("track entries = %+v", s.Tracks)
	}
	if s.Voices == nil {
		t.Error("missing voice table")
	}
}

func TestLoadSongBadIndex(t *testing.T) {
	img := testImage(t, buildSongROM)
	if _, err := LoadSong(img, 0x100, -1); !errors.Is(err, ErrBadSong) {
		t.Errorf("negative index: got %v, want ErrBadSong", err)
	}
	if _, err := LoadSong(img, 0x100, 10000); !errors.Is(err, ErrBadSong) {
		t.Errorf("index past image: got %v, want ErrBadSong", err)
	}
}

func TestLoadSongBadHeaderPointer(t *testing.T) {
	img := testImage(t, func(data []byte) {
		binary.LittleEndian.PutUint32(data[0x100:], 0x12345678)
	})
	if _, err := LoadSong(img, 0x100, 0); !errors.Is(err, ErrBadSong) {
		t.Errorf("got %v, want ErrBadSong", err)
	}
}

func TestLoadSongBlank(t *testing.T) {
	img := testImage(t, func(data []byte) {
		putPtr(data, 0x100, 0x180)
		putPtr(data, 0x184, 0x400) // zero track count
	})
	if _, err := LoadSong(img, 0x100, 0); !errors.Is(err, ErrBlankSong) {
		t.Errorf("got %v, want ErrBlankSong", err)
	}
}

func TestLoadSongBadTrackPointer(t *testing.T) {
	img := testImage(t, func(data []byte) {
		putPtr(data, 0x100, 0x180)
		data[0x180] = 1
		putPtr(data, 0x184, 0x400)
		binary.LittleEndian.PutUint32(data[0x188:], 0x00000000)
	})
	if _, err := LoadSong(img, 0x100, 0); !errors.Is(err, ErrBadSong) {
		t.Errorf("got %v, want ErrBadSong", err)
	}
}

func TestLoadSongRejectsWildTrackCount(t *testing.T) {
	img := testImage(t, func(data []byte) {
		putPtr(data, 0x100, 0x180)
		data[0x180] = 100
		putPtr(data, 0x184, 0x400)
	})
	if _, err := LoadSong(img, 0x100, 0); !errors.Is(err, ErrBadSong) {
		t.Errorf("got %v, want ErrBadSong", err)
	}
}

func TestCountSongs(t *testing.T) {
	img := testImage(t, func(data []byte) {
		putPtr(data, 0x100, 0x180)
		putPtr(data, 0x108, 0x190)
		putPtr(data, 0x110, 0x1A0)
		// entry 3 left zero: not a valid pointer, so the table ends
	})
	if n := CountSongs(img, 0x100); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestCountSongsEmpty(t *testing.T) {
	img := testImage(t, nil)
	if n := CountSongs(img, 0x100); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}
