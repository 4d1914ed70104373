package rom

import (
	"bytes"
	"encoding/binary"
)

// THUMB prologue of m4aSongNumStart. A couple of games shipped with a
// tweaked driver build, so the production code selects a variant.
var (
	m4aMainSig = [5]uint32{0x18400B40, 0x00598883, 0x008918C9, 0x680A1889, 0x1C106801}
	amtMainSig = [5]uint32{0x18400B40, 0x00518882, 0x00891889, 0x680A18C9, 0x1C106801}
	bmxMainSig = [5]uint32{0x40082002, 0xD0022800, 0x42826918, 0x1C20D003, 0xF0012100}
)

// POP {PC} + BX following the prologue.
const mainEndCmd = 0x4700BC01

// Byte sequence preceding the SoundDriverMode setup in the older driver
// builds; the mode word sits in a small window around it.
var m4aOldSig = []byte{
	0x00, 0xB5, 0x00, 0x04, 0x07, 0x4A, 0x08, 0x49,
	0x40, 0x0B, 0x40, 0x18, 0x83, 0x88, 0x59, 0x00,
	0xC9, 0x18, 0x89, 0x00, 0x89, 0x18, 0x0A, 0x68,
	0x01, 0x68, 0x10, 0x1C, 0x00, 0xF0,
}

// FindSongTable scans the image for the m4aSongNumStart prologue and
// returns the image offset of the song table it references. The scan works
// on dword-aligned data, which is how the THUMB code lands in practice.
func (img *Image) FindSongTable() (int, error) {
	sig := m4aMainSig
	switch codePrefix(img.code) {
	case "AMT":
		sig = amtMainSig
	case "BMX":
		sig = bmxMainSig
	}
	data := img.data
	n := len(data) / 4
	for i := 0; i+8 < n; i++ {
		if dword(data, i) != sig[0] {
			continue
		}
		if dword(data, i+6) != mainEndCmd {
			continue
		}
		match := true
		for k := 1; k < 5; k++ {
			if dword(data, i+k) != sig[k] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		off, err := img.Offset(dword(data, i+8))
		if err != nil {
			continue
		}
		return off, nil
	}
	return 0, ErrNoSongTable
}

// DriverMode holds the decoded SoundDriverMode word, with the index fields
// already resolved to concrete units.
type DriverMode struct {
	Reverb    int  // 0..127 depth
	ReverbOn  bool // bit 7 of the mode word
	Polyphony int  // 1..12 DirectSound channels
	Volume    int  // 0..255 master level
	Frequency int  // driver mixing rate in Hz
	DACBits   int  // PWM DAC resolution: 9, 8, 7 or 6
	Found     bool // false when the defaults were substituted
}

var sdmFrequencies = [13]int{
	0, 5734, 7884, 10512, 13379, 15768, 18157, 21024, 26758, 31536, 36314, 40137, 42048,
}

// DefaultDriverMode returns the mode most games run with when the scan
// comes up empty: reverb off, 8 channels, full volume, 13379 Hz, 8-bit DAC.
func DefaultDriverMode() DriverMode {
	return DriverMode{
		Reverb:    0,
		ReverbOn:  false,
		Polyphony: 8,
		Volume:    15 * 17,
		Frequency: sdmFrequencies[4],
		DACBits:   8,
	}
}

// FindDriverMode locates the SoundDriverMode call and decodes its mode
// word. A few games hide it (or never call it); those get the defaults.
func (img *Image) FindDriverMode() DriverMode {
	switch codePrefix(img.code) {
	case "AMT":
		return img.scanDriverMode(0x45A8)
	case "A88", "AXV":
		return DefaultDriverMode()
	}
	pos := bytes.Index(img.data, m4aOldSig)
	if pos < 0 {
		return DefaultDriverMode()
	}
	return img.scanDriverMode(pos + 1)
}

// scanDriverMode checks a 64-dword window straddling the anchor for a mode
// word whose fields are all in range. The driver work-area pointer sits 30
// dwords after the mode word and must land inside the image.
func (img *Image) scanDriverMode(anchor int) DriverMode {
	data := img.data
	n := len(data) / 4
	start := (anchor-32)/4 + 1
	if start < 0 {
		start = 0
	}
	for k := 0; k < 64; k++ {
		i := start + k
		if i+30 >= n {
			break
		}
		mode, ok := decodeDriverMode(dword(data, i))
		if !ok {
			continue
		}
		workArea := dword(data, i+30) & 0x3FFFFFF
		if int(workArea) > len(data) {
			continue
		}
		mode.Found = true
		return mode
	}
	return DefaultDriverMode()
}

func decodeDriverMode(w uint32) (DriverMode, bool) {
	reverb := int(w & 0x7F)
	polyphony := int(w>>8) & 0xF
	volumeInd := int(w>>12) & 0xF
	freqInd := int(w>>16) & 0xF
	dacInd := int(w>>20) & 0xF
	if polyphony < 1 || polyphony > 12 {
		return DriverMode{}, false
	}
	if volumeInd < 1 || volumeInd > 15 {
		return DriverMode{}, false
	}
	if freqInd < 1 || freqInd > 12 {
		return DriverMode{}, false
	}
	if dacInd < 8 || dacInd > 11 {
		return DriverMode{}, false
	}
	return DriverMode{
		Reverb:    reverb,
		ReverbOn:  w&0x80 != 0,
		Polyphony: polyphony,
		Volume:    volumeInd * 17,
		Frequency: sdmFrequencies[freqInd],
		DACBits:   17 - dacInd,
	}, true
}

func dword(data []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(data[i*4:])
}

func codePrefix(code string) string {
	if len(code) > 3 {
		return code[:3]
	}
	return code
}
