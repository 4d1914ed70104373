package song

import (
	"fmt"

	"github.com/hfmkwi/SapPy/internal/rom"
)

const sampleLoopFlag = 0x40

// Sample is a decoded DirectSound PCM sample. Data holds the signed
// 8-bit payload scaled to [-1, 1); Hz is the playback rate that sounds
// middle C.
type Sample struct {
	Hz        float64
	Loops     bool
	LoopStart int
	Data      []float32
}

// WaveSample is a CGB programmable-wave table: 32 4-bit steps unpacked
// low nibble first and centered around zero.
type WaveSample struct {
	Data [32]float32
}

func (vt *VoiceTable) sample(off int) (*Sample, error) {
	if s, ok := vt.samples[off]; ok {
		return s, nil
	}
	s, err := readSample(vt.img, off)
	if err != nil {
		return nil, err
	}
	vt.samples[off] = s
	return s, nil
}

func (vt *VoiceTable) wave(off int) (*WaveSample, error) {
	if w, ok := vt.waves[off]; ok {
		return w, nil
	}
	w, err := readWave(vt.img, off)
	if err != nil {
		return nil, err
	}
	vt.waves[off] = w
	return w, nil
}

// readSample decodes the DirectSound sample header at off: three zero
// bytes, the loop flag, the rate dword (Hz*1024 at middle C), the loop
// start, the size, then size bytes of signed PCM8.
func readSample(img *rom.Image, off int) (*Sample, error) {
	c := rom.NewCursor(img, off)
	z0 := c.Byte()
	z1 := c.Byte()
	z2 := c.Byte()
	flags := c.Byte()
	freq := c.U32()
	loopStart := c.U32()
	size := c.U32()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: at 0x%X: %v", ErrBadSample, off, err)
	}
	if z0 != 0 || z1 != 0 || z2 != 0 {
		return nil, fmt.Errorf("%w: at 0x%X: nonzero lead bytes", ErrBadSample, off)
	}
	if loopStart > size {
		return nil, fmt.Errorf("%w: at 0x%X: loop start %d past size %d", ErrBadSample, off, loopStart, size)
	}
	raw, err := img.Bytes(c.Offset(), int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: at 0x%X: %v", ErrBadSample, off, err)
	}
	data := make([]float32, len(raw))
	for i, b := range raw {
		data[i] = float32(int8(b)) / 128
	}
	return &Sample{
		Hz:        float64(freq) / 1024,
		Loops:     flags&sampleLoopFlag != 0,
		LoopStart: int(loopStart),
		Data:      data,
	}, nil
}

// readWave unpacks the 16-byte wave table at off into 32 steps.
func readWave(img *rom.Image, off int) (*WaveSample, error) {
	raw, err := img.Bytes(off, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: wave table at 0x%X: %v", ErrBadSample, off, err)
	}
	var w WaveSample
	for i, b := range raw {
		w.Data[2*i] = (float32(b&0xF) - 7.5) / 7.5
		w.Data[2*i+1] = (float32(b>>4) - 7.5) / 7.5
	}
	return &w, nil
}
