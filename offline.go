package sappy

import (
	"encoding/binary"
	"io"
	"math"

	intsong "github.com/hfmkwi/SapPy/internal/song"
)

const (
	// renderChunk is the number of stereo frames rendered per pass.
	renderChunk = 4096

	// maxRenderSeconds bounds offline output so a pathological song
	// cannot eat all memory.
	maxRenderSeconds = 1200
)

// Render plays one song to completion without an audio device and
// returns interleaved stereo float32 frames. A loop limit of at least
// one is forced so songs that loop forever still terminate; release
// tails past the final command are included.
func (p *Player) Render(song int) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img == nil {
		return nil, ErrNotLoaded
	}
	sng, err := intsong.LoadSong(p.img, p.table, song)
	if err != nil {
		return nil, err
	}
	loops := p.params.LoopLimit
	if loops < 1 {
		loops = 1
	}
	seq := p.buildSequencer(sng, loops, nil)

	maxSamples := p.params.SampleRate * maxRenderSeconds * 2
	var out []float32
	buf := make([]float32, renderChunk*2)
	for !seq.Finished() && len(out) < maxSamples {
		seq.Process(buf)
		out = append(out, buf...)
	}
	if err := seq.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderWAV renders one song and writes it to w as a float32 WAV file.
func (p *Player) RenderWAV(w io.Writer, song int) error {
	samples, err := p.Render(song)
	if err != nil {
		return err
	}
	_, err = w.Write(EncodeWAVFloat32LE(samples, p.params.SampleRate, 2))
	return err
}

// EncodeWAVFloat32LE wraps interleaved samples in a 44-byte RIFF header
// (format tag 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
