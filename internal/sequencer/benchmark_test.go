package sequencer

import (
	"testing"

	"github.com/hfmkwi/SapPy/internal/synth"
)

func BenchmarkSequencerProcess(b *testing.B) {
	// Two vibratoed notes looping forever keeps every stage busy:
	// bytecode, modulation pushes and the mixer.
	loop := append([]byte{
		0xBD, 0x00, 0xC4, 40, 0xC2, 60,
		0xD3, 60, 100, 0x84,
		0xD3, 64, 100, 0x84,
		0xB2,
	}, ptrBytes(trackOff+6)...)
	img, sng := buildSong(b, loop)
	buf := make([]float32, 2048*2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		seq := New(img, sng, synth.New(48000), Options{SampleRate: 48000})
		seq.Process(buf)
	}
}
