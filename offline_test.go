package sappy

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -1, 0.25}
	wav := EncodeWAVFloat32LE(samples, 48000, 2)

	if len(wav) != 44+16 {
		t.Fatalf("encoded %d bytes, want 60", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF magic %q %q", wav[0:4], wav[8:12])
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids %q %q", wav[12:16], wav[36:40])
	}
	if tag := binary.LittleEndian.Uint16(wav[20:]); tag != 3 {
		t.Errorf("format tag = %d, want 3 (IEEE float)", tag)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:]); ch != 2 {
		t.Errorf("channels = %d, want 2", ch)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 48000 {
		t.Errorf("sample rate = %d, want 48000", rate)
	}
	if br := binary.LittleEndian.Uint32(wav[28:]); br != 48000*8 {
		t.Errorf("byte rate = %d, want %d", br, 48000*8)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:]); bits != 32 {
		t.Errorf("bits per sample = %d, want 32", bits)
	}
	if size := binary.LittleEndian.Uint32(wav[40:]); size != 16 {
		t.Errorf("data size = %d, want 16", size)
	}
}

func TestEncodeWAVPayload(t *testing.T) {
	samples := []float32{0, 0.5, -1, 0.25}
	wav := EncodeWAVFloat32LE(samples, 48000, 2)
	for i, want := range samples {
		bits := binary.LittleEndian.Uint32(wav[44+i*4:])
		if got := math.Float32frombits(bits); got != want {
			t.Errorf("sample %d = %v, want %v", i, got, want)
		}
	}
}

func TestRenderWAVWritesWholeSong(t *testing.T) {
	pl := newLoadedPlayer(t, buildROM(t, 0, 0, noteTrack))

	var buf bytes.Buffer
	if err := pl.RenderWAV(&buf, 0); err != nil {
		t.Fatalf("RenderWAV: %v", err)
	}
	wav := buf.Bytes()
	if len(wav) <= 44 {
		t.Fatalf("wrote %d bytes, want header plus payload", len(wav))
	}
	if string(wav[0:4]) != "RIFF" {
		t.Fatalf("bad RIFF magic %q", wav[0:4])
	}
	if size := binary.LittleEndian.Uint32(wav[40:]); int(size) != len(wav)-44 {
		t.Fatalf("data size = %d, file holds %d", size, len(wav)-44)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != testRate {
		t.Errorf("sample rate = %d, want %d", rate, testRate)
	}
	// The note itself must have made it into the payload.
	first := math.Float32frombits(binary.LittleEndian.Uint32(wav[44:]))
	if first == 0 {
		t.Errorf("first payload sample is silent")
	}
}

func TestRenderWAVFailsBeforeWriting(t *testing.T) {
	pl := newLoadedPlayer(t, buildROM(t, 0, 0, noteTrack))
	var buf bytes.Buffer
	if err := pl.RenderWAV(&buf, 9); err == nil {
		t.Fatalf("RenderWAV(9) should fail, table has 2 songs")
	}
	if buf.Len() != 0 {
		t.Fatalf("failed render wrote %d bytes", buf.Len())
	}
}
