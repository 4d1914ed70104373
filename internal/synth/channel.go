package synth

import (
	"math"

	"github.com/hfmkwi/SapPy/internal/song"
)

type envStage int

const (
	envIdle envStage = iota
	envAttack
	envDecay
	envSustain
	envRelease
)

// Pattern steps held high per square duty setting, out of 8.
var dutyHigh = [4]int{1, 2, 4, 6}

// channel is one mixer slot. The generator side advances per frame;
// the envelope and gate side only move on sequencer ticks, so frames
// between ticks render at the held level.
type channel struct {
	active bool
	stage  envStage
	env    int

	voice    *song.Voice
	key      int // sounding key, drum root substitution applied
	noteKey  int // played key, what an end-of-tie matches against
	vel      int
	track    int
	priority int
	age      uint64
	gate     int // remaining gated ticks, -1 for a tie

	trackVol int
	pan      int     // effective pan, voice override applied
	pitch    float64 // semitone offset from bend, tune and vibrato
	echoSend int     // pseudo-echo send level 0..127

	gainL, gainR float32
	step         float64

	pos   float64 // sample position or pattern phase
	lfsr  uint16
	level float32 // last noise output
}

// updateStep derives the per-frame generator increment from the
// sounding key and the live pitch offset.
func (c *channel) updateStep(outRate float64) {
	mul := math.Pow(2, c.pitch/12)
	switch c.voice.Mode {
	case song.VoiceDirectSound:
		hz := c.voice.Sample.Hz
		if !c.voice.FixedPitch {
			hz *= math.Pow(2, float64(c.key-c.voice.Root)/12)
		}
		c.step = hz * mul / outRate
	case song.VoiceSquare1, song.VoiceSquare2:
		c.step = resample(c.key, 7040) * mul / outRate
	case song.VoiceWave:
		c.step = resample(c.key, 16744) * mul / outRate
	case song.VoiceNoise:
		c.step = resample(c.key, 7040) * mul / outRate
	}
}

// render produces one mono frame and advances the generator. A
// DirectSound channel running off the end of an unlooped sample frees
// itself here.
func (c *channel) render() float32 {
	switch c.voice.Mode {
	case song.VoiceDirectSound:
		return c.renderPCM()
	case song.VoiceSquare1, song.VoiceSquare2:
		return c.renderSquare()
	case song.VoiceWave:
		return c.renderWave()
	case song.VoiceNoise:
		return c.renderNoise()
	}
	return 0
}

func (c *channel) renderPCM() float32 {
	smp := c.voice.Sample
	d := smp.Data
	n := len(d)
	i := int(c.pos)
	if i >= n {
		c.active = false
		c.stage = envIdle
		return 0
	}
	frac := float32(c.pos - float64(i))
	s := d[i] * (1 - frac)
	if i+1 < n {
		s += d[i+1] * frac
	} else if smp.Loops {
		s += d[smp.LoopStart] * frac
	}
	c.pos += c.step
	if smp.Loops {
		span := float64(n - smp.LoopStart)
		for c.pos >= float64(n) && span > 0 {
			c.pos -= span
		}
	} else if c.pos >= float64(n) {
		c.active = false
		c.stage = envIdle
	}
	return s
}

func (c *channel) renderSquare() float32 {
	var s float32 = -1
	if int(c.pos)&7 < dutyHigh[c.voice.Duty&3] {
		s = 1
	}
	c.pos += c.step
	for c.pos >= 8 {
		c.pos -= 8
	}
	return s
}

func (c *channel) renderWave() float32 {
	s := c.voice.Wave.Data[int(c.pos)&31]
	c.pos += c.step
	for c.pos >= 32 {
		c.pos -= 32
	}
	return s
}

func (c *channel) renderNoise() float32 {
	c.pos += c.step
	for c.pos >= 1 {
		c.pos--
		c.clockLFSR()
	}
	return c.level
}

func (c *channel) clockLFSR() {
	bit := (c.lfsr ^ (c.lfsr >> 1)) & 1
	if c.voice.Period == 1 {
		c.lfsr = ((c.lfsr >> 1) | (bit << 6)) & 0x7F
	} else {
		c.lfsr = ((c.lfsr >> 1) | (bit << 14)) & 0x7FFF
	}
	if c.lfsr&1 != 0 {
		c.level = 1
	} else {
		c.level = -1
	}
}

// --- internal helpers ---

// resample scales a base rate by the key's distance from middle C.
func resample(key int, base float64) float64 {
	return base * math.Pow(2, float64(key-60)/12)
}

func effectivePan(v *song.Voice, trackPan int) int {
	if v != nil && v.Pan&0x80 != 0 {
		return v.Pan & 0x7F
	}
	return trackPan
}
