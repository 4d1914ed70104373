// Package synth implements the 32-channel software mixer behind the
// music player. Channels are allocated per note, carry the driver's
// integer ADSR envelope, and render DirectSound PCM alongside the four
// procedural PSG generators. Envelope and gate movement happens only
// on sequencer ticks; RenderFrame advances the generators one output
// frame at a time.
package synth

import (
	"math"

	"github.com/hfmkwi/SapPy/internal/song"
)

const (
	// NumChannels is the mixer's fixed polyphony.
	NumChannels = 32

	maxTracks = 16
)

// trackRegs mirrors the registers a track pushes down so channels
// spawned later pick up the current values.
type trackRegs struct {
	vol   int
	pan   int
	pitch float64
	echo  int
}

// Engine is the mixing engine. It implements sequencer.VoiceEngine.
type Engine struct {
	sampleRate float64
	channels   [NumChannels]channel
	tracks     [maxTracks]trackRegs
	psg        [4]*channel // exclusive owner per PSG generator
	age        uint64

	echoL, echoR float32
}

// New creates an engine rendering at the given output rate.
func New(sampleRate int) *Engine {
	e := &Engine{sampleRate: float64(sampleRate)}
	for i := range e.tracks {
		e.tracks[i] = trackRegs{vol: 100, pan: 64}
	}
	return e
}

// Reset silences and frees every channel.
func (e *Engine) Reset() {
	for i := range e.channels {
		e.channels[i] = channel{}
	}
	for i := range e.psg {
		e.psg[i] = nil
	}
	for i := range e.tracks {
		e.tracks[i] = trackRegs{vol: 100, pan: 64}
	}
	e.age = 0
	e.echoL, e.echoR = 0, 0
}

// NoteOn starts a note. key is the sounding key after any drum root
// substitution, noteKey the played key an end-of-tie matches against.
// A gate of -1 holds the note until released; a zero gate never sounds.
func (e *Engine) NoteOn(track, priority int, v *song.Voice, key, noteKey, vel, gate int) {
	if v == nil || gate == 0 || track < 0 || track >= maxTracks {
		return
	}
	if v.Mode != song.VoiceDirectSound {
		e.killPSG(v.Mode)
	}
	c := e.alloc()
	e.free(c)
	e.age++
	regs := &e.tracks[track]
	*c = channel{
		active:   true,
		stage:    envAttack,
		voice:    v,
		key:      key,
		noteKey:  noteKey,
		vel:      vel,
		track:    track,
		priority: priority,
		age:      e.age,
		gate:     gate,
		trackVol: regs.vol,
		pan:      effectivePan(v, regs.pan),
		pitch:    regs.pitch,
		echoSend: regs.echo,
		lfsr:     1,
		level:    1,
	}
	if v.Mode != song.VoiceDirectSound {
		e.psg[psgIndex(v.Mode)] = c
	}
	c.updateStep(e.sampleRate)
	e.refreshGains(c)
}

// ReleaseTrack moves every channel owned by the track into release.
func (e *Engine) ReleaseTrack(track int) {
	for i := range e.channels {
		c := &e.channels[i]
		if c.active && c.track == track && c.stage != envRelease {
			c.stage = envRelease
			c.gate = 0
		}
	}
}

// ReleaseTies releases the track's tied channels. A negative key
// releases all of them, otherwise only ties started on that key.
func (e *Engine) ReleaseTies(track, key int) {
	for i := range e.channels {
		c := &e.channels[i]
		if !c.active || c.track != track || c.gate != -1 {
			continue
		}
		if key >= 0 && c.noteKey != key {
			continue
		}
		c.stage = envRelease
		c.gate = 0
	}
}

// UpdateTrack pushes the track's live registers down to its channels,
// so volume, pan, pitch and echo changes land mid-note.
func (e *Engine) UpdateTrack(track, vol, pan int, pitch float64, echo int) {
	if track < 0 || track >= maxTracks {
		return
	}
	e.tracks[track] = trackRegs{vol: vol, pan: pan, pitch: pitch, echo: echo}
	for i := range e.channels {
		c := &e.channels[i]
		if !c.active || c.track != track {
			continue
		}
		c.trackVol = vol
		c.pan = effectivePan(c.voice, pan)
		c.pitch = pitch
		c.echoSend = echo
		c.updateStep(e.sampleRate)
		e.refreshGains(c)
	}
}

// TickGates counts down note gates and releases expired ones. Tied
// channels have no gate and are skipped.
func (e *Engine) TickGates() {
	for i := range e.channels {
		c := &e.channels[i]
		if !c.active || c.gate < 0 {
			continue
		}
		if c.gate > 0 {
			c.gate--
		}
		if c.gate == 0 && c.stage != envRelease {
			c.stage = envRelease
		}
	}
}

// TickEnvelopes advances every envelope one tick and frees channels
// whose release reached zero.
func (e *Engine) TickEnvelopes() {
	for i := range e.channels {
		c := &e.channels[i]
		if !c.active {
			continue
		}
		v := c.voice
		switch c.stage {
		case envAttack:
			c.env += v.Attack
			if c.env >= 255 {
				c.env = 255
				c.stage = envDecay
			}
		case envDecay:
			c.env = c.env * v.Decay / 256
			if c.env <= v.Sustain {
				c.env = v.Sustain
				c.stage = envSustain
			}
		case envRelease:
			c.env = c.env * v.Release / 256
			if c.env <= 0 {
				e.free(c)
				continue
			}
		}
		e.refreshGains(c)
	}
}

// RenderFrame mixes one stereo frame across all active channels and
// captures the frame's pseudo-echo send.
func (e *Engine) RenderFrame() (float32, float32) {
	var l, r float32
	var el, er float32
	for i := range e.channels {
		c := &e.channels[i]
		if !c.active {
			continue
		}
		s := c.render()
		cl := s * c.gainL
		cr := s * c.gainR
		l += cl
		r += cr
		if c.echoSend > 0 {
			g := float32(c.echoSend) / 127
			el += cl * g
			er += cr * g
		}
	}
	e.echoL, e.echoR = el, er
	return l, r
}

// EchoTap returns the pseudo-echo send captured by the last
// RenderFrame.
func (e *Engine) EchoTap() (float32, float32) {
	return e.echoL, e.echoR
}

// ActiveChannels reports how many channels are sounding.
func (e *Engine) ActiveChannels() int {
	n := 0
	for i := range e.channels {
		if e.channels[i].active {
			n++
		}
	}
	return n
}

// TrackLevel returns the loudest channel gain owned by the track,
// for level meters.
func (e *Engine) TrackLevel(track int) float64 {
	var lv float64
	for i := range e.channels {
		c := &e.channels[i]
		if !c.active || c.track != track {
			continue
		}
		if g := e.channelGain(c); g > lv {
			lv = g
		}
	}
	return lv
}

// --- internal helpers ---

// alloc picks the channel for a new note: the highest free slot, then
// the releasing channel closest to silence, then the lowest-priority
// oldest one.
func (e *Engine) alloc() *channel {
	for i := NumChannels - 1; i >= 0; i-- {
		if !e.channels[i].active {
			return &e.channels[i]
		}
	}
	var best *channel
	for i := range e.channels {
		c := &e.channels[i]
		if c.stage != envRelease {
			continue
		}
		if best == nil || c.env < best.env {
			best = c
		}
	}
	if best != nil {
		return best
	}
	for i := range e.channels {
		c := &e.channels[i]
		if best == nil || c.priority < best.priority ||
			(c.priority == best.priority && c.age < best.age) {
			best = c
		}
	}
	return best
}

// free returns a channel to the pool and drops any PSG claim it held.
func (e *Engine) free(c *channel) {
	if c.voice != nil && c.voice.Mode != song.VoiceDirectSound {
		if i := psgIndex(c.voice.Mode); i >= 0 && e.psg[i] == c {
			e.psg[i] = nil
		}
	}
	c.active = false
	c.stage = envIdle
	c.voice = nil
}

// killPSG hard-stops the current owner of a PSG generator. The
// hardware has one of each, so a new note silences the old
// immediately with no release tail.
func (e *Engine) killPSG(mode song.VoiceMode) {
	i := psgIndex(mode)
	if i < 0 {
		return
	}
	if prev := e.psg[i]; prev != nil && prev.active {
		e.free(prev)
	}
	e.psg[i] = nil
}

func psgIndex(mode song.VoiceMode) int {
	switch mode {
	case song.VoiceSquare1:
		return 0
	case song.VoiceSquare2:
		return 1
	case song.VoiceWave:
		return 2
	case song.VoiceNoise:
		return 3
	}
	return -1
}

// channelGain combines velocity, track volume and envelope. PSG
// channels quantize the combined level to the hardware's 16 steps.
func (e *Engine) channelGain(c *channel) float64 {
	v := float64(c.vel) / 127 * float64(c.trackVol) / 127 * float64(c.env) / 255
	if c.voice.Mode != song.VoiceDirectSound {
		v = 15 * math.Round(v*255/15) / 255
	}
	return v
}

func (e *Engine) refreshGains(c *channel) {
	g := e.channelGain(c)
	angle := float64(c.pan) / 127 * (math.Pi / 2)
	c.gainL = float32(g * math.Cos(angle))
	c.gainR = float32(g * math.Sin(angle))
}
