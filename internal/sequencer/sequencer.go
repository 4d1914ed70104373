// Package sequencer drives song playback. It decodes track bytecode
// against the driver's tick clock, routes per-track modulation and
// registers, and hands notes to a voice engine for synthesis.
//
// The tick rate follows the tempo: BPM*24/60 ticks per second, 60 at
// the driver's default 150 BPM. Audio frames between ticks render at
// held levels; everything musical happens on the tick.
package sequencer

import (
	"errors"
	"math"

	"github.com/hfmkwi/SapPy/internal/effects"
	"github.com/hfmkwi/SapPy/internal/lfo"
	"github.com/hfmkwi/SapPy/internal/rom"
	"github.com/hfmkwi/SapPy/internal/song"
)

// VoiceEngine is the mixer behind the sequencer. NoteOn takes both
// the sounding key (after drum root substitution) and the played key
// so later end-of-tie commands can find the note again.
type VoiceEngine interface {
	NoteOn(track, priority int, v *song.Voice, key, noteKey, vel, gate int)
	ReleaseTrack(track int)
	ReleaseTies(track, key int)
	UpdateTrack(track, vol, pan int, pitch float64, echo int)
	TickGates()
	TickEnvelopes()
	RenderFrame() (float32, float32)
	EchoTap() (float32, float32)
	// ActiveChannels returns the number of channels still sounding.
	// Playback is finished once every track halted and this hits 0,
	// so release tails ring out before the song ends.
	ActiveChannels() int
	TrackLevel(track int) float64
	Reset()
}

// EventKind identifies playback lifecycle events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventTempo
	EventLoop
	EventTrackHalted
	EventFinished
)

// Event describes a playback lifecycle change.
type Event struct {
	Kind  EventKind
	Tick  int
	Track int   // EventTrackHalted
	BPM   int   // EventTempo
	Loop  int   // EventLoop pass count
	Err   error // halt or stop cause, nil on a clean end
}

// Options configures playback.
type Options struct {
	SampleRate int
	// LoopLimit is how many backward jumps each track may take before
	// its jump is treated as the end of the track. 0 loops forever.
	LoopLimit int
	// Strict stops the whole song on any track decode error instead
	// of halting just the broken track.
	Strict  bool
	Effects *effects.Chain
	Echo    *effects.Echo
	OnEvent func(Event)
}

const (
	defaultBPM = 150

	// A track that executes this many commands without yielding the
	// tick is stuck in a wait-free cycle.
	runawayLimit = 4096
)

var errRunaway = errors.New("track never yields the tick")

// track carries one track's bytecode cursor and mixer registers.
type track struct {
	st   *song.TrackState
	wait int

	halted  bool
	haltErr error

	program   int
	vol       int
	pan       int
	bend      int
	bendRange int
	tune      int
	keyShift  int
	priority  int
	echoVol   int
	loops     int
	mod       lfo.Unit
	modDelta  float64
}

// spawn is a note queued during command execution, started after
// every track has run its share of the tick.
type spawn struct {
	track int
	key   int
	vel   int
	gate  int
}

type Sequencer struct {
	parser *song.Parser
	sng    *song.Song
	engine VoiceEngine
	chain  *effects.Chain
	echo   *effects.Echo

	sampleRate   int
	bpm          int
	ticksPerSamp float64
	tickFrac     float64
	tickInt      int

	tracks  []*track
	pending []spawn

	loopLimit int
	loopCount int
	strict    bool
	finished  bool
	err       error
	onEvent   func(Event)
}

// New prepares a sequencer over a loaded song. The engine is reset
// and every track starts at its entry point with driver defaults.
func New(img *rom.Image, sng *song.Song, engine VoiceEngine, opts Options) *Sequencer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	s := &Sequencer{
		parser:     song.NewParser(img),
		sng:        sng,
		engine:     engine,
		chain:      opts.Effects,
		echo:       opts.Echo,
		sampleRate: opts.SampleRate,
		loopLimit:  opts.LoopLimit,
		strict:     opts.Strict,
		onEvent:    opts.OnEvent,
	}
	s.setBPM(defaultBPM)
	engine.Reset()
	for _, tr := range sng.Tracks {
		t := &track{
			st:        song.NewTrackState(tr.Entry),
			vol:       100,
			pan:       64,
			bend:      64,
			bendRange: 2,
			tune:      64,
			priority:  sng.Meta.Priority,
		}
		t.mod.SetSpeed(22)
		s.tracks = append(s.tracks, t)
	}
	for i := range s.tracks {
		s.pushTrack(i)
	}
	s.emit(Event{Kind: EventStarted})
	return s
}

// Process renders interleaved stereo frames into dst, dispatching
// sequencer ticks as the sample clock crosses them.
func (s *Sequencer) Process(dst []float32) {
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		s.tickFrac += s.ticksPerSamp
		nextTick := int(s.tickFrac)
		for s.tickInt <= nextTick && !s.finished {
			s.dispatchTick()
			s.tickInt++
		}
		if s.finished {
			dst[f*2] = 0
			dst[f*2+1] = 0
			continue
		}
		l, r := s.engine.RenderFrame()
		if s.echo != nil {
			el, er := s.engine.EchoTap()
			l, r = s.echo.Mix(l, r, el, er)
		}
		if s.chain != nil {
			l, r = s.chain.Process(l, r)
		}
		dst[f*2] = clip(l)
		dst[f*2+1] = clip(r)
	}
}

// Finished reports whether playback ended, cleanly or not.
func (s *Sequencer) Finished() bool { return s.finished }

// Err returns the error that stopped playback early, if any.
func (s *Sequencer) Err() error { return s.err }

// Position returns the current tick.
func (s *Sequencer) Position() int { return s.tickInt }

// BPM returns the current tempo.
func (s *Sequencer) BPM() int { return s.bpm }

// LoopCount returns how many times the song has jumped back.
func (s *Sequencer) LoopCount() int { return s.loopCount }

// TrackStatus is a display snapshot of one track.
type TrackStatus struct {
	Halted  bool
	Program int
	Voice   string
	Volume  int
	Pan     int
	Wait    int
	Level   float64
}

// TrackStates snapshots every track for display.
func (s *Sequencer) TrackStates() []TrackStatus {
	out := make([]TrackStatus, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = TrackStatus{
			Halted:  t.halted,
			Program: t.program,
			Voice:   s.voiceLabel(t.program),
			Volume:  t.vol,
			Pan:     t.pan,
			Wait:    t.wait,
			Level:   s.engine.TrackLevel(i),
		}
	}
	return out
}

// voiceLabel names a program's voice type, resolving drumkits and
// splits at middle C. Unresolvable programs show as "---".
func (s *Sequencer) voiceLabel(program int) string {
	v, _, err := s.sng.Voices.Resolve(program, 60)
	if err != nil {
		return song.VoiceMode(0).String()
	}
	return v.Mode.String()
}

// --- tick dispatch ---

// dispatchTick runs one driver tick: modulation, gate countdown,
// bytecode, queued note starts, then envelopes.
func (s *Sequencer) dispatchTick() {
	for i, t := range s.tracks {
		if t.halted {
			continue
		}
		if t.mod.Active() {
			t.modDelta = t.mod.Tick()
		} else {
			t.modDelta = 0
		}
		s.pushTrack(i)
	}

	s.engine.TickGates()

	for i := range s.tracks {
		s.execTrack(i)
		if s.err != nil {
			return
		}
	}

	s.spawnPending()
	s.engine.TickEnvelopes()

	if s.allHalted() && s.engine.ActiveChannels() == 0 {
		s.finish(nil)
	}
}

// execTrack burns one wait tick, then runs commands until the track
// waits again, ends or fails.
func (s *Sequencer) execTrack(i int) {
	t := s.tracks[i]
	if t.halted {
		return
	}
	if t.wait > 0 {
		t.wait--
	}
	for n := 0; t.wait == 0 && !t.halted; n++ {
		if n >= runawayLimit {
			s.haltTrack(i, errRunaway)
			return
		}
		ev, err := s.parser.Next(t.st)
		if err != nil {
			switch {
			case errors.Is(err, song.ErrCallOverflow) || errors.Is(err, song.ErrCallUnderflow):
				s.fail(err)
			case s.strict:
				s.fail(err)
			default:
				s.haltTrack(i, err)
			}
			return
		}
		s.applyEvent(i, ev)
	}
}

func (s *Sequencer) applyEvent(i int, ev song.Event) {
	t := s.tracks[i]
	switch ev.Type {
	case song.EventWait:
		t.wait = ev.Ticks
	case song.EventFine:
		s.haltTrack(i, nil)
	case song.EventGoto:
		// the cursor already jumped; notes ringing at the seam go to
		// release, ties included, then the pass counts against the
		// loop allowance
		s.engine.ReleaseTrack(i)
		t.loops++
		if s.loopLimit > 0 && t.loops > s.loopLimit {
			s.haltTrack(i, nil)
			return
		}
		if t.loops > s.loopCount {
			s.loopCount = t.loops
			s.emit(Event{Kind: EventLoop, Tick: s.tickInt, Loop: s.loopCount})
		}
	case song.EventCall, song.EventReturn, song.EventRepeat, song.EventMemAcc:
		// flow already handled by the cursor
	case song.EventPriority:
		t.priority = ev.Value
	case song.EventTempo:
		s.setBPM(ev.Value)
		s.emit(Event{Kind: EventTempo, Tick: s.tickInt, BPM: ev.Value})
	case song.EventKeyShift:
		t.keyShift = ev.Value
	case song.EventVoice:
		t.program = ev.Value
	case song.EventVolume:
		t.vol = ev.Value
		s.pushTrack(i)
	case song.EventPan:
		t.pan = ev.Value
		s.pushTrack(i)
	case song.EventBend:
		t.bend = ev.Value
		s.pushTrack(i)
	case song.EventBendRange:
		t.bendRange = ev.Value
		s.pushTrack(i)
	case song.EventLFOSpeed:
		t.mod.SetSpeed(ev.Value)
	case song.EventLFODelay:
		t.mod.SetDelay(ev.Value)
	case song.EventMod:
		t.mod.SetDepth(ev.Value)
	case song.EventModType:
		t.mod.SetType(ev.Value)
	case song.EventTune:
		t.tune = ev.Value
		s.pushTrack(i)
	case song.EventXCmd:
		s.applyXCmd(i, ev)
	case song.EventEndOfTie:
		key := ev.Key
		if key >= 0 {
			key = shiftKey(t, key)
		}
		s.engine.ReleaseTies(i, key)
	case song.EventTie:
		s.pending = append(s.pending, spawn{track: i, key: ev.Key, vel: ev.Vel, gate: -1})
	case song.EventNote:
		s.pending = append(s.pending, spawn{track: i, key: ev.Key, vel: ev.Vel, gate: ev.Ticks})
	}
}

const (
	xcmdEchoVolume = 0x08
	xcmdEchoLength = 0x09
)

func (s *Sequencer) applyXCmd(i int, ev song.Event) {
	t := s.tracks[i]
	switch ev.Ext {
	case xcmdEchoVolume:
		t.echoVol = ev.Value
		s.pushTrack(i)
	case xcmdEchoLength:
		if s.echo != nil {
			s.echo.SetLength(ev.Value * s.framesPerTick())
		}
	}
}

// spawnPending resolves and starts the notes queued this tick.
func (s *Sequencer) spawnPending() {
	for _, sp := range s.pending {
		t := s.tracks[sp.track]
		if t.halted {
			continue
		}
		key := shiftKey(t, sp.key)
		v, sound, err := s.sng.Voices.Resolve(t.program, key)
		if err != nil {
			if s.strict {
				s.fail(err)
				break
			}
			s.haltTrack(sp.track, err)
			continue
		}
		t.mod.Retrigger()
		s.engine.NoteOn(sp.track, t.priority, v, sound, key, sp.vel, sp.gate)
	}
	s.pending = s.pending[:0]
}

// pushTrack sends the track's effective registers to the engine,
// with the tick's modulation folded in.
func (s *Sequencer) pushTrack(i int) {
	t := s.tracks[i]
	vol, pan := t.vol, t.pan
	vib := 0.0
	switch {
	case !t.mod.Active():
	case t.mod.Type() == lfo.Tremolo:
		vol = clamp7(vol + int(math.Round(t.modDelta)))
	case t.mod.Type() == lfo.AutoPan:
		pan = clamp7(pan + int(math.Round(t.modDelta)))
	default:
		vib = t.modDelta
	}
	semis := (float64(t.bend-64)+vib)/64*float64(t.bendRange) +
		float64(t.tune-64)/64
	s.engine.UpdateTrack(i, vol, pan, semis, t.echoVol)
}

func (s *Sequencer) haltTrack(i int, err error) {
	t := s.tracks[i]
	if t.halted {
		return
	}
	t.halted = true
	t.haltErr = err
	s.engine.ReleaseTrack(i)
	if err != nil {
		s.emit(Event{Kind: EventTrackHalted, Tick: s.tickInt, Track: i, Err: err})
	}
}

// fail stops the whole song. Pattern stack corruption and strict-mode
// decode errors land here.
func (s *Sequencer) fail(err error) {
	if s.err != nil {
		return
	}
	s.err = err
	for _, t := range s.tracks {
		t.halted = true
	}
	s.engine.Reset()
	s.finish(err)
}

func (s *Sequencer) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.emit(Event{Kind: EventFinished, Tick: s.tickInt, Err: err})
}

// --- internal helpers ---

func (s *Sequencer) setBPM(bpm int) {
	if bpm <= 0 {
		bpm = defaultBPM
	}
	s.bpm = bpm
	tps := float64(bpm) * 24 / 60
	s.ticksPerSamp = tps / float64(s.sampleRate)
}

func (s *Sequencer) framesPerTick() int {
	tps := float64(s.bpm) * 24 / 60
	return int(float64(s.sampleRate) / tps)
}

func (s *Sequencer) allHalted() bool {
	for _, t := range s.tracks {
		if !t.halted {
			return false
		}
	}
	return true
}

func (s *Sequencer) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func shiftKey(t *track, key int) int {
	key += t.keyShift
	if key < 0 {
		return 0
	}
	if key > 127 {
		return 127
	}
	return key
}

func clamp7(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}

func clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
