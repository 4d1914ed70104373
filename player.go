package sappy

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	intaudio "github.com/hfmkwi/SapPy/internal/audio"
	intfx "github.com/hfmkwi/SapPy/internal/effects"
	introm "github.com/hfmkwi/SapPy/internal/rom"
	intseq "github.com/hfmkwi/SapPy/internal/sequencer"
	intsong "github.com/hfmkwi/SapPy/internal/song"
	intsynth "github.com/hfmkwi/SapPy/internal/synth"
)

// ErrNotLoaded is returned by operations that need a ROM image before
// Load or LoadFile has succeeded.
var ErrNotLoaded = errors.New("no ROM image loaded")

// PlaybackEvent carries playback state changes from Watch().
type PlaybackEvent struct {
	Kind  int
	Tick  int
	Track int   // EventTrackHalted
	BPM   int   // EventTempo
	Loop  int   // EventLoop pass count
	Err   error // halt or stop cause, nil on a clean end
}

const (
	EventStarted int = iota
	EventTempo
	EventLoop
	EventTrackHalted
	EventFinished
)

type PlayerOption func(*Params)

// Params configures a Player. The zero value is not useful; start from
// DefaultParams (NewPlayer does) and override with options.
type Params struct {
	SampleRate   int
	MasterVolume float64
	// LoopLimit is how many backward jumps each track may take before
	// playback treats the jump as the end of the song. 0 loops forever.
	LoopLimit int
	// SongTable overrides table discovery. Accepts a GBA bus address
	// (0x08xxxxxx) or a plain image offset. 0 scans the ROM.
	SongTable uint32
	// Reverb forces the reverb depth (0..127). -1 takes the depth
	// from the song header or the engine setup call in the ROM.
	Reverb int
	// DACCrush quantizes the output to the PWM DAC resolution the
	// game configured, for the authentic hiss.
	DACCrush bool
	// Strict stops the whole song on any track decode error instead
	// of halting just the broken track.
	Strict bool

	sampleTap func([]float32)
}

func DefaultParams() Params {
	return Params{
		SampleRate:   44100,
		MasterVolume: 1,
		Reverb:       -1,
	}
}

func WithSampleRate(hz int) PlayerOption {
	return func(p *Params) {
		p.SampleRate = hz
	}
}

func WithMasterVolume(volume float64) PlayerOption {
	return func(p *Params) {
		p.MasterVolume = volume
	}
}

func WithLoopLimit(n int) PlayerOption {
	return func(p *Params) {
		p.LoopLimit = n
	}
}

// WithSongTable pins the song table instead of scanning for it. The
// address may be a GBA bus address (0x08xxxxxx) or an image offset.
func WithSongTable(addr uint32) PlayerOption {
	return func(p *Params) {
		p.SongTable = addr
	}
}

func WithReverb(depth int) PlayerOption {
	return func(p *Params) {
		p.Reverb = depth
	}
}

func WithDACCrush(enabled bool) PlayerOption {
	return func(p *Params) {
		p.DACCrush = enabled
	}
}

func WithStrictDecoding(enabled bool) PlayerOption {
	return func(p *Params) {
		p.Strict = enabled
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(p *Params) {
		p.sampleTap = tap
	}
}

type Player struct {
	mu     sync.Mutex
	params Params

	img   *introm.Image
	table int
	songs int
	mode  introm.DriverMode

	master   *intfx.Master
	baseGain float64
	volume   float64

	audio *intaudio.Player
	done  chan struct{}

	seqMu sync.Mutex
	seq   *intseq.Sequencer

	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

// eventWrapper pairs a sequencer with the lock the UI thread shares and
// implements the audio Source so the backend can pull frames directly.
type eventWrapper struct {
	seq       *intseq.Sequencer
	seqMu     *sync.Mutex
	finished  atomic.Bool
	sampleTap func([]float32)
}

func (w *eventWrapper) Process(dst []float32) {
	w.seqMu.Lock()
	w.seq.Process(dst)
	w.seqMu.Unlock()
	if w.sampleTap != nil {
		w.sampleTap(dst)
	}
}

func (w *eventWrapper) Finished() bool {
	return w.finished.Load()
}

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	params := DefaultParams()
	for _, opt := range opts {
		opt(&params)
	}
	if params.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	volume := params.MasterVolume
	if volume < 0 {
		volume = 0
	}
	return &Player{
		params:   params,
		master:   intfx.NewMaster(volume),
		baseGain: 1,
		volume:   volume,
	}, nil
}

func (p *Player) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return p.Load(data)
}

// Load validates the image, locates the song table and reads the
// engine setup the game flashed into it. Must succeed before Play,
// Info or Render.
func (p *Player) Load(data []byte) error {
	img, err := introm.New(data)
	if err != nil {
		return err
	}
	var table int
	if p.params.SongTable != 0 {
		table, err = resolveTable(img, p.params.SongTable)
	} else {
		table, err = img.FindSongTable()
	}
	if err != nil {
		return err
	}
	mode := img.FindDriverMode()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.img = img
	p.table = table
	p.songs = intsong.CountSongs(img, table)
	p.mode = mode
	p.baseGain = float64(mode.Volume) / 255
	p.master.SetGain(p.baseGain * p.volume)
	return nil
}

// resolveTable accepts either a GBA bus address or an image offset.
func resolveTable(img *introm.Image, addr uint32) (int, error) {
	if addr >= 0x08000000 {
		return img.Offset(addr)
	}
	if int(addr) >= img.Size() {
		return 0, fmt.Errorf("%w: song table offset 0x%X", introm.ErrOutOfRange, addr)
	}
	return int(addr), nil
}

// Songs returns how many entries the song table holds.
func (p *Player) Songs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.songs
}

// Info loads the header of one song without starting playback.
func (p *Player) Info(song int) (intsong.Meta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img == nil {
		return intsong.Meta{}, ErrNotLoaded
	}
	sng, err := intsong.LoadSong(p.img, p.table, song)
	if err != nil {
		return intsong.Meta{}, err
	}
	return sng.Meta, nil
}

// Mode returns the engine setup discovered at Load.
func (p *Player) Mode() introm.DriverMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *Player) Play(song int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img == nil {
		return ErrNotLoaded
	}
	sng, err := intsong.LoadSong(p.img, p.table, song)
	if err != nil {
		return err
	}

	// Signal any existing Wait() that the previous playback was replaced
	if p.done != nil {
		close(p.done)
	}
	p.done = make(chan struct{})

	wrapper := &eventWrapper{seqMu: &p.seqMu, sampleTap: p.params.sampleTap}
	seq := p.buildSequencer(sng, p.params.LoopLimit, func(ev intseq.Event) {
		if ev.Kind == intseq.EventFinished {
			wrapper.finished.Store(true)
		}
		p.sendEvent(PlaybackEvent{
			Kind:  int(ev.Kind),
			Tick:  ev.Tick,
			Track: ev.Track,
			BPM:   ev.BPM,
			Loop:  ev.Loop,
			Err:   ev.Err,
		})
		if ev.Kind == intseq.EventFinished {
			p.signalDone()
		}
	})
	wrapper.seq = seq
	p.seqMu.Lock()
	p.seq = seq
	p.seqMu.Unlock()

	backend, err := intaudio.NewPlayer(p.params.SampleRate, wrapper)
	if err != nil {
		return err
	}
	if p.audio != nil {
		_ = p.audio.Stop()
	}
	p.audio = backend
	p.audio.Play()
	return nil
}

// buildSequencer assembles a fresh synth, effect chain and echo bus for
// one song. Rebuilt on every Play so no channel or envelope state leaks
// between songs.
func (p *Player) buildSequencer(sng *intsong.Song, loopLimit int, onEvent func(intseq.Event)) *intseq.Sequencer {
	rate := p.params.SampleRate
	chain := intfx.NewChain()
	if depth := p.reverbDepth(sng); depth > 0 {
		chain.Add(intfx.NewReverb(rate, depth))
	}
	chain.Add(p.master)
	// The DAC sits after every software stage, volume included.
	if p.params.DACCrush {
		chain.Add(intfx.NewCrush(sng.Mode.DACBits))
	}
	return intseq.New(p.img, sng, intsynth.New(rate), intseq.Options{
		SampleRate: rate,
		LoopLimit:  loopLimit,
		Strict:     p.params.Strict,
		Effects:    chain,
		// Long enough for the longest delay a track can ask for at
		// ordinary tempos.
		Echo:    intfx.NewEcho(5 * rate),
		OnEvent: onEvent,
	})
}

// reverbDepth picks the effective depth: a forced override first, then
// the song header when its high bit claims one, then the engine setup.
func (p *Player) reverbDepth(sng *intsong.Song) int {
	depth := -1
	switch {
	case p.params.Reverb >= 0:
		depth = p.params.Reverb
	case sng.Meta.EchoEnabled():
		depth = sng.Meta.ReverbDepth()
	case sng.Mode.ReverbOn:
		depth = sng.Mode.Reverb
	}
	if depth > 127 {
		depth = 127
	}
	return depth
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full or closed; drop event
		}
	}
}

func (p *Player) signalDone() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

func (p *Player) Stop() error {
	p.mu.Lock()
	if p.audio == nil {
		p.mu.Unlock()
		return nil
	}
	err := p.audio.Stop()
	p.audio = nil
	done := p.done
	p.done = nil
	p.mu.Unlock()
	p.sendEvent(PlaybackEvent{Kind: EventFinished})
	if done != nil {
		close(done)
	}
	return err
}

// Wait blocks until the current playback ends. With no loop limit most
// songs loop forever, so Wait blocks indefinitely (use Watch instead).
// Wait returns immediately if no playback is active or if it was stopped.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel that receives playback events. Events are sent when:
//   - EventStarted: playback of a song began
//   - EventTempo: the song changed its tempo (BPM set)
//   - EventLoop: a track jumped back past its loop point (Loop set)
//   - EventTrackHalted: one track stopped on a decode error (Track, Err set)
//   - EventFinished: playback finished (Err set if it failed)
//
// The channel is buffered (cap 8); receive in a goroutine to avoid blocking
// the sequencer. Only the most recent Watch() channel receives events; call
// Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// SetMasterVolume sets the runtime volume scalar. 1.0 is the level the
// game configured. Takes effect immediately on the audio thread.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	p.master.SetGain(p.baseGain * p.volume)
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position returns the current song position in ticks.
func (p *Player) Position() int {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	if p.seq == nil {
		return 0
	}
	return p.seq.Position()
}

// BPM returns the current tempo.
func (p *Player) BPM() int {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	if p.seq == nil {
		return 0
	}
	return p.seq.BPM()
}

// TrackStates snapshots every track of the playing song for display.
func (p *Player) TrackStates() []intseq.TrackStatus {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	if p.seq == nil {
		return nil
	}
	return p.seq.TrackStates()
}
