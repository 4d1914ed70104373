package sequencer

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hfmkwi/SapPy/internal/effects"
	"github.com/hfmkwi/SapPy/internal/rom"
	"github.com/hfmkwi/SapPy/internal/song"
)

// testRate keeps the math small: 60 ticks/s at 150 BPM means exactly
// 100 frames per tick.
const testRate = 6000

const (
	tableOff  = 0x100
	headerOff = 0x180
	voiceOff  = 0x400
	drumOff   = 0x500
	sampleOff = 0x600
	trackOff  = 0x800
)

func gbaPtr(off int) uint32 { return 0x08000000 + uint32(off) }

func putU32(data []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(data[off:], v)
}

// buildSong assembles a playable image: song table, header, a
// DirectSound program 0, a drumkit program 1 whose key 60 leaf is
// rooted at 50, and the given track bytecode.
func buildSong(t testing.TB, tracks ...[]byte) (*rom.Image, *song.Song) {
	t.Helper()
	data := make([]byte, 0x2000)
	copy(data[0xA0:], "SEQTEST")
	copy(data[0xAC:], "AXYE")
	data[0xB2] = 0x96

	putU32(data, tableOff, gbaPtr(headerOff))

	data[headerOff] = byte(len(tracks))
	data[headerOff+2] = 5 // priority
	putU32(data, headerOff+4, gbaPtr(voiceOff))
	for i, track := range tracks {
		putU32(data, headerOff+8+i*4, gbaPtr(trackOff+i*0x100))
		copy(data[trackOff+i*0x100:], track)
	}

	data[voiceOff] = 0x00
	data[voiceOff+1] = 60
	putU32(data, voiceOff+4, gbaPtr(sampleOff))
	data[voiceOff+8] = 255
	data[voiceOff+9] = 255
	data[voiceOff+10] = 255

	data[voiceOff+12] = 0x80
	putU32(data, voiceOff+16, gbaPtr(drumOff))
	leaf := drumOff + 60*12
	data[leaf] = 0x00
	data[leaf+1] = 50
	putU32(data, leaf+4, gbaPtr(sampleOff))
	data[leaf+8] = 255
	data[leaf+9] = 255
	data[leaf+10] = 255

	putU32(data, sampleOff+4, testRate<<10)
	putU32(data, sampleOff+12, 4)
	copy(data[sampleOff+16:], []byte{0x40, 0x40, 0x40, 0x40})

	img, err := rom.New(data)
	if err != nil {
		t.Fatalf("rom.New: %v", err)
	}
	sng, err := song.LoadSong(img, tableOff, 0)
	if err != nil {
		t.Fatalf("LoadSong: %v", err)
	}
	return img, sng
}

func ptrBytes(off int) []byte {
	b := make([]byte, 4)
	putU32(b, 0, gbaPtr(off))
	return b
}

type noteOn struct {
	track, priority, key, noteKey, vel, gate int
	mode                                     song.VoiceMode
}

type countingEngine struct {
	notes     []noteOn
	releases  []int
	ties      [][2]int
	lastVol   [16]int
	lastPan   [16]int
	lastEcho  [16]int
	pitches   []float64
	envTicks  int
	resets    int
	active    int
}

func (e *countingEngine) NoteOn(track, priority int, v *song.Voice, key, noteKey, vel, gate int) {
	e.notes = append(e.notes, noteOn{track, priority, key, noteKey, vel, gate, v.Mode})
}
func (e *countingEngine) ReleaseTrack(track int) { e.releases = append(e.releases, track) }
func (e *countingEngine) ReleaseTies(track, key int) {
	e.ties = append(e.ties, [2]int{track, key})
}
func (e *countingEngine) UpdateTrack(track, vol, pan int, pitch float64, echo int) {
	e.lastVol[track] = vol
	e.lastPan[track] = pan
	e.lastEcho[track] = echo
	e.pitches = append(e.pitches, pitch)
}
func (e *countingEngine) TickGates()                      {}
func (e *countingEngine) TickEnvelopes()                  { e.envTicks++ }
func (e *countingEngine) RenderFrame() (float32, float32) { return 0.25, 0.25 }
func (e *countingEngine) EchoTap() (float32, float32)     { return 0, 0 }
func (e *countingEngine) ActiveChannels() int             { return e.active }
func (e *countingEngine) TrackLevel(track int) float64    { return 0 }
func (e *countingEngine) Reset()                          { e.resets++ }

func process(s *Sequencer, frames int) {
	s.Process(make([]float32, frames*2))
}

func TestWaitsScheduleExactTicks(t *testing.T) {
	img, sng := buildSong(t, []byte{0x82, 0x82, 0x82, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	// three 2-tick waits, so the fine lands on tick 6
	process(s, 599)
	if s.Finished() {
		t.Fatal("finished before the fine command")
	}
	process(s, 1)
	if !s.Finished() {
		t.Fatal("not finished at the fine command")
	}
	if s.Err() != nil {
		t.Fatalf("clean end reported error %v", s.Err())
	}
	if len(eng.releases) != 1 || eng.releases[0] != 0 {
		t.Fatalf("releases = %v, want [0]", eng.releases)
	}
	if eng.envTicks != 7 {
		t.Fatalf("envelope ticks = %d, want 7", eng.envTicks)
	}
}

func TestNoteSpawnCarriesArguments(t *testing.T) {
	img, sng := buildSong(t, []byte{0xBA, 9, 0xE7, 60, 100, 0x81, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})
	process(s, 300)

	if len(eng.notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(eng.notes))
	}
	got := eng.notes[0]
	want := noteOn{track: 0, priority: 9, key: 60, noteKey: 60, vel: 100, gate: 24, mode: song.VoiceDirectSound}
	if got != want {
		t.Fatalf("note = %+v, want %+v", got, want)
	}
}

func TestDrumNoteSoundsAtLeafRoot(t *testing.T) {
	img, sng := buildSong(t, []byte{0xBD, 1, 0xE7, 60, 100, 0x81, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})
	process(s, 300)

	if len(eng.notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(eng.notes))
	}
	if eng.notes[0].key != 50 || eng.notes[0].noteKey != 60 {
		t.Fatalf("drum note key = %d/%d, want 50/60", eng.notes[0].key, eng.notes[0].noteKey)
	}
}

func TestKeyShiftMovesNotesAndTies(t *testing.T) {
	img, sng := buildSong(t, []byte{0xBC, 12, 0xCF, 60, 100, 0x82, 0xCE, 60, 0x81, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})
	process(s, 600)

	if len(eng.notes) != 1 || eng.notes[0].noteKey != 72 {
		t.Fatalf("shifted tie = %+v, want played key 72", eng.notes)
	}
	if eng.notes[0].gate != -1 {
		t.Fatalf("tie gate = %d, want -1", eng.notes[0].gate)
	}
	if len(eng.ties) != 1 || eng.ties[0] != [2]int{0, 72} {
		t.Fatalf("tie release = %v, want [[0 72]]", eng.ties)
	}
}

func TestVolumeAndPanPushLive(t *testing.T) {
	img, sng := buildSong(t, []byte{0xBE, 80, 0xBF, 32, 0x82, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	// driver defaults pushed at start
	if eng.lastVol[0] != 100 || eng.lastPan[0] != 64 {
		t.Fatalf("initial registers = %d/%d, want 100/64", eng.lastVol[0], eng.lastPan[0])
	}
	process(s, 100)
	if eng.lastVol[0] != 80 || eng.lastPan[0] != 32 {
		t.Fatalf("registers = %d/%d, want 80/32", eng.lastVol[0], eng.lastPan[0])
	}
}

func TestTempoRescalesTickClock(t *testing.T) {
	// raw tempo 30 means 60 BPM: 24 ticks/s, 250 frames per tick
	img, sng := buildSong(t, []byte{0xBB, 30, 0x98, 0xB1})
	eng := &countingEngine{}
	var tempos []int
	s := New(img, sng, eng, Options{
		SampleRate: testRate,
		OnEvent: func(ev Event) {
			if ev.Kind == EventTempo {
				tempos = append(tempos, ev.BPM)
			}
		},
	})

	process(s, 5000)
	if s.Finished() {
		t.Fatal("24 ticks at 60 BPM finished too early")
	}
	process(s, 1700)
	if !s.Finished() {
		t.Fatal("not finished after the slowed wait")
	}
	if len(tempos) != 1 || tempos[0] != 60 {
		t.Fatalf("tempo events = %v, want [60]", tempos)
	}
	if s.BPM() != 60 {
		t.Fatalf("BPM = %d, want 60", s.BPM())
	}
}

func TestGotoLoopsUntilLimit(t *testing.T) {
	loop := append([]byte{0x82, 0xB2}, ptrBytes(trackOff)...)
	img, sng := buildSong(t, loop)
	eng := &countingEngine{}
	var loops []int
	s := New(img, sng, eng, Options{
		SampleRate: testRate,
		LoopLimit:  2,
		OnEvent: func(ev Event) {
			if ev.Kind == EventLoop {
				loops = append(loops, ev.Loop)
			}
		},
	})

	process(s, 700)
	if !s.Finished() {
		t.Fatal("loop limit did not end the song")
	}
	if len(loops) != 2 || loops[0] != 1 || loops[1] != 2 {
		t.Fatalf("loop events = %v, want [1 2]", loops)
	}
	if s.LoopCount() != 2 {
		t.Fatalf("LoopCount = %d, want 2", s.LoopCount())
	}
}

func TestGotoLoopsForeverWithoutLimit(t *testing.T) {
	loop := append([]byte{0x82, 0xB2}, ptrBytes(trackOff)...)
	img, sng := buildSong(t, loop)
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	process(s, 1500)
	if s.Finished() {
		t.Fatal("unlimited loop ended")
	}
	if s.LoopCount() < 6 {
		t.Fatalf("LoopCount = %d, want at least 6", s.LoopCount())
	}
}

func TestVibratoSwingsThroughBendRange(t *testing.T) {
	// depth 64 at speed 48: a four-tick sine through ±64, scaled by
	// the default bend range of 2 semitones
	img, sng := buildSong(t, []byte{0xC4, 64, 0xC2, 48, 0xE7, 60, 100, 0x98, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})
	process(s, 2600)

	var minP, maxP float64
	for _, p := range eng.pitches {
		if p < minP {
			minP = p
		}
		if p > maxP {
			maxP = p
		}
	}
	if maxP < 1.99 || minP > -1.99 {
		t.Fatalf("vibrato swing [%v, %v], want about ±2 semitones", minP, maxP)
	}
}

func TestEchoCommandsDriveBus(t *testing.T) {
	echo := effects.NewEcho(testRate)
	img, sng := buildSong(t, []byte{0xCD, 0x08, 100, 0xCD, 0x09, 2, 0x81, 0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate, Echo: echo})
	process(s, 300)

	if eng.lastEcho[0] != 100 {
		t.Fatalf("echo send = %d, want 100", eng.lastEcho[0])
	}
	// 2 ticks at 60 ticks/s is a 200 frame delay
	echo.Reset()
	echo.Mix(0, 0, 1, 1)
	for i := 0; i < 199; i++ {
		if l, _ := echo.Mix(0, 0, 0, 0); l != 0 {
			t.Fatalf("echo returned early at frame %d", i+1)
		}
	}
	if l, _ := echo.Mix(0, 0, 0, 0); l < 0.9 {
		t.Fatalf("echo after 200 frames = %f, want about 1", l)
	}
}

func TestBrokenTrackHaltsAlone(t *testing.T) {
	img, sng := buildSong(t, []byte{0x98, 0xB1}, []byte{0xB7})
	eng := &countingEngine{}
	var halted []int
	s := New(img, sng, eng, Options{
		SampleRate: testRate,
		OnEvent: func(ev Event) {
			if ev.Kind == EventTrackHalted {
				halted = append(halted, ev.Track)
			}
		},
	})

	process(s, 2500)
	if !s.Finished() {
		t.Fatal("song with one broken track never finished")
	}
	if s.Err() != nil {
		t.Fatalf("healthy track end reported %v", s.Err())
	}
	if len(halted) != 1 || halted[0] != 1 {
		t.Fatalf("halted tracks = %v, want [1]", halted)
	}
}

func TestStrictModeStopsWholeSong(t *testing.T) {
	img, sng := buildSong(t, []byte{0x98, 0xB1}, []byte{0xB7})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate, Strict: true})

	process(s, 10)
	if !s.Finished() {
		t.Fatal("strict mode kept playing past the bad opcode")
	}
	if !errors.Is(s.Err(), song.ErrUnknownCommand) {
		t.Fatalf("Err = %v, want ErrUnknownCommand", s.Err())
	}
}

func TestPatternCallPreservesTiming(t *testing.T) {
	// the main line calls a two-tick pattern, waits two more and plays
	// a second note; the pattern's wait must count like an inline one
	main := []byte{0xBD, 0x00, 0xB3}
	main = append(main, ptrBytes(trackOff+16)...)
	main = append(main, 0x82, 0xD1, 62, 100, 0x82, 0xB1)
	for len(main) < 16 {
		main = append(main, 0)
	}
	main = append(main, 0xD1, 60, 100, 0x82, 0xB4)

	img, sng := buildSong(t, main)
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	process(s, 400)
	if len(eng.notes) != 1 || eng.notes[0].key != 60 {
		t.Fatalf("notes through tick 3 = %+v, want the pattern note alone", eng.notes)
	}
	process(s, 1)
	if len(eng.notes) != 2 || eng.notes[1].key != 62 {
		t.Fatalf("notes at tick 4 = %+v, want the post-return note", eng.notes)
	}
	process(s, 200)
	if !s.Finished() {
		t.Fatal("fine on tick 6 did not end the song")
	}
	if s.Err() != nil {
		t.Fatalf("clean pattern round trip errored: %v", s.Err())
	}
}

func TestPatternUnderflowIsFatal(t *testing.T) {
	img, sng := buildSong(t, []byte{0xB4})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	process(s, 10)
	if !s.Finished() {
		t.Fatal("pattern underflow kept playing")
	}
	if !errors.Is(s.Err(), song.ErrCallUnderflow) {
		t.Fatalf("Err = %v, want ErrCallUnderflow", s.Err())
	}
}

func TestRunawayTrackIsHalted(t *testing.T) {
	// a track jumping to itself never yields the tick
	loop := append([]byte{0xB2}, ptrBytes(trackOff)...)
	img, sng := buildSong(t, loop)
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	process(s, 10)
	if !s.Finished() {
		t.Fatal("runaway track kept the song alive")
	}
}

func TestSilenceAfterFinish(t *testing.T) {
	img, sng := buildSong(t, []byte{0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})

	buf := make([]float32, 200)
	s.Process(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("frame %d = %f after finish, want silence", i/2, v)
		}
	}
}

func TestTrackStatesSnapshot(t *testing.T) {
	img, sng := buildSong(t, []byte{0xBD, 1, 0xBE, 90, 0x98, 0xB1}, []byte{0xB1})
	eng := &countingEngine{}
	s := New(img, sng, eng, Options{SampleRate: testRate})
	process(s, 100)

	states := s.TrackStates()
	if len(states) != 2 {
		t.Fatalf("TrackStates = %d entries, want 2", len(states))
	}
	if states[0].Program != 1 || states[0].Volume != 90 {
		t.Fatalf("track 0 = %+v, want program 1 volume 90", states[0])
	}
	if states[0].Voice != "PCM" {
		t.Fatalf("track 0 voice label = %q, want PCM (drumkit leaf)", states[0].Voice)
	}
	if states[0].Halted || !states[1].Halted {
		t.Fatalf("halt flags = %v/%v, want false/true", states[0].Halted, states[1].Halted)
	}
}
