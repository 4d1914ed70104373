package song

import (
	"fmt"

	"github.com/hfmkwi/SapPy/internal/rom"
)

// EventType identifies a decoded track event.
type EventType int

const (
	EventWait EventType = iota + 1
	EventFine
	EventGoto
	EventCall
	EventReturn
	EventRepeat
	EventMemAcc
	EventPriority
	EventTempo
	EventKeyShift
	EventVoice
	EventVolume
	EventPan
	EventBend
	EventBendRange
	EventLFOSpeed
	EventLFODelay
	EventMod
	EventModType
	EventTune
	EventXCmd
	EventEndOfTie
	EventTie
	EventNote
)

// Event is one decoded track instruction.
type Event struct {
	Type   EventType
	Off    int    // image offset of the opcode
	Ticks  int    // wait length or note duration, gate included
	Key    int    // note/tie key; -1 for an EndOfTie without argument
	Vel    int    // note velocity
	Gate   int    // extra ticks appended to a note, 0 when absent
	Value  int    // single-argument commands
	Ext    int    // XCmd extension selector
	Target int    // jump destination, image offset
	Count  int    // repeat count
	Args   [3]int // memory-op arguments, surfaced untouched
}

// Tick counts per wait/duration nibble. Indices 0..24 are linear, the
// rest land on the driver's coarser grid up to a whole note of 96.
var durations = [49]int{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 28, 30, 32, 36, 40, 42, 44,
	48, 52, 54, 56, 60, 64, 66, 68, 72, 76, 78, 80, 84, 88, 90,
	92, 96,
}

const callDepth = 3

// TrackState is the mutable side of one track: the program counter, the
// bounded pattern call stack and the running-status registers. The
// parser mutates nothing else, so identical image bytes and state
// always decode to the same event and post-state.
type TrackState struct {
	PC int

	stack [callDepth]int
	depth int
	rept  map[int]int // remaining jump-backs per repeat site

	lastCmd byte // last repeatable command, 0 when none yet
	lastExt int  // XCmd extension carried into repeats
	runKey  int
	runVel  int
	runDur  int // base duration of the last note, gates excluded
}

// NewTrackState positions a fresh cursor at a track's entry offset.
func NewTrackState(entry int) TrackState {
	return TrackState{PC: entry, runKey: 60, runVel: 127}
}

// Parser decodes track bytecode one event at a time against a ROM
// image. It holds no per-track state; everything mutable lives on the
// TrackState it is handed.
type Parser struct {
	img *rom.Image
}

func NewParser(img *rom.Image) *Parser {
	return &Parser{img: img}
}

// Next decodes the event at st.PC, advances the state past it (through
// calls, returns and jumps) and returns the event. Unknown opcodes and
// unreadable arguments come back as errors with the opcode offset;
// call stack overflow and underflow are always fatal to the track.
func (p *Parser) Next(st *TrackState) (Event, error) {
	off := st.PC
	b, err := p.img.Byte(off)
	if err != nil {
		return Event{}, fmt.Errorf("track at 0x%X: %w", off, err)
	}

	switch {
	case b <= 0x7F:
		return p.repeatData(st, off, b)
	case b <= 0xB0:
		st.PC = off + 1
		return Event{Type: EventWait, Off: off, Ticks: durations[b-0x80]}, nil
	case b >= 0xD0:
		return p.note(st, off, b)
	}

	switch b {
	case 0xB1, 0xB6: // Fine, and Prev is treated the same way
		st.PC = off + 1
		return Event{Type: EventFine, Off: off}, nil

	case 0xB2:
		target, err := p.img.Ptr(off + 1)
		if err != nil {
			return Event{}, fmt.Errorf("goto at 0x%X: %w", off, err)
		}
		st.PC = target
		return Event{Type: EventGoto, Off: off, Target: target}, nil

	case 0xB3:
		target, err := p.img.Ptr(off + 1)
		if err != nil {
			return Event{}, fmt.Errorf("call at 0x%X: %w", off, err)
		}
		if st.depth >= callDepth {
			return Event{}, fmt.Errorf("%w: call at 0x%X", ErrCallOverflow, off)
		}
		st.stack[st.depth] = off + 5
		st.depth++
		st.PC = target
		return Event{Type: EventCall, Off: off, Target: target}, nil

	case 0xB4:
		if st.depth == 0 {
			return Event{}, fmt.Errorf("%w: at 0x%X", ErrCallUnderflow, off)
		}
		st.depth--
		st.PC = st.stack[st.depth]
		return Event{Type: EventReturn, Off: off, Target: st.PC}, nil

	case 0xB5:
		count, err := p.arg(off + 1)
		if err != nil {
			return Event{}, fmt.Errorf("repeat at 0x%X: %w", off, err)
		}
		target, err := p.img.Ptr(off + 2)
		if err != nil {
			return Event{}, fmt.Errorf("repeat at 0x%X: %w", off, err)
		}
		ev := Event{Type: EventRepeat, Off: off, Count: count, Target: target}
		if count == 0 {
			st.PC = target
			return ev, nil
		}
		if st.rept == nil {
			st.rept = make(map[int]int)
		}
		left, seen := st.rept[off]
		if !seen {
			left = count
		}
		if left > 0 {
			st.rept[off] = left - 1
			st.PC = target
			return ev, nil
		}
		delete(st.rept, off)
		st.PC = off + 6
		return ev, nil

	case 0xB9:
		var args [3]int
		for i := range args {
			v, err := p.arg(off + 1 + i)
			if err != nil {
				return Event{}, fmt.Errorf("memacc at 0x%X: %w", off, err)
			}
			args[i] = v
		}
		st.PC = off + 4
		return Event{Type: EventMemAcc, Off: off, Args: args}, nil

	case 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF, 0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC8:
		v, err := p.arg(off + 1)
		if err != nil {
			return Event{}, fmt.Errorf("command 0x%02X at 0x%X: %w", b, off, err)
		}
		st.PC = off + 2
		return p.control(st, off, b, v), nil

	case 0xCD:
		ext, err := p.arg(off + 1)
		if err != nil {
			return Event{}, fmt.Errorf("xcmd at 0x%X: %w", off, err)
		}
		v, err := p.arg(off + 2)
		if err != nil {
			return Event{}, fmt.Errorf("xcmd at 0x%X: %w", off, err)
		}
		st.PC = off + 3
		st.lastCmd = b
		st.lastExt = ext
		return Event{Type: EventXCmd, Off: off, Ext: ext, Value: v}, nil

	case 0xCE:
		st.PC = off + 1
		st.lastCmd = b
		key := -1
		if nb, err := p.img.Byte(st.PC); err == nil && nb <= 0x7F {
			key = int(nb)
			st.PC++
		}
		return Event{Type: EventEndOfTie, Off: off, Key: key}, nil

	case 0xCF:
		st.PC = off + 1
		st.lastCmd = b
		key, vel := st.runKey, st.runVel
		if nb, err := p.img.Byte(st.PC); err == nil && nb <= 0x7F {
			key = int(nb)
			st.PC++
			if nv, err := p.img.Byte(st.PC); err == nil && nv <= 0x7F {
				vel = int(nv)
				st.PC++
			}
		}
		st.runKey, st.runVel = key, vel
		return Event{Type: EventTie, Off: off, Key: key, Vel: vel}, nil
	}

	return Event{}, fmt.Errorf("%w: opcode 0x%02X at 0x%X", ErrUnknownCommand, b, off)
}

// note decodes a 0xD0..0xFF note with its optional key, velocity and
// gate arguments. The key is present iff the next byte is data; a
// velocity may only follow a present key, a gate (1..3 extra ticks)
// only a present velocity. Absent arguments reuse the running values.
func (p *Parser) note(st *TrackState, off int, b byte) (Event, error) {
	base := durations[b-0xCF]
	st.PC = off + 1
	key, vel, gate := st.runKey, st.runVel, 0
	if nb, err := p.img.Byte(st.PC); err == nil && nb <= 0x7F {
		key = int(nb)
		st.PC++
		if nv, err := p.img.Byte(st.PC); err == nil && nv <= 0x7F {
			vel = int(nv)
			st.PC++
			if ng, err := p.img.Byte(st.PC); err == nil && ng >= 1 && ng <= 3 {
				gate = int(ng)
				st.PC++
			}
		}
	}
	st.lastCmd = b
	st.runKey, st.runVel, st.runDur = key, vel, base
	return Event{Type: EventNote, Off: off, Ticks: base + gate, Key: key, Vel: vel, Gate: gate}, nil
}

// repeatData handles a data byte in command position: it re-issues the
// last repeatable command with the byte as its first argument.
func (p *Parser) repeatData(st *TrackState, off int, b byte) (Event, error) {
	if st.lastCmd == 0 {
		return Event{}, fmt.Errorf("%w: data byte 0x%02X at 0x%X with nothing to repeat", ErrUnknownCommand, b, off)
	}
	if st.lastCmd >= 0xCF {
		return p.repeatNote(st, off, b)
	}
	v := int(b)
	st.PC = off + 1
	switch st.lastCmd {
	case 0xCD:
		return Event{Type: EventXCmd, Off: off, Ext: st.lastExt, Value: v}, nil
	case 0xCE:
		return Event{Type: EventEndOfTie, Off: off, Key: v}, nil
	}
	return p.control(st, off, st.lastCmd, v), nil
}

// repeatNote re-issues the last note or tie with a new key. The
// velocity and (for plain notes) gate arguments nest as usual; the
// note duration is the running one.
func (p *Parser) repeatNote(st *TrackState, off int, b byte) (Event, error) {
	st.PC = off + 1
	key, vel, gate := int(b), st.runVel, 0
	if nv, err := p.img.Byte(st.PC); err == nil && nv <= 0x7F {
		vel = int(nv)
		st.PC++
		if st.lastCmd != 0xCF {
			if ng, err := p.img.Byte(st.PC); err == nil && ng >= 1 && ng <= 3 {
				gate = int(ng)
				st.PC++
			}
		}
	}
	st.runKey, st.runVel = key, vel
	if st.lastCmd == 0xCF {
		return Event{Type: EventTie, Off: off, Key: key, Vel: vel}, nil
	}
	return Event{Type: EventNote, Off: off, Ticks: st.runDur + gate, Key: key, Vel: vel, Gate: gate}, nil
}

// control builds the event for a one-argument command and records it
// for running status when it is repeatable.
func (p *Parser) control(st *TrackState, off int, op byte, v int) Event {
	ev := Event{Off: off, Value: v}
	switch op {
	case 0xBA:
		ev.Type = EventPriority
	case 0xBB:
		ev.Type = EventTempo
		ev.Value = v * 2 // raw tempo is half the BPM
	case 0xBC:
		ev.Type = EventKeyShift
		ev.Value = int(int8(v))
	case 0xBD:
		ev.Type = EventVoice
	case 0xBE:
		ev.Type = EventVolume
	case 0xBF:
		ev.Type = EventPan
	case 0xC0:
		ev.Type = EventBend
	case 0xC1:
		ev.Type = EventBendRange
	case 0xC2:
		ev.Type = EventLFOSpeed
	case 0xC3:
		ev.Type = EventLFODelay
	case 0xC4:
		ev.Type = EventMod
	case 0xC5:
		ev.Type = EventModType
	case 0xC8:
		ev.Type = EventTune
	}
	switch op {
	case 0xBD, 0xBE, 0xBF, 0xC0, 0xC1, 0xC4, 0xC8:
		st.lastCmd = op
	}
	return ev
}

func (p *Parser) arg(off int) (int, error) {
	b, err := p.img.Byte(off)
	if err != nil {
		return 0, err
	}
	return int(b), nil
}
