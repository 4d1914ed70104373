// Package lfo implements the per-track modulation unit: a sine LFO
// ticked on the sequencer clock and routed to pitch, volume or pan.
package lfo

import "math"

// Routing targets for the modulation value.
const (
	Vibrato = 0 // pitch, through the bend formula
	Tremolo = 1 // volume
	AutoPan = 2 // pan
)

// Unit is one track's modulation state. Speed and depth come straight
// from the track registers; the phase advances speed/96 per tick and
// wraps at 2, so a full sine period spans 192/speed ticks.
type Unit struct {
	depth int
	speed int
	delay int
	typ   int

	pos  float64
	wait int
}

func (u *Unit) SetSpeed(v int) { u.speed = v }
func (u *Unit) SetDelay(v int) { u.delay = v }
func (u *Unit) SetDepth(v int) { u.depth = v }

// SetType selects the routing target; out-of-range values fall back to
// vibrato.
func (u *Unit) SetType(v int) {
	if v < Vibrato || v > AutoPan {
		v = Vibrato
	}
	u.typ = v
}

func (u *Unit) Type() int { return u.typ }

// Active reports whether ticking can produce modulation.
func (u *Unit) Active() bool {
	return u.depth != 0 && u.speed != 0
}

// Retrigger rearms the delay gate and restarts the phase, called when
// the track starts a new note.
func (u *Unit) Retrigger() {
	u.wait = u.delay
	u.pos = 0
}

// Tick advances one sequencer tick and returns the modulation delta in
// [-depth, +depth]. While inactive, or still inside the delay window
// after a retrigger, it returns 0.
func (u *Unit) Tick() float64 {
	if !u.Active() {
		return 0
	}
	if u.wait > 0 {
		u.wait--
		return 0
	}
	v := math.Sin(math.Pi*u.pos) * float64(u.depth)
	u.pos += float64(u.speed) / 96
	for u.pos >= 2 {
		u.pos -= 2
	}
	return v
}

// Reset clears the phase and delay gate.
func (u *Unit) Reset() {
	u.pos = 0
	u.wait = 0
}
