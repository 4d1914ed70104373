package effects

// Echo is the pseudo-echo bus behind the driver's extension commands.
// Tracks feed it their send signal each frame; the delayed signal
// mixes back into the dry bus and regenerates at a fixed decay. The
// delay length arrives in ticks from the bytecode, translated to
// frames by the sequencer at the current tempo.
type Echo struct {
	bufL, bufR []float32
	pos        int
	length     int
	feedback   float32
}

// NewEcho creates the bus with capacity for maxFrames of delay. The
// bus starts silent with a zero length.
func NewEcho(maxFrames int) *Echo {
	if maxFrames < 1 {
		maxFrames = 1
	}
	return &Echo{
		bufL:     make([]float32, maxFrames),
		bufR:     make([]float32, maxFrames),
		feedback: 0.5,
	}
}

// SetLength moves the audible delay, capped at the bus capacity.
// Zero mutes the bus.
func (e *Echo) SetLength(frames int) {
	if frames < 0 {
		frames = 0
	}
	if frames > len(e.bufL) {
		frames = len(e.bufL)
	}
	e.length = frames
	if e.length > 0 && e.pos >= e.length {
		e.pos = 0
	}
}

// Mix adds the delayed send to the dry frame and writes the current
// send into the loop.
func (e *Echo) Mix(l, r, sendL, sendR float32) (float32, float32) {
	if e.length <= 0 {
		return l, r
	}
	delL := e.bufL[e.pos]
	delR := e.bufR[e.pos]
	e.bufL[e.pos] = sendL + delL*e.feedback
	e.bufR[e.pos] = sendR + delR*e.feedback
	e.pos++
	if e.pos >= e.length {
		e.pos = 0
	}
	return l + delL, r + delR
}

func (e *Echo) Reset() {
	for i := range e.bufL {
		e.bufL[i] = 0
		e.bufR[i] = 0
	}
	e.pos = 0
}
