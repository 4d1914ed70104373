package effects

// Reverb implements a Schroeder-style reverb with four comb filters
// and two allpass filters. The wet mix tracks the driver's 0..127
// reverb depth, so a song header or SoundDriverMode word maps onto it
// directly.
type Reverb struct {
	combs   [4]combFilter
	allpass [2]allpassFilter
	wet     float32
}

type combFilter struct {
	buf []float32
	pos int
	fb  float32
}

type allpassFilter struct {
	buf []float32
	pos int
	fb  float32
}

// NewReverb creates a reverb at the given output rate. depth is the
// 0..127 reverb level taken from the song or the driver mode.
func NewReverb(sampleRate, depth int) *Reverb {
	base := sampleRate / 20
	if base < 10 {
		base = 10
	}
	rv := &Reverb{}
	rv.SetDepth(depth)
	// Comb filter delay lengths (prime-ish ratios to avoid resonances)
	combLens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range rv.combs {
		rv.combs[i] = combFilter{
			buf: make([]float32, combLens[i]),
			fb:  0.72,
		}
	}
	apLens := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range rv.allpass {
		rv.allpass[i] = allpassFilter{
			buf: make([]float32, maxInt(apLens[i], 1)),
			fb:  0.5,
		}
	}
	return rv
}

// SetDepth moves the wet mix to a new 0..127 driver depth.
func (rv *Reverb) SetDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	if depth > 127 {
		depth = 127
	}
	rv.wet = float32(depth) / 127
}

func (rv *Reverb) Process(l, r float32) (float32, float32) {
	mono := (l + r) * 0.5
	var out float32
	for i := range rv.combs {
		out += rv.combs[i].process(mono)
	}
	out *= 0.25
	for i := range rv.allpass {
		out = rv.allpass[i].process(out)
	}
	return l + out*rv.wet, r + out*rv.wet
}

func (rv *Reverb) Reset() {
	for i := range rv.combs {
		for j := range rv.combs[i].buf {
			rv.combs[i].buf[j] = 0
		}
		rv.combs[i].pos = 0
	}
	for i := range rv.allpass {
		for j := range rv.allpass[i].buf {
			rv.allpass[i].buf[j] = 0
		}
		rv.allpass[i].pos = 0
	}
}

func (c *combFilter) process(in float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpassFilter) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
