package effects

import "math"

// Crush quantizes the bus to the driver's DAC word size. Hardware
// mixes run at 9 down to 6 significant bits depending on the
// configured SoundDriverMode; this reproduces that grit on demand.
type Crush struct {
	levels float32
}

// NewCrush creates a quantizer for the given DAC bit depth.
func NewCrush(bits int) *Crush {
	if bits < 2 {
		bits = 2
	}
	if bits > 16 {
		bits = 16
	}
	return &Crush{levels: float32(int(1) << (bits - 1))}
}

func (c *Crush) Process(l, r float32) (float32, float32) {
	l = float32(math.Round(float64(l*c.levels))) / c.levels
	r = float32(math.Round(float64(r*c.levels))) / c.levels
	return l, r
}

func (c *Crush) Reset() {}
