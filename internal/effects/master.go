package effects

import (
	"math"
	"sync/atomic"
)

// Master is the output gain stage. The gain is stored as atomic bits
// so the UI goroutine can move it while audio renders.
type Master struct {
	gain uint64
}

// NewMaster creates the gain stage.
func NewMaster(gain float64) *Master {
	m := &Master{}
	m.SetGain(gain)
	return m
}

// SetGain replaces the master gain, clamped to 0..2.
func (m *Master) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	if gain > 2 {
		gain = 2
	}
	atomic.StoreUint64(&m.gain, math.Float64bits(gain))
}

// Gain returns the current master gain.
func (m *Master) Gain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.gain))
}

func (m *Master) Process(l, r float32) (float32, float32) {
	g := float32(m.Gain())
	return l * g, r * g
}

func (m *Master) Reset() {}
