// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Guard clamps output to a ceiling, which also catches Inf, and replaces
// NaN with silence. A module that is being iterated on can misbehave;
// the device never sees it.
type Guard struct {
	enabled atomic.Bool
	ceiling atomic.Uint32 // float32 bits
	clipped atomic.Uint64
}

// NewGuard returns an enabled Guard.
func NewGuard(ceiling float64) *Guard {
	g := &Guard{}
	g.SetCeiling(ceiling)
	g.enabled.Store(true)
	return g
}

func (g *Guard) Enable()  { g.enabled.Store(true) }
func (g *Guard) Disable() { g.enabled.Store(false) }

// Enabled reports whether Apply modifies samples.
func (g *Guard) Enabled() bool { return g.enabled.Load() }

// SetCeiling adjusts the clip level.
// The value is in the range of 0.0-1.0 where 1 is full scale.
func (g *Guard) SetCeiling(ceiling float64) {
	if ceiling < 0.0 {
		ceiling = 0.0
	}
	if ceiling > 1.0 {
		ceiling = 1.0
	}
	g.ceiling.Store(math.Float32bits(float32(ceiling)))
}

// Ceiling returns the current clip level.
func (g *Guard) Ceiling() float64 {
	return float64(math.Float32frombits(g.ceiling.Load()))
}

// Clipped counts samples that were clamped or replaced.
func (g *Guard) Clipped() uint64 { return g.clipped.Load() }

// Apply sanitizes the first n samples of every channel in place.
func (g *Guard) Apply(out [][]float32, n int) {
	if !g.enabled.Load() {
		return
	}
	c := math.Float32frombits(g.ceiling.Load())
	var clipped uint64
	for _, ch := range out {
		if n < len(ch) {
			ch = ch[:n]
		}
		for i, s := range ch {
			switch {
			case s != s: // NaN
				ch[i] = 0
				clipped++
			case s > c:
				ch[i] = c
				clipped++
			case s < -c:
				ch[i] = -c
				clipped++
			}
		}
	}
	if clipped > 0 {
		g.clipped.Add(clipped)
	}
}
