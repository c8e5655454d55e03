// SPDX-License-Identifier: MIT

// Package params describes the parameters a processor exposes to the UI and
// converts between normalized control values (0..1) and the raw values
// delivered to the processor.
package params

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects how a Range maps the normalized control position.
type Mode int

const (
	Float   Mode = iota // continuous, linear
	Integer             // whole steps, linear
	Log                 // skew 4
	Exp                 // skew 0.25
)

var modeNames = map[Mode]string{Float: "float", Integer: "integer", Log: "log", Exp: "exp"}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names printed by String, case-insensitively.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Float, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Float, fmt.Errorf("unknown parameter mode %q", s)
}

// Range is a bounded value range with an optional step and skew.
type Range struct {
	Start    float32
	End      float32
	Interval float32 // 0 means continuous
	Skew     float32 // 1 is linear
}

// NewRange builds the range a mode implies for [start, end].
func NewRange(start, end float32, mode Mode) Range {
	r := Range{Start: start, End: end, Skew: 1}
	switch mode {
	case Integer:
		r.Start = float32(math.Floor(float64(start)))
		r.End = float32(math.Floor(float64(end)))
		r.Interval = 1
	case Log:
		r.Skew = 4
	case Exp:
		r.Skew = 0.25
	}
	return r
}

// FromNormalized maps p in 0..1 to a legal value in the range.
func (r Range) FromNormalized(p float32) float32 {
	p = clamp01(p)
	if r.Skew != 1 && r.Skew > 0 && p > 0 {
		p = float32(math.Exp(math.Log(float64(p)) / float64(r.Skew)))
	}
	return r.Snap(r.Start + (r.End-r.Start)*p)
}

// ToNormalized maps v to its normalized position.
func (r Range) ToNormalized(v float32) float32 {
	span := r.End - r.Start
	if span == 0 {
		return 0
	}
	p := clamp01((v - r.Start) / span)
	if r.Skew == 1 || r.Skew <= 0 {
		return p
	}
	return float32(math.Pow(float64(p), float64(r.Skew)))
}

// Snap rounds v to the nearest step and clamps it to the range.
func (r Range) Snap(v float32) float32 {
	if r.Interval > 0 {
		v = r.Start + r.Interval*float32(math.Floor(float64((v-r.Start)/r.Interval)+0.5))
	}
	lo, hi := r.Start, r.End
	if lo > hi {
		lo, hi = hi, lo
	}
	return min(max(v, lo), hi)
}

// Steps returns the number of distinct values, or 0 for a continuous range.
func (r Range) Steps() int {
	if r.Interval <= 0 {
		return 0
	}
	return int(math.Abs(float64(r.End-r.Start))/float64(r.Interval)) + 1
}

func clamp01(p float32) float32 {
	return min(max(p, 0), 1)
}
