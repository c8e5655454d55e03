// SPDX-License-Identifier: MIT
// Package utils holds signal and transport helpers shared by tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records everything sent to it.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

// Send stores the data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything received so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

// Last returns the most recent value, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateComplexWave is a 440Hz fundamental plus two harmonics, peaking
// just below full scale.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

func GenerateSineWave(size int, sampleRate, frequency float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * 0.9)
	}
	return buffer
}

// Peak returns the largest absolute sample.
func Peak(buffer []float32) float32 {
	var peak float32
	for _, s := range buffer {
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return peak
}

// IsSilent reports whether every sample of every channel is zero.
func IsSilent(channels [][]float32) bool {
	for _, ch := range channels {
		for _, s := range ch {
			if s != 0 {
				return false
			}
		}
	}
	return true
}

// Planar allocates channels buffers of frames samples each.
func Planar(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	return out
}
