// SPDX-License-Identifier: MIT
/*
Package audio drives a BlockProcessor from an audio clock:
- PortAudio output streams (optionally duplex, passing input through)
- oto pull-model playback
- a headless ticker clock for tests and machines without a device
- an output guard that keeps NaN/Inf and overs away from the device
- WAV recording of the processed output, written off the audio thread

Thread Safety:
- Backends call Process from exactly one goroutine at a time
- The audio thread only touches pre-allocated buffers and atomics
- The PortAudio callback locks its OS thread
*/
package audio

import (
	"fmt"
	"time"

	"hotswap/internal/config"
)

// BlockProcessor renders one block of audio in place. Every channel of out
// holds at least numSamples samples.
type BlockProcessor interface {
	Process(out [][]float32, numSamples int)
}

// Preparer is implemented by processors that want the stream settings
// before the first block.
type Preparer interface {
	PrepareToPlay(sampleRate float32, blockSize int)
}

// Backend is an audio clock pulling blocks from a BlockProcessor.
type Backend interface {
	Name() string
	Start() error
	Stop() error
	Close() error
}

// Settings are the stream parameters shared by every backend.
type Settings struct {
	SampleRate      float64
	FramesPerBuffer int
	OutputChannels  int
	InputChannels   int
	OutputDevice    int
	InputDevice     int
	LowLatency      bool
	Guard           *Guard
}

// SettingsFromConfig maps the audio section of the configuration.
func SettingsFromConfig(c config.AudioConfig) Settings {
	s := Settings{
		SampleRate:      c.SampleRate,
		FramesPerBuffer: c.FramesPerBuffer,
		OutputChannels:  c.OutputChannels,
		InputChannels:   c.InputChannels,
		OutputDevice:    c.OutputDevice,
		InputDevice:     c.InputDevice,
		LowLatency:      c.LowLatency,
	}
	if c.Ceiling > 0 {
		s.Guard = NewGuard(c.Ceiling)
	}
	return s
}

// BlockDuration is the wall-clock length of one block.
func (s Settings) BlockDuration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.FramesPerBuffer) / s.SampleRate * float64(time.Second))
}

func (s Settings) validate() error {
	if s.SampleRate <= 0 || s.FramesPerBuffer <= 0 || s.OutputChannels <= 0 {
		return fmt.Errorf("invalid stream settings: %.0f Hz, %d frames, %d channels",
			s.SampleRate, s.FramesPerBuffer, s.OutputChannels)
	}
	return nil
}

// NewBackend creates the backend called name.
func NewBackend(name string, s Settings, proc BlockProcessor) (Backend, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	switch name {
	case "portaudio":
		return NewPortAudioBackend(s, proc)
	case "oto":
		return NewOtoBackend(s, proc)
	case "headless":
		return NewHeadlessBackend(s, proc), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// prepare hands the stream settings to proc if it wants them.
func prepare(s Settings, proc BlockProcessor) {
	if p, ok := proc.(Preparer); ok {
		p.PrepareToPlay(float32(s.SampleRate), s.FramesPerBuffer)
	}
}

// render runs proc on one block and applies the guard.
func render(s *Settings, proc BlockProcessor, out [][]float32, n int) {
	proc.Process(out, n)
	if s.Guard != nil {
		s.Guard.Apply(out, n)
	}
}

// newChannels allocates a planar block.
func newChannels(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	return out
}
