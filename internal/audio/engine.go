// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"hotswap/internal/log"
)

// PortAudioBackend renders into a PortAudio output stream. With input
// channels configured the stream is duplex and the captured channels are
// copied into the leading output channels before the processor runs.
type PortAudioBackend struct {
	settings Settings
	proc     BlockProcessor

	outputDevice  *portaudio.DeviceInfo
	outputLatency time.Duration
	inputDevice   *portaudio.DeviceInfo
	inputLatency  time.Duration
	stream        *portaudio.Stream

	running   int32 // Atomic flag for thread-safe state
	callbacks atomic.Uint64
}

// NewPortAudioBackend initializes PortAudio and resolves the devices.
// Close terminates PortAudio again.
func NewPortAudioBackend(s Settings, proc BlockProcessor) (*PortAudioBackend, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	b := &PortAudioBackend{settings: s, proc: proc}

	out, err := OutputDevice(s.OutputDevice)
	if err != nil {
		Terminate()
		return nil, err
	}
	b.outputDevice = out
	if s.LowLatency {
		b.outputLatency = out.DefaultLowOutputLatency
	} else {
		b.outputLatency = out.DefaultHighOutputLatency
	}

	if s.InputChannels > 0 {
		in, err := InputDevice(s.InputDevice)
		if err != nil {
			Terminate()
			return nil, err
		}
		b.inputDevice = in
		if s.LowLatency {
			b.inputLatency = in.DefaultLowInputLatency
		} else {
			b.inputLatency = in.DefaultHighInputLatency
		}
	}

	return b, nil
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

// Start opens and starts the stream.
func (b *PortAudioBackend) Start() error {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return nil
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   b.outputDevice,
			Channels: b.settings.OutputChannels,
			Latency:  b.outputLatency,
		},
		FramesPerBuffer: b.settings.FramesPerBuffer,
		SampleRate:      b.settings.SampleRate,
	}

	var callback any = b.processOutputStream
	if b.inputDevice != nil {
		params.Input = portaudio.StreamDeviceParameters{
			Device:   b.inputDevice,
			Channels: b.settings.InputChannels,
			Latency:  b.inputLatency,
		}
		callback = b.processDuplexStream
	}

	prepare(b.settings, b.proc)

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		atomic.StoreInt32(&b.running, 0)
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	b.stream = stream

	if err := b.stream.Start(); err != nil {
		b.stream.Close()
		b.stream = nil
		atomic.StoreInt32(&b.running, 0)
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	log.Infof("PortAudio: streaming to %s (%.0f Hz, %d frames, latency %s)",
		b.outputDevice.Name, b.settings.SampleRate, b.settings.FramesPerBuffer, b.outputLatency)
	return nil
}

// Stop stops and closes the stream.
func (b *PortAudioBackend) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		return nil
	}
	if b.stream != nil {
		if err := b.stream.Stop(); err != nil {
			return err
		}
		if err := b.stream.Close(); err != nil {
			return err
		}
		b.stream = nil
	}
	log.Infof("PortAudio: stream stopped after %d callbacks", b.callbacks.Load())
	return nil
}

// Close stops the stream and terminates PortAudio.
func (b *PortAudioBackend) Close() error {
	if err := b.Stop(); err != nil {
		return err
	}
	return Terminate()
}

// processOutputStream is the core audio callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses the stream's buffers only
// - No dynamic allocations in the hot path
func (b *PortAudioBackend) processOutputStream(out [][]float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(out) == 0 {
		return
	}
	render(&b.settings, b.proc, out, len(out[0]))
	b.callbacks.Add(1)
}

// processDuplexStream passes the captured input through to the processor.
func (b *PortAudioBackend) processDuplexStream(in, out [][]float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(out) == 0 {
		return
	}
	copyInput(in, out)
	render(&b.settings, b.proc, out, len(out[0]))
	b.callbacks.Add(1)
}

// copyInput copies each captured channel over the output channel of the
// same index.
func copyInput(in, out [][]float32) {
	n := min(len(in), len(out))
	for ch := 0; ch < n; ch++ {
		copy(out[ch], in[ch])
	}
}

var _ Backend = (*PortAudioBackend)(nil)
