// SPDX-License-Identifier: MIT
package abi

// Buffer is a view over the host's channel storage for one callback.
// It never owns the samples. Processors must not keep the Buffer or any
// slice returned by Channel after Process returns.
type Buffer struct {
	channels   [][]float32
	numSamples int
}

// NewBuffer wraps channels, each holding at least numSamples samples.
func NewBuffer(channels [][]float32, numSamples int) *Buffer {
	b := &Buffer{}
	b.Reset(channels, numSamples)
	return b
}

// Reset points the view at a new block without allocating.
func (b *Buffer) Reset(channels [][]float32, numSamples int) {
	if numSamples < 0 {
		numSamples = 0
	}
	b.channels = channels
	b.numSamples = numSamples
}

// NumChannels returns the amount of channels.
func (b *Buffer) NumChannels() int { return len(b.channels) }

// NumSamples returns the amount of samples per channel.
func (b *Buffer) NumSamples() int { return b.numSamples }

// Channel returns the samples of one channel, so a specific sample is
// buffer.Channel(ch)[i]. The slice is clipped to NumSamples.
func (b *Buffer) Channel(ch int) []float32 {
	c := b.channels[ch]
	if len(c) > b.numSamples {
		c = c[:b.numSamples]
	}
	return c
}

// Clear writes silence into every channel.
func (b *Buffer) Clear() {
	for ch := range b.channels {
		clear(b.Channel(ch))
	}
}
