// SPDX-License-Identifier: MIT
package host

import "math"

// Stats is a snapshot of the host's counters.
type Stats struct {
	Blocks        uint64 // blocks rendered
	SilentBlocks  uint64 // blocks rendered as silence (suspended or unloaded)
	DroppedMidi   uint64 // packets or events lost to a full queue
	DroppedParams uint64 // parameter messages lost to a full queue
	StaleParams   uint64 // parameter messages the module left unread
	MalformedMidi uint64 // packets longer than three bytes
	Peaks         []float32
}

// Stats returns the current counters and the peak of each channel in the
// last block.
func (h *Host) Stats() Stats {
	return Stats{
		Blocks:        h.blocks.Load(),
		SilentBlocks:  h.silentBlocks.Load(),
		DroppedMidi:   h.droppedMidi.Load(),
		DroppedParams: h.droppedParams.Load(),
		StaleParams:   h.staleParams.Load(),
		MalformedMidi: h.malformedMidi.Load(),
		Peaks:         h.PeaksInto(nil),
	}
}

// PeaksInto appends the last block's per-channel peaks to dst.
func (h *Host) PeaksInto(dst []float32) []float32 {
	n := int(h.numChannels.Load())
	for ch := 0; ch < n; ch++ {
		dst = append(dst, math.Float32frombits(h.peaks[ch].Load()))
	}
	return dst
}

// SampleRate returns the rate of the last PrepareToPlay.
func (h *Host) SampleRate() float32 {
	return math.Float32frombits(h.sampleRate.Load())
}

// BlockSize returns the block size of the last PrepareToPlay.
func (h *Host) BlockSize() int {
	return int(h.blockSize.Load())
}
