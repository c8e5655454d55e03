// SPDX-License-Identifier: MIT
package abi

import "hotswap/pkg/fifo"

// DefaultQueueCapacity is the capacity used when none is configured.
// It bounds how many messages can be queued between two blocks.
const DefaultQueueCapacity = 100

// ParamFIFO queues parameter changes from UI and automation threads to the
// processor.
type ParamFIFO = fifo.Queue[ParamMessage]

// MidiFIFO queues decoded MIDI events to the processor.
type MidiFIFO = fifo.Queue[MidiEvent]

// NewParamFIFO creates a parameter queue. Non-positive capacities fall back
// to DefaultQueueCapacity.
func NewParamFIFO(capacity int) *ParamFIFO {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return fifo.New[ParamMessage](capacity)
}

// NewMidiFIFO creates a MIDI queue. Non-positive capacities fall back to
// DefaultQueueCapacity.
func NewMidiFIFO(capacity int) *MidiFIFO {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return fifo.New[MidiEvent](capacity)
}
