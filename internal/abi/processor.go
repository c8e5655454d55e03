// SPDX-License-Identifier: MIT
/*
Package abi defines the contract between the host and a dynamically loaded
processor module.

The contract is frozen at ABI version 1.0.0:

  - Message types: ParamMessage and MidiEvent, plain values with a fixed
    C layout (see abi/hotswap.h).
  - Queues: ParamFIFO and MidiFIFO, bounded and lock-free.
  - Buffer: a non-owning view valid for exactly one Process call.
  - Processor: PrepareToPlay and Process. Nothing else is ever called on
    the real-time thread.

A module exposes one factory under FactorySymbol. The host owns the
instance it returns and destroys it when the module is retired.
*/
package abi

// FactorySymbol is the exported name of the module factory.
const FactorySymbol = "createProcessor"

// Processor is the capability every loaded module implements.
type Processor interface {
	// PrepareToPlay is called once after a (re)load and whenever the sample
	// rate or block size changes. All allocation happens here.
	PrepareToPlay(sampleRate float32, blockSize int)

	// Process is called once per block on the real-time thread. It drains
	// whatever messages it reacts to and writes NumSamples samples into
	// every channel it produces.
	Process(buffer *Buffer, params *ParamFIFO, midi *MidiFIFO)
}

// Destroyer is implemented by processors that hold resources beyond the
// Go heap. The loader calls Destroy exactly once when the module is retired.
type Destroyer interface {
	Destroy()
}

// Factory returns a fresh processor instance.
type Factory func() (Processor, error)
