// SPDX-License-Identifier: MIT
package abi

import "fmt"

// The structs below mirror abi/hotswap.h field for field. They are only
// valid on 64-bit targets, where pointers and uintptr are 8 bytes.

// CProcessor mirrors hs_processor, the table returned by createProcessor.
type CProcessor struct {
	ABIVersion    uint32
	_             uint32
	Instance      uintptr
	PrepareToPlay uintptr // void (*)(void*, float, int32_t)
	Process       uintptr // void (*)(void*, const hs_buffer*, const hs_fifo*, const hs_fifo*)
	Destroy       uintptr // void (*)(void*)
}

// CBuffer mirrors hs_buffer.
type CBuffer struct {
	Channels    uintptr // float* const*
	NumChannels int32
	NumSamples  int32
}

// CFifo mirrors hs_fifo. Pop is a host function int32_t (*)(uintptr_t ctx, void* out)
// that returns 1 when a message was written to out.
type CFifo struct {
	Ctx uintptr
	Pop uintptr
}

// Version is the ABI version this host implements.
var Version = PackVersion(1, 0, 0)

// PackVersion encodes a version the way hs_processor.abi_version stores it.
func PackVersion(major, minor, patch uint8) uint32 {
	return uint32(major)<<16 | uint32(minor)<<8 | uint32(patch)
}

// VersionString formats a packed ABI version as major.minor.patch.
func VersionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", (v>>16)&0xFF, (v>>8)&0xFF, v&0xFF)
}
