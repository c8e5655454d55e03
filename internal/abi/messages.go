// SPDX-License-Identifier: MIT
package abi

import "fmt"

// ParamMessage carries one parameter change to the processor. Value is the
// raw value, already mapped from the normalized UI range.
type ParamMessage struct {
	ID    int32
	Value float32
}

// NewParamMessage returns an empty message with ID -1, which never names a
// real parameter.
func NewParamMessage() ParamMessage {
	return ParamMessage{ID: -1}
}

// MidiType is the high nibble of a MIDI channel-voice status byte.
type MidiType uint8

const (
	MidiNoteOff         MidiType = 0b1000
	MidiNoteOn          MidiType = 0b1001
	MidiAftertouch      MidiType = 0b1010
	MidiControlChange   MidiType = 0b1011
	MidiProgramChange   MidiType = 0b1100
	MidiChannelPressure MidiType = 0b1101
	MidiPitchBend       MidiType = 0b1110
)

// String returns the name of the event type.
func (t MidiType) String() string {
	switch t {
	case MidiNoteOff:
		return "noteOff"
	case MidiNoteOn:
		return "noteOn"
	case MidiAftertouch:
		return "aftertouch"
	case MidiControlChange:
		return "controlChange"
	case MidiProgramChange:
		return "programChange"
	case MidiChannelPressure:
		return "channelPressure"
	case MidiPitchBend:
		return "pitchBend"
	default:
		return fmt.Sprintf("MidiType(%#x)", uint8(t))
	}
}

// MidiEvent is a decoded 3-byte MIDI packet. For program changes Note holds
// the program number. Value is velocity for note events, pressure for
// aftertouch, and so on.
type MidiEvent struct {
	Type    MidiType
	Channel uint8
	Note    uint8
	Value   uint8
}

// MaxMidiPacketSize is the largest packet the host accepts.
const MaxMidiPacketSize = 3

// DecodeMidi builds an event from a status byte and two data bytes.
func DecodeMidi(status, data1, data2 uint8) MidiEvent {
	return MidiEvent{
		Type:    MidiType((status & 0b11110000) >> 4),
		Channel: status & 0b00001111,
		Note:    data1,
		Value:   data2,
	}
}

// Bytes re-encodes the event into its wire form.
func (e MidiEvent) Bytes() [3]byte {
	return [3]byte{uint8(e.Type)<<4 | e.Channel&0x0F, e.Note, e.Value}
}

func (e MidiEvent) String() string {
	return fmt.Sprintf("%s{ch:%d, note:%d, val:%d}", e.Type, e.Channel, e.Note, e.Value)
}
