// SPDX-License-Identifier: MIT
/*
Package transport exposes the host to other processes: status events go
out, control commands come in.

  - WebSocketServer broadcasts status as JSON and accepts commands on /ws
  - LoggingTransport writes status to the debug log
  - StatusPublisher polls a status source and fans events out to transports
  - udp.MeterPublisher streams per-channel peaks as compact binary packets

Nothing in this package runs on the audio thread.
*/
package transport

import (
	"errors"
	"fmt"
	"os"
)

// Transport sends status events or other data to an observer.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(data any) error
	Close() error
}

// Controller is the part of the host that remote commands can drive.
type Controller interface {
	SetParameter(id int32, normalized float32) bool
	PushMidiPacket(b []byte) bool
	ResetParameters(useDefaults bool)
	SetNewLibrary(path string) error
	LoadProject(dir string) error
	ReloadLibrary() error
	UnloadLibrary() error
}

// Command types.
const (
	CommandParam  = "param"
	CommandMidi   = "midi"
	CommandReset  = "reset"
	CommandLoad   = "load"
	CommandReload = "reload"
	CommandUnload = "unload"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQueueFull      = errors.New("queue full")
	ErrReadOnly       = errors.New("control commands are disabled")
)

// Command is a control message sent by a client.
//
//	{"type":"param","id":1,"value":0.5}
//	{"type":"midi","data":[144,60,127]}
//	{"type":"load","path":"/work/gain"}
type Command struct {
	Type  string  `json:"type"`
	ID    int32   `json:"id,omitempty"`
	Value float32 `json:"value,omitempty"`
	Data  []int   `json:"data,omitempty"`
	Path  string  `json:"path,omitempty"`
}

// Reply answers exactly one Command.
type Reply struct {
	Type    string `json:"type"` // "ack" or "error"
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// Dispatch applies cmd to c.
func Dispatch(c Controller, cmd Command) error {
	if c == nil {
		return ErrReadOnly
	}
	switch cmd.Type {
	case CommandParam:
		if cmd.Value < 0 || cmd.Value > 1 {
			return fmt.Errorf("parameter %d: normalized value %v outside [0, 1]", cmd.ID, cmd.Value)
		}
		if !c.SetParameter(cmd.ID, cmd.Value) {
			return fmt.Errorf("parameter %d: %w", cmd.ID, ErrQueueFull)
		}
	case CommandMidi:
		var b [16]byte
		if len(cmd.Data) == 0 || len(cmd.Data) > len(b) {
			return fmt.Errorf("midi packet of %d bytes", len(cmd.Data))
		}
		for i, v := range cmd.Data {
			if v < 0 || v > 0xFF {
				return fmt.Errorf("midi byte %d out of range: %d", i, v)
			}
			b[i] = byte(v)
		}
		if !c.PushMidiPacket(b[:len(cmd.Data)]) {
			return fmt.Errorf("midi: %w", ErrQueueFull)
		}
	case CommandReset:
		c.ResetParameters(true)
	case CommandLoad:
		if cmd.Path == "" {
			return errors.New("load: path is required")
		}
		if info, err := os.Stat(cmd.Path); err == nil && info.IsDir() {
			return c.LoadProject(cmd.Path)
		}
		return c.SetNewLibrary(cmd.Path)
	case CommandReload:
		return c.ReloadLibrary()
	case CommandUnload:
		return c.UnloadLibrary()
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

func replyFor(cmd Command, err error) Reply {
	if err != nil {
		return Reply{Type: "error", Command: cmd.Type, Error: err.Error()}
	}
	return Reply{Type: "ack", Command: cmd.Type}
}
