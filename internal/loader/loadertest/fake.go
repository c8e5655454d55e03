// SPDX-License-Identifier: MIT

// Package loadertest provides an in-process Opener for exercising the
// loader and host without compiling shared libraries.
package loadertest

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"hotswap/internal/abi"
	"hotswap/internal/loader"
)

var (
	ErrOpen    = errors.New("fake open failure")
	ErrFactory = errors.New("fake factory failure")
	ErrClose   = errors.New("fake close failure")
)

// Opener opens "libraries" that are plain files on disk. The factory it
// hands out is chosen by NewProcessor.
type Opener struct {
	mu sync.Mutex

	// NewProcessor builds the instance for each load. Defaults to a Processor
	// that multiplies every sample by Gain.
	NewProcessor func() (abi.Processor, error)
	// FailOpen, MissingSymbol and FailClose inject failures.
	FailOpen      bool
	MissingSymbol bool
	FailClose     bool

	opened []string
	open   map[string]bool
	closes atomic.Int32
}

var _ loader.Opener = (*Opener)(nil)

// NewOpener returns an Opener whose modules apply gain to the buffer.
func NewOpener(gain float32) *Opener {
	return &Opener{
		NewProcessor: func() (abi.Processor, error) { return &Processor{Gain: gain}, nil },
		open:         make(map[string]bool),
	}
}

func (o *Opener) Open(path string) (loader.Library, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.FailOpen {
		return nil, ErrOpen
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if o.open == nil {
		o.open = make(map[string]bool)
	}
	if o.open[path] {
		return nil, fmt.Errorf("%s is already open", path)
	}
	o.opened = append(o.opened, path)
	o.open[path] = true
	return &library{opener: o, path: path}, nil
}

// Opened returns every path passed to a successful Open.
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// OpenCount returns the number of libraries currently open.
func (o *Opener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

// Closes returns how many libraries were closed.
func (o *Opener) Closes() int {
	return int(o.closes.Load())
}

type library struct {
	opener *Opener
	path   string
}

func (l *library) Lookup(symbol string) (abi.Factory, error) {
	l.opener.mu.Lock()
	defer l.opener.mu.Unlock()
	if l.opener.MissingSymbol || symbol != abi.FactorySymbol {
		return nil, fmt.Errorf("%s: undefined symbol %s", l.path, symbol)
	}
	if l.opener.NewProcessor == nil {
		return func() (abi.Processor, error) { return &Processor{Gain: 1}, nil }, nil
	}
	return l.opener.NewProcessor, nil
}

func (l *library) Close() error {
	l.opener.mu.Lock()
	delete(l.opener.open, l.path)
	fail := l.opener.FailClose
	l.opener.mu.Unlock()
	l.opener.closes.Add(1)
	if fail {
		return fmt.Errorf("close %s: %w", l.path, ErrClose)
	}
	return nil
}

// Processor scales every sample by Gain and records the calls it receives.
type Processor struct {
	Gain float32

	SampleRate atomic.Value // float32
	BlockSize  atomic.Int64
	Prepared   atomic.Int32
	Blocks     atomic.Int64
	Destroyed  atomic.Bool
	LastParam  abi.ParamMessage

	// Block, when set, is received from at the start of each Process call.
	Block chan struct{}
	// PrepareBlock, when set, is received from at the start of PrepareToPlay.
	PrepareBlock chan struct{}
}

var (
	_ abi.Processor = (*Processor)(nil)
	_ abi.Destroyer = (*Processor)(nil)
)

func (p *Processor) PrepareToPlay(sampleRate float32, blockSize int) {
	if p.PrepareBlock != nil {
		<-p.PrepareBlock
	}
	p.SampleRate.Store(sampleRate)
	p.BlockSize.Store(int64(blockSize))
	p.Prepared.Add(1)
}

func (p *Processor) Process(buffer *abi.Buffer, params *abi.ParamFIFO, midi *abi.MidiFIFO) {
	if p.Block != nil {
		<-p.Block
	}
	if p.Destroyed.Load() {
		panic("process called on a destroyed processor")
	}
	for params.Pop(&p.LastParam) {
	}
	midi.Drain()
	for ch := 0; ch < buffer.NumChannels(); ch++ {
		data := buffer.Channel(ch)
		for i := range data {
			data[i] *= p.Gain
		}
	}
	p.Blocks.Add(1)
}

func (p *Processor) Destroy() {
	p.Destroyed.Store(true)
}
