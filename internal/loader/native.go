// SPDX-License-Identifier: MIT
//go:build darwin || linux || windows

package loader

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	"hotswap/internal/abi"
)

// MaxNativeChannels bounds the channel pointer table handed to modules.
const MaxNativeChannels = 32

// maxNativeInstances bounds concurrently live native processors. Callbacks
// created by purego are never freed, so the pop trampolines are shared and
// each instance owns a slot they dispatch through.
const maxNativeInstances = 8

type nativeSlot struct {
	used   bool
	params atomic.Pointer[abi.ParamFIFO]
	midi   atomic.Pointer[abi.MidiFIFO]
}

var (
	slotsMu     sync.Mutex
	nativeSlots [maxNativeInstances]nativeSlot

	callbacksOnce sync.Once
	paramPopFn    uintptr
	midiPopFn     uintptr
)

func initCallbacks() {
	callbacksOnce.Do(func() {
		paramPopFn = purego.NewCallback(func(ctx, out uintptr) uintptr {
			if ctx >= maxNativeInstances || out == 0 {
				return 0
			}
			q := nativeSlots[ctx].params.Load()
			if q == nil || !q.Pop((*abi.ParamMessage)(unsafe.Pointer(out))) {
				return 0
			}
			return 1
		})
		midiPopFn = purego.NewCallback(func(ctx, out uintptr) uintptr {
			if ctx >= maxNativeInstances || out == 0 {
				return 0
			}
			q := nativeSlots[ctx].midi.Load()
			if q == nil || !q.Pop((*abi.MidiEvent)(unsafe.Pointer(out))) {
				return 0
			}
			return 1
		})
	})
}

func claimSlot() (uintptr, bool) {
	slotsMu.Lock()
	defer slotsMu.Unlock()
	for i := range nativeSlots {
		if !nativeSlots[i].used {
			nativeSlots[i].used = true
			return uintptr(i), true
		}
	}
	return 0, false
}

func releaseSlot(i uintptr) {
	slotsMu.Lock()
	nativeSlots[i].params.Store(nil)
	nativeSlots[i].midi.Store(nil)
	nativeSlots[i].used = false
	slotsMu.Unlock()
}

// Open loads the library at path and returns a handle to it.
func (o *NativeOpener) Open(path string) (Library, error) {
	h, err := dlopen(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	return &NativeLibrary{handle: h, path: path, constraint: o.ABIConstraint}, nil
}

// NativeLibrary is an open shared library.
type NativeLibrary struct {
	handle     uintptr
	path       string
	constraint string
}

// Lookup resolves the factory symbol. The returned factory calls into the
// library and validates the table it gets back.
func (l *NativeLibrary) Lookup(symbol string) (abi.Factory, error) {
	sym, err := dlsym(l.handle, symbol)
	if err != nil || sym == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolResolutionFailed, symbol, l.path)
	}
	return func() (abi.Processor, error) {
		return newNativeProcessor(sym, l.constraint)
	}, nil
}

// Close unloads the library.
func (l *NativeLibrary) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := dlclose(l.handle)
	l.handle = 0
	return err
}

// NativeProcessor adapts an hs_processor table to abi.Processor.
type NativeProcessor struct {
	table    *abi.CProcessor
	instance uintptr
	slot     uintptr

	prepareFn func(instance uintptr, sampleRate float32, blockSize int32)

	// Preallocated call frame for process.
	channels [MaxNativeChannels]uintptr
	buffer   abi.CBuffer
	params   abi.CFifo
	midi     abi.CFifo
	pinned   [MaxNativeChannels]*float32
	pinner   runtime.Pinner

	destroyed bool
}

var (
	_ abi.Processor = (*NativeProcessor)(nil)
	_ abi.Destroyer = (*NativeProcessor)(nil)
)

func newNativeProcessor(factory uintptr, constraint string) (*NativeProcessor, error) {
	initCallbacks()

	ptr, _, _ := purego.SyscallN(factory)
	if ptr == 0 {
		return nil, fmt.Errorf("%w: createProcessor returned NULL", ErrFactoryFailed)
	}
	table := (*abi.CProcessor)(unsafe.Pointer(ptr))

	// A table from another ABI major may not even share this layout,
	// so none of its functions are called.
	if err := CheckABI(table.ABIVersion, constraint); err != nil {
		return nil, err
	}
	if table.Process == 0 || table.Destroy == 0 {
		return nil, fmt.Errorf("%w: incomplete function table", ErrIncompatibleABI)
	}

	slot, ok := claimSlot()
	if !ok {
		purego.SyscallN(table.Destroy, table.Instance)
		return nil, fmt.Errorf("%w: too many live native processors", ErrFactoryFailed)
	}

	p := &NativeProcessor{
		table:    table,
		instance: table.Instance,
		slot:     slot,
	}
	if table.PrepareToPlay != 0 {
		purego.RegisterFunc(&p.prepareFn, table.PrepareToPlay)
	}
	p.buffer.Channels = uintptr(unsafe.Pointer(&p.channels[0]))
	p.params = abi.CFifo{Ctx: slot, Pop: paramPopFn}
	p.midi = abi.CFifo{Ctx: slot, Pop: midiPopFn}
	p.pinner.Pin(&p.channels[0])
	return p, nil
}

// PrepareToPlay forwards to the module's prepare_to_play.
func (p *NativeProcessor) PrepareToPlay(sampleRate float32, blockSize int) {
	if p.destroyed || p.prepareFn == nil {
		return
	}
	p.prepareFn(p.instance, sampleRate, int32(blockSize))
}

// Process forwards one block to the module. Channel storage is pinned the
// first time it is seen, so steady state does not allocate.
func (p *NativeProcessor) Process(buffer *abi.Buffer, params *abi.ParamFIFO, midi *abi.MidiFIFO) {
	if p.destroyed {
		return
	}
	n := buffer.NumChannels()
	if n > MaxNativeChannels {
		n = MaxNativeChannels
	}
	samples := buffer.NumSamples()
	for ch := 0; ch < n; ch++ {
		data := buffer.Channel(ch)
		if len(data) == 0 {
			p.channels[ch] = 0
			continue
		}
		if p.pinned[ch] != &data[0] {
			p.pinner.Pin(&data[0])
			p.pinned[ch] = &data[0]
		}
		p.channels[ch] = uintptr(unsafe.Pointer(&data[0]))
	}
	p.buffer.NumChannels = int32(n)
	p.buffer.NumSamples = int32(samples)

	nativeSlots[p.slot].params.Store(params)
	nativeSlots[p.slot].midi.Store(midi)

	purego.SyscallN(p.table.Process,
		p.instance,
		uintptr(unsafe.Pointer(&p.buffer)),
		uintptr(unsafe.Pointer(&p.params)),
		uintptr(unsafe.Pointer(&p.midi)),
	)
	runtime.KeepAlive(buffer)
}

// Destroy releases the module instance. The processor is unusable afterwards.
func (p *NativeProcessor) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	purego.SyscallN(p.table.Destroy, p.instance)
	p.table = nil
	p.pinner.Unpin()
	releaseSlot(p.slot)
}
