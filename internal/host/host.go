// SPDX-License-Identifier: MIT

/*
Package host is the real-time entry point that sits between an audio
backend and the loaded processor module.

Per block, Process:
 1. decodes every pending MIDI packet and queues the event for the module
 2. points the reusable buffer view at the backend's channels
 3. outputs silence while a swap is in progress or nothing is loaded
 4. otherwise runs the module
 5. discards parameter messages the module did not consume

Process never blocks, allocates or logs. Everything else on Host is for
control threads and may do all three.
*/
package host

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"hotswap/internal/abi"
	"hotswap/internal/loader"
	"hotswap/internal/log"
	"hotswap/internal/params"
	"hotswap/internal/state"
	"hotswap/internal/watch"
	"hotswap/pkg/fifo"
)

const (
	// MaxMeterChannels bounds the per-channel peak meters.
	MaxMeterChannels = 32
	// maxPacketBytes is the inbox slot size. Longer packets are cut to this
	// before they reach the decoder, which still sees their real length.
	maxPacketBytes = 16

	DefaultInboxCapacity = 256
)

// Tap receives each processed block. It is called on the audio thread and
// must not block.
type Tap interface {
	WriteBlock(out [][]float32, numSamples int)
}

// Options configures a Host. Zero values select defaults.
type Options struct {
	ParamCapacity int
	MidiCapacity  int
	InboxCapacity int

	// StrictMidi panics on packets longer than three bytes instead of
	// truncating them.
	StrictMidi bool

	// InputChannels is how many leading channels carry input audio. The
	// remaining channels are cleared before the module runs.
	InputChannels int

	Layout *params.Layout
	Store  state.Store
	Tap    Tap

	// Watch enables reload-on-rebuild for every library the host loads.
	Watch        bool
	PollInterval time.Duration
	Debounce     time.Duration
}

type midiPacket struct {
	data [maxPacketBytes]byte
	size int32
}

// Host orchestrates one loader, its queues and its meters.
type Host struct {
	loader *loader.Loader
	params *abi.ParamFIFO
	midi   *abi.MidiFIFO
	inbox  *fifo.Queue[midiPacket]
	buffer *abi.Buffer

	layout        *params.Layout
	store         state.Store
	tap           Tap
	inputChannels int
	strict        atomic.Bool

	// Last settings passed to PrepareToPlay.
	sampleRate atomic.Uint32 // float32 bits
	blockSize  atomic.Int32

	// Reused by Process; never touched by other goroutines.
	pkt   midiPacket
	event abi.MidiEvent

	blocks        atomic.Uint64
	silentBlocks  atomic.Uint64
	droppedMidi   atomic.Uint64
	droppedParams atomic.Uint64
	staleParams   atomic.Uint64
	malformedMidi atomic.Uint64
	peaks         [MaxMeterChannels]atomic.Uint32
	numChannels   atomic.Int32

	// Library management.
	libMu     sync.Mutex
	watchOn   bool
	watchOpts [2]time.Duration
	watcher   *watch.Watcher
	watchStop context.CancelFunc
	closeOnce sync.Once
}

// New creates a Host around l. The loader's prepare hook is taken over so
// every new module is prepared with the host's current settings before it
// becomes reachable from Process.
func New(l *loader.Loader, opts Options) *Host {
	inbox := opts.InboxCapacity
	if inbox <= 0 {
		inbox = DefaultInboxCapacity
	}
	h := &Host{
		loader:        l,
		params:        abi.NewParamFIFO(opts.ParamCapacity),
		midi:          abi.NewMidiFIFO(opts.MidiCapacity),
		inbox:         fifo.New[midiPacket](inbox),
		buffer:        abi.NewBuffer(nil, 0),
		layout:        opts.Layout,
		store:         opts.Store,
		tap:           opts.Tap,
		inputChannels: max(opts.InputChannels, 0),
		watchOn:       opts.Watch,
		watchOpts:     [2]time.Duration{opts.PollInterval, opts.Debounce},
	}
	h.strict.Store(opts.StrictMidi)
	h.sampleRate.Store(math.Float32bits(44100))
	h.blockSize.Store(512)
	l.SetPrepare(h.prepareProcessor)
	h.restoreParameters()
	return h
}

// restoreParameters seeds the layout with values saved by an earlier
// session.
func (h *Host) restoreParameters() {
	ps, ok := h.store.(state.ParameterStore)
	if !ok {
		return
	}
	for _, p := range h.layout.Parameters() {
		if v, ok := ps.Parameter(p.ID); ok {
			h.layout.Set(p.ID, v)
		}
	}
}

// SaveParameters writes the current layout values to the store, when the
// store keeps parameters.
func (h *Host) SaveParameters() error {
	ps, ok := h.store.(state.ParameterStore)
	if !ok || h.layout.Len() == 0 {
		return nil
	}
	values := make(map[int32]float32, h.layout.Len())
	for _, p := range h.layout.Parameters() {
		if v, ok := h.layout.Value(p.ID); ok {
			values[p.ID] = v
		}
	}
	return ps.SetParameters(values)
}

// Loader returns the underlying loader.
func (h *Host) Loader() *loader.Loader { return h.loader }

// Layout returns the parameter layout, which may be nil.
func (h *Host) Layout() *params.Layout { return h.layout }

// SetStrictMidi toggles panicking on malformed MIDI packets.
func (h *Host) SetStrictMidi(strict bool) { h.strict.Store(strict) }

// --- Producers ---

// PushMidiPacket queues a raw MIDI packet for the next block. It is safe
// from any goroutine and returns false when the inbox is full.
func (h *Host) PushMidiPacket(b []byte) bool {
	var p midiPacket
	p.size = int32(len(b))
	copy(p.data[:], b)
	if !h.inbox.Push(p) {
		h.droppedMidi.Add(1)
		return false
	}
	return true
}

// PushParameter queues a raw parameter message.
func (h *Host) PushParameter(msg abi.ParamMessage) bool {
	if !h.params.Push(msg) {
		h.droppedParams.Add(1)
		return false
	}
	return true
}

// SetParameter records a normalized control value and queues the raw
// value the layout maps it to. Ids outside the layout pass through as is.
func (h *Host) SetParameter(id int32, normalized float32) bool {
	raw, ok := h.layout.Convert(id, normalized)
	if ok {
		h.layout.Set(id, normalized)
	}
	return h.PushParameter(abi.ParamMessage{ID: id, Value: raw})
}

// ResetParameters pushes every layout parameter, either at its default or
// at its current value.
func (h *Host) ResetParameters(useDefaults bool) {
	for _, p := range h.layout.Parameters() {
		v, _ := h.layout.Value(p.ID)
		if useDefaults {
			v = p.DefaultNormalized()
		}
		h.SetParameter(p.ID, v)
	}
}

// --- Audio thread ---

// Process renders one block into out. Every channel holds at least
// numSamples samples.
func (h *Host) Process(out [][]float32, numSamples int) {
	h.drainInbox()

	h.buffer.Reset(out, numSamples)
	for ch := h.inputChannels; ch < h.buffer.NumChannels(); ch++ {
		clear(h.buffer.Channel(ch))
	}

	if !h.render() {
		h.buffer.Clear()
		h.silentBlocks.Add(1)
	}

	// Parameters never outlive their block, played or not.
	if n := h.params.Drain(); n > 0 {
		h.staleParams.Add(uint64(n))
	}

	h.meter()
	if h.tap != nil {
		h.tap.WriteBlock(out, numSamples)
	}
	h.blocks.Add(1)
}

// render runs the live processor on the current block. It reports false
// when audio is suspended or nothing is loaded.
func (h *Host) render() bool {
	proc := h.loader.Acquire()
	if proc == nil {
		return false
	}
	defer h.loader.Release()
	proc.Process(h.buffer, h.params, h.midi)
	return true
}

func (h *Host) drainInbox() {
	for h.inbox.Pop(&h.pkt) {
		if !h.decode(&h.pkt, &h.event) {
			continue
		}
		if !h.midi.Push(h.event) {
			h.droppedMidi.Add(1)
		}
	}
}

// decode turns a packet into an event. Empty packets are dropped.
func (h *Host) decode(p *midiPacket, ev *abi.MidiEvent) bool {
	if p.size <= 0 {
		return false
	}
	if p.size > abi.MaxMidiPacketSize {
		if h.strict.Load() {
			panic(fmt.Sprintf("host: MIDI packet of %d bytes, at most %d allowed", p.size, abi.MaxMidiPacketSize))
		}
		h.malformedMidi.Add(1)
	}
	var b [abi.MaxMidiPacketSize]byte
	copy(b[:], p.data[:min(int(p.size), abi.MaxMidiPacketSize)])
	*ev = abi.DecodeMidi(b[0], b[1], b[2])
	return true
}

func (h *Host) meter() {
	n := h.buffer.NumChannels()
	if n > MaxMeterChannels {
		n = MaxMeterChannels
	}
	for ch := 0; ch < n; ch++ {
		var peak float32
		for _, s := range h.buffer.Channel(ch) {
			peak = max(peak, float32(math.Abs(float64(s))))
		}
		h.peaks[ch].Store(math.Float32bits(peak))
	}
	h.numChannels.Store(int32(n))
}

// --- Control threads ---

// PrepareToPlay records the stream settings and prepares the live module.
func (h *Host) PrepareToPlay(sampleRate float32, blockSize int) {
	h.sampleRate.Store(math.Float32bits(sampleRate))
	h.blockSize.Store(int32(blockSize))
	h.loader.WithProcessor(h.prepareProcessor)
}

func (h *Host) prepareProcessor(p abi.Processor) {
	p.PrepareToPlay(math.Float32frombits(h.sampleRate.Load()), int(h.blockSize.Load()))
}

// SetNewLibrary loads path, prepares it, pushes the current parameter
// values and, when watching is on, reloads it whenever it is rebuilt.
func (h *Host) SetNewLibrary(path string) error {
	h.libMu.Lock()
	defer h.libMu.Unlock()

	if err := h.loader.Load(path); err != nil {
		return err
	}
	h.ResetParameters(false)
	if h.watchOn {
		h.watchLocked(path)
	}
	return nil
}

// LoadProject finds the library a project directory builds, loads it and
// remembers the directory.
func (h *Host) LoadProject(dir string) error {
	path, err := loader.FindLibrary(dir, loader.Extension())
	if err != nil {
		return err
	}
	if err := h.SetNewLibrary(path); err != nil {
		return err
	}
	if h.store != nil {
		abs, _ := filepath.Abs(dir)
		if err := h.store.SetLastLibraryDir(abs); err != nil {
			log.Warnf("Host: unable to save state: %v", err)
		}
	}
	return nil
}

// RestoreState loads the library of the last project recorded in store.
// It does nothing when no project was recorded.
func (h *Host) RestoreState(store state.Store) error {
	if store == nil {
		store = h.store
	}
	if store == nil {
		return nil
	}
	dir := store.LastLibraryDir()
	if dir == "" {
		return nil
	}
	log.Infof("Host: restoring project %s", dir)
	path, err := loader.FindLibrary(dir, loader.Extension())
	if err != nil {
		return fmt.Errorf("restore %s: %w", dir, err)
	}
	return h.SetNewLibrary(path)
}

// ReloadLibrary reloads the last library from disk.
func (h *Host) ReloadLibrary() error {
	h.libMu.Lock()
	defer h.libMu.Unlock()
	if err := h.loader.Reload(); err != nil {
		return err
	}
	h.ResetParameters(false)
	return nil
}

// UnloadLibrary unloads the module. Audio continues as silence.
func (h *Host) UnloadLibrary() error {
	h.libMu.Lock()
	defer h.libMu.Unlock()
	return h.loader.Unload()
}

func (h *Host) watchLocked(path string) {
	if h.watcher != nil {
		if !h.watcher.SetFile(path) {
			log.Warnf("Host: cannot watch %s", path)
		}
		return
	}
	h.watcher = watch.New(path, h.watchOpts[0], h.watchOpts[1], func() {
		if err := h.ReloadLibrary(); err != nil {
			log.Errorf("Host: reload after rebuild failed: %v", err)
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.watchStop = cancel
	h.watcher.Start(ctx)
}

// Watcher returns the active file watcher, or nil.
func (h *Host) Watcher() *watch.Watcher {
	h.libMu.Lock()
	defer h.libMu.Unlock()
	return h.watcher
}

// Close stops the watcher and unloads the module.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		// The watcher callback takes libMu, so it is stopped outside the lock.
		h.libMu.Lock()
		w, stop := h.watcher, h.watchStop
		h.watcher, h.watchStop = nil, nil
		h.watchOn = false
		h.libMu.Unlock()
		if w != nil {
			stop()
			w.Stop()
		}
		err = h.loader.Close()
	})
	return err
}
