// SPDX-License-Identifier: MIT
/*
Package loader owns the lifecycle of the currently loaded processor module:
load, unload, hot-swap and status reporting.

Swap Protocol:
  - The suspend flag is raised before the module slot is touched.
  - The loader then waits for any in-flight audio callback to leave the
    processor (Acquire/Release bracket the callback's use of it).
  - The old module is fully retired (destroy, close, delete copy) before
    the new one is opened. Two instances never coexist.
  - The new instance is prepared and published, then the flag is cleared.

Only the audio thread calls Acquire/Release, Status and Suspended. Every
other method may block and allocate, and is serialized internally.
*/
package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"hotswap/internal/abi"
	"hotswap/internal/log"
)

// State is the loader's position in the Unloaded/Loaded/Swapping machine.
type State int32

const (
	Unloaded State = iota
	Loaded
	Swapping
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Swapping:
		return "swapping"
	default:
		return "unknown"
	}
}

// module is one live library: handle, instance and private copy, owned as a unit.
type module struct {
	lib      Library
	proc     abi.Processor
	source   string // library the copy was taken from
	tempPath string
}

// Loader loads, swaps and unloads processor libraries.
type Loader struct {
	// Swap serialization. Never taken by the audio thread.
	mu sync.Mutex

	opener     Opener
	tempSuffix string
	prepare    func(abi.Processor)
	quiesce    time.Duration

	// Hot path state.
	suspend atomic.Bool
	active  atomic.Int32
	loaded  atomic.Bool
	state   atomic.Int32
	current atomic.Pointer[module]

	generation atomic.Uint64

	// Reporting state for presentation layers.
	infoMu   sync.RWMutex
	lastPath string
	tempPath string
	lastErr  error
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the platform dynamic loader.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithABIConstraint sets the semver constraint a native module's ABI
// version must satisfy. It only applies to the default native opener.
func WithABIConstraint(constraint string) Option {
	return func(l *Loader) {
		if n, ok := l.opener.(*NativeOpener); ok {
			n.ABIConstraint = constraint
		}
	}
}

// WithTempSuffix changes the suffix used for the private library copy.
func WithTempSuffix(suffix string) Option {
	return func(l *Loader) { l.tempSuffix = suffix }
}

// WithPrepare registers a hook run on every new instance while audio is
// still suspended, so the first Process call always sees a prepared module.
func WithPrepare(fn func(abi.Processor)) Option {
	return func(l *Loader) { l.prepare = fn }
}

// New creates an unloaded Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		opener:     &NativeOpener{ABIConstraint: DefaultABIConstraint},
		tempSuffix: DefaultTempSuffix,
		quiesce:    50 * time.Microsecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.state.Store(int32(Unloaded))
	return l
}

// SetPrepare replaces the prepare hook.
func (l *Loader) SetPrepare(fn func(abi.Processor)) {
	l.mu.Lock()
	l.prepare = fn
	l.mu.Unlock()
}

// --- Audio thread API ---

// Acquire returns the current processor for one callback, or nil when
// audio is suspended or nothing is loaded. A non-nil result must be paired
// with Release once the callback is done with it.
func (l *Loader) Acquire() abi.Processor {
	l.active.Add(1)
	if l.suspend.Load() {
		l.active.Add(-1)
		return nil
	}
	m := l.current.Load()
	if m == nil {
		l.active.Add(-1)
		return nil
	}
	return m.proc
}

// Processor returns the live instance or nil. The audio thread must use
// Acquire instead; this is for inspection while audio is stopped.
func (l *Loader) Processor() abi.Processor {
	if m := l.current.Load(); m != nil {
		return m.proc
	}
	return nil
}

// Release ends the use of a processor returned by Acquire.
func (l *Loader) Release() {
	l.active.Add(-1)
}

// Suspended reports whether a swap is in progress.
func (l *Loader) Suspended() bool {
	return l.suspend.Load()
}

// Status reports whether a module is currently loaded.
func (l *Loader) Status() bool {
	return l.loaded.Load()
}

// State returns the current state machine position.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Generation counts successful loads since the Loader was created.
func (l *Loader) Generation() uint64 {
	return l.generation.Load()
}

// --- Control API ---

// Load swaps in the library at path. A missing file leaves the current
// module untouched. Any later failure leaves the loader Unloaded.
func (l *Loader) Load(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		err = fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
		log.Errorf("Loader: unable to locate %s", path)
		l.setError(err)
		return err
	}
	log.Infof("Loader: library found, last modified %s", info.ModTime().Format(time.RFC3339))

	l.suspendAudio()
	defer l.resumeAudio()

	return l.swapLocked(path)
}

// Unload retires the current module. It is a no-op when nothing is loaded.
func (l *Loader) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current.Load() == nil {
		return nil
	}

	l.suspendAudio()
	defer l.resumeAudio()

	return l.unloadLocked()
}

// Reload unloads the current module and loads the last loaded library
// again, typically after it was rebuilt in place.
func (l *Loader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.LastPath()
	if path == "" {
		return ErrNothingLoaded
	}

	l.suspendAudio()
	defer l.resumeAudio()

	if _, err := os.Stat(path); err != nil {
		uerr := l.unloadLocked()
		err = fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
		log.Errorf("Loader: unable to locate %s for reload", path)
		err = errors.Join(err, uerr)
		l.setError(err)
		return err
	}
	return l.swapLocked(path)
}

// WithProcessor runs fn on the current processor while audio is suspended.
// It returns false when nothing is loaded.
func (l *Loader) WithProcessor(fn func(abi.Processor)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.current.Load()
	if m == nil {
		return false
	}

	l.suspendAudio()
	defer l.resumeAudio()

	fn(m.proc)
	return true
}

// Close unloads the current module.
func (l *Loader) Close() error {
	return l.Unload()
}

// LastPath returns the source path of the last successful load.
func (l *Loader) LastPath() string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.lastPath
}

// TempPath returns the private copy of the live module, or "" if none.
func (l *Loader) TempPath() string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.tempPath
}

// LastError returns the error of the most recent failed operation, cleared
// by the next successful load.
func (l *Loader) LastError() error {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.lastErr
}

// --- internals, called with mu held ---

// suspendAudio raises the suspend flag and waits until no callback is
// inside the processor.
func (l *Loader) suspendAudio() {
	l.suspend.Store(true)
	for l.active.Load() > 0 {
		time.Sleep(l.quiesce)
	}
}

func (l *Loader) resumeAudio() {
	l.suspend.Store(false)
}

// swapLocked retires the current module and loads path. A failure to close
// the old module is returned alongside a failed load, and only logged when
// the new module came up.
func (l *Loader) swapLocked(path string) error {
	uerr := l.unloadLocked()
	if err := l.loadLocked(path); err != nil {
		err = errors.Join(err, uerr)
		l.setError(err)
		return err
	}
	if uerr != nil {
		log.Warnf("Loader: previous module did not unload cleanly: %v", uerr)
	}
	return nil
}

func (l *Loader) loadLocked(path string) error {
	l.state.Store(int32(Swapping))

	tempPath := TempPath(path, l.tempSuffix)
	if err := copyFile(path, tempPath); err != nil {
		return l.fail(fmt.Errorf("copy %s to %s: %w", path, tempPath, err), nil, tempPath)
	}

	lib, err := l.opener.Open(tempPath)
	if err != nil {
		if !errors.Is(err, ErrOpenFailed) {
			err = fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		return l.fail(err, nil, tempPath)
	}

	factory, err := lib.Lookup(abi.FactorySymbol)
	if err != nil {
		if !errors.Is(err, ErrSymbolResolutionFailed) {
			err = fmt.Errorf("%w: %w", ErrSymbolResolutionFailed, err)
		}
		return l.fail(err, lib, tempPath)
	}

	proc, err := factory()
	if err == nil && proc == nil {
		err = ErrFactoryFailed
	}
	if err != nil {
		if !errors.Is(err, ErrFactoryFailed) && !errors.Is(err, ErrIncompatibleABI) {
			err = fmt.Errorf("%w: %w", ErrFactoryFailed, err)
		}
		return l.fail(err, lib, tempPath)
	}

	if l.prepare != nil {
		l.prepare(proc)
	}

	l.current.Store(&module{lib: lib, proc: proc, source: path, tempPath: tempPath})
	l.loaded.Store(true)
	l.state.Store(int32(Loaded))
	gen := l.generation.Add(1)

	l.infoMu.Lock()
	l.lastPath = path
	l.tempPath = tempPath
	l.lastErr = nil
	l.infoMu.Unlock()

	log.Infof("Loader: loaded %s (generation %d)", path, gen)
	return nil
}

// fail unwinds a partial load so nothing half-built stays reachable.
func (l *Loader) fail(err error, lib Library, tempPath string) error {
	if lib != nil {
		if cerr := lib.Close(); cerr != nil {
			log.Warnf("Loader: closing failed library: %v", cerr)
		}
	}
	removeTemp(tempPath)

	l.current.Store(nil)
	l.loaded.Store(false)
	l.state.Store(int32(Unloaded))
	l.setError(err)

	log.Errorf("Loader: %v", err)
	return err
}

func (l *Loader) unloadLocked() error {
	m := l.current.Load()
	if m == nil {
		return nil
	}

	l.state.Store(int32(Swapping))

	// The slot is emptied first so nothing can reach the instance
	// while it is being destroyed.
	l.current.Store(nil)
	l.loaded.Store(false)

	if d, ok := m.proc.(abi.Destroyer); ok {
		d.Destroy()
	}
	m.proc = nil

	var err error
	if cerr := m.lib.Close(); cerr != nil {
		err = fmt.Errorf("close %s: %w", m.tempPath, cerr)
		log.Errorf("Loader: %v", err)
		l.setError(err)
	}
	removeTemp(m.tempPath)

	l.infoMu.Lock()
	l.tempPath = ""
	l.infoMu.Unlock()

	l.state.Store(int32(Unloaded))
	log.Infof("Loader: unloaded %s", m.source)
	return err
}

func (l *Loader) setError(err error) {
	l.infoMu.Lock()
	l.lastErr = err
	l.infoMu.Unlock()
}

// copyFile copies src over dst, replacing any stale copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("Loader: unable to delete %s: %v", path, err)
	}
}
