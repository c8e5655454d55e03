// SPDX-License-Identifier: MIT

// Package watch reports when a library file on disk has been rebuilt.
//
// The modification time is polled on a ticker. Where the platform supports
// it, fsnotify events on the parent directory trigger an extra check right
// away, so a rebuild is usually noticed long before the next tick. Every
// detected change arms a debounce timer; the callback runs once the file has
// been quiet for the debounce period and still exists.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hotswap/internal/log"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDebounce     = 100 * time.Millisecond
)

// WatchState is the watcher's view of the tracked file.
type WatchState struct {
	Path         string
	LastModified time.Time
	PollInterval time.Duration
}

// Watcher tracks one file. The change callback always runs on the watcher's
// own goroutine.
type Watcher struct {
	mu       sync.Mutex
	state    WatchState
	debounce time.Duration
	onChange func()

	fs         *fsnotify.Watcher
	watchedDir string
	retarget   chan struct{}

	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  bool
}

// New creates a stopped Watcher for path. Non-positive durations select
// the defaults.
func New(path string, interval, debounce time.Duration, onChange func()) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if debounce < 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		state:    WatchState{Path: path, PollInterval: interval},
		debounce: debounce,
		onChange: onChange,
		retarget: make(chan struct{}, 1),
	}
	w.state.LastModified = modTime(path)
	return w
}

// Start launches the watch goroutine. It stops when ctx is cancelled or
// Stop is called. Starting a running Watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Warnf("Watcher: Start called but already running")
		return nil
	}
	w.running = true
	w.doneChan = make(chan struct{})
	w.stopOnce = sync.Once{}
	doneChan := w.doneChan
	interval := w.state.PollInterval

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("Watcher: fsnotify unavailable, polling only: %v", err)
		fsw = nil
	}
	w.fs = fsw
	w.watchDirLocked()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx, doneChan, interval)
	log.Infof("Watcher: watching %s every %s", w.State().Path, interval)
	return nil
}

// Stop halts the watch goroutine and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.stopOnce.Do(func() { close(w.doneChan) })
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// SetFile switches the watcher to path. It returns false and keeps the
// current target if path is not an existing file.
func (w *Watcher) SetFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	w.mu.Lock()
	w.state.Path = path
	w.state.LastModified = info.ModTime()
	if w.running {
		w.watchDirLocked()
	}
	w.mu.Unlock()

	select {
	case w.retarget <- struct{}{}:
	default:
	}
	log.Debugf("Watcher: now tracking %s", path)
	return true
}

// State returns a snapshot of the tracked file.
func (w *Watcher) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) loop(ctx context.Context, doneChan chan struct{}, interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	w.mu.Lock()
	fsw := w.fs
	w.mu.Unlock()
	if fsw != nil {
		events = fsw.Events
		errs = fsw.Errors
	}

	defer func() {
		w.mu.Lock()
		if w.fs != nil {
			w.fs.Close()
			w.fs = nil
		}
		w.watchedDir = ""
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-doneChan:
			return
		case <-ticker.C:
			if w.check() {
				debounce.Reset(w.debounce)
			}
		case <-w.retarget:
			// A new target has a fresh baseline; pending changes belong to the old file.
			debounce.Stop()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == filepath.Base(w.State().Path) && w.check() {
				debounce.Reset(w.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warnf("Watcher: fsnotify error: %v", err)
		case <-debounce.C:
			path := w.State().Path
			if _, err := os.Stat(path); err != nil {
				log.Debugf("Watcher: %s changed but is gone, ignoring", path)
				continue
			}
			log.Infof("Watcher: %s changed", path)
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// check compares the file's modification time with the last one seen and
// records the new one. A missing file reads as the zero time.
func (w *Watcher) check() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	mt := modTime(w.state.Path)
	if mt.Equal(w.state.LastModified) {
		return false
	}
	w.state.LastModified = mt
	return true
}

// watchDirLocked points fsnotify at the directory of the current path.
func (w *Watcher) watchDirLocked() {
	if w.fs == nil {
		return
	}
	dir := filepath.Dir(w.state.Path)
	if dir == w.watchedDir {
		return
	}
	if w.watchedDir != "" {
		w.fs.Remove(w.watchedDir)
	}
	if err := w.fs.Add(dir); err != nil {
		log.Warnf("Watcher: cannot subscribe to %s, polling only: %v", dir, err)
		w.watchedDir = ""
		return
	}
	w.watchedDir = dir
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
