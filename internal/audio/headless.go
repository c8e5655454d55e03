// SPDX-License-Identifier: MIT
package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"hotswap/internal/log"
)

// HeadlessBackend clocks blocks from a ticker without any audio device.
type HeadlessBackend struct {
	settings Settings
	proc     BlockProcessor
	interval time.Duration
	channels [][]float32

	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	blocks atomic.Uint64
}

// NewHeadlessBackend ticks once per block duration.
func NewHeadlessBackend(s Settings, proc BlockProcessor) *HeadlessBackend {
	return &HeadlessBackend{
		settings: s,
		proc:     proc,
		interval: s.BlockDuration(),
		channels: newChannels(s.OutputChannels, s.FramesPerBuffer),
	}
}

// SetInterval overrides the clock. It takes effect on the next Start.
func (b *HeadlessBackend) SetInterval(d time.Duration) {
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
}

func (b *HeadlessBackend) Name() string { return "headless" }

// Blocks returns the number of rendered blocks.
func (b *HeadlessBackend) Blocks() uint64 { return b.blocks.Load() }

// Output returns the buffers of the last block. Only read it while stopped.
func (b *HeadlessBackend) Output() [][]float32 { return b.channels }

func (b *HeadlessBackend) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.doneChan = make(chan struct{})
	b.stopOnce = sync.Once{}
	doneChan := b.doneChan
	interval := b.interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	b.mu.Unlock()

	prepare(b.settings, b.proc)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.RenderBlock()
			case <-doneChan:
				return
			}
		}
	}()
	log.Infof("Headless: clocking %d-frame blocks every %s", b.settings.FramesPerBuffer, interval)
	return nil
}

// RenderBlock renders one block synchronously.
func (b *HeadlessBackend) RenderBlock() {
	render(&b.settings, b.proc, b.channels, b.settings.FramesPerBuffer)
	b.blocks.Add(1)
}

func (b *HeadlessBackend) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.stopOnce.Do(func() { close(b.doneChan) })
	b.running = false
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *HeadlessBackend) Close() error { return b.Stop() }

var _ Backend = (*HeadlessBackend)(nil)
