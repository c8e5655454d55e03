// SPDX-License-Identifier: MIT
package transport

import (
	"sync"
	"time"

	"hotswap/internal/host"
	"hotswap/internal/log"
)

// StatusEvent is the periodic snapshot broadcast to observers.
type StatusEvent struct {
	Type          string    `json:"type"` // always "status"
	Time          time.Time `json:"time"`
	Loaded        bool      `json:"loaded"`
	State         string    `json:"state"`
	Library       string    `json:"library,omitempty"`
	Generation    uint64    `json:"generation"`
	Error         string    `json:"error,omitempty"`
	SampleRate    float32   `json:"sampleRate"`
	BlockSize     int       `json:"blockSize"`
	Blocks        uint64    `json:"blocks"`
	SilentBlocks  uint64    `json:"silentBlocks"`
	DroppedMidi   uint64    `json:"droppedMidi"`
	DroppedParams uint64    `json:"droppedParams"`
	StaleParams   uint64    `json:"staleParams"`
	MalformedMidi uint64    `json:"malformedMidi"`
	Peaks         []float32 `json:"peaks"`
}

// HostStatus returns a status source reading h.
func HostStatus(h *host.Host) func() StatusEvent {
	return func() StatusEvent {
		l := h.Loader()
		st := h.Stats()
		ev := StatusEvent{
			Type:          "status",
			Time:          time.Now(),
			Loaded:        l.Status(),
			State:         l.State().String(),
			Library:       l.LastPath(),
			Generation:    l.Generation(),
			SampleRate:    h.SampleRate(),
			BlockSize:     h.BlockSize(),
			Blocks:        st.Blocks,
			SilentBlocks:  st.SilentBlocks,
			DroppedMidi:   st.DroppedMidi,
			DroppedParams: st.DroppedParams,
			StaleParams:   st.StaleParams,
			MalformedMidi: st.MalformedMidi,
			Peaks:         st.Peaks,
		}
		if err := l.LastError(); err != nil {
			ev.Error = err.Error()
		}
		return ev
	}
}

// StatusPublisher sends a fresh StatusEvent to every transport on each tick.
type StatusPublisher struct {
	source     func() StatusEvent
	transports []Transport
	interval   time.Duration

	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewStatusPublisher defaults to 250ms when interval is not positive.
func NewStatusPublisher(interval time.Duration, source func() StatusEvent, transports ...Transport) *StatusPublisher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &StatusPublisher{source: source, transports: transports, interval: interval}
}

func (p *StatusPublisher) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Publish sends one event immediately.
func (p *StatusPublisher) Publish() {
	ev := p.source()
	for _, t := range p.transports {
		if err := t.Send(ev); err != nil {
			log.Debugf("StatusPublisher: send failed: %v", err)
		}
	}
}

func (p *StatusPublisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() { close(p.doneChan) })
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Close stops publishing. The transports are owned by the caller.
func (p *StatusPublisher) Close() error {
	return p.Stop()
}

var _ Controller = (*host.Host)(nil)
