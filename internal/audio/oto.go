// SPDX-License-Identifier: MIT
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"hotswap/internal/log"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// OtoBackend plays through oto, which pulls interleaved float32 samples
// from an io.Reader on its own goroutine.
type OtoBackend struct {
	settings Settings
	player   *oto.Player
	reader   *blockReader
	mu       sync.Mutex
}

// NewOtoBackend creates the oto context on first use.
func NewOtoBackend(s Settings, proc BlockProcessor) (*OtoBackend, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(s.SampleRate),
			ChannelCount: s.OutputChannels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   2 * s.BlockDuration(),
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", otoErr)
	}

	r := newBlockReader(s, proc)
	return &OtoBackend{
		settings: s,
		player:   otoCtx.NewPlayer(r),
		reader:   r,
	}, nil
}

func (b *OtoBackend) Name() string { return "oto" }

func (b *OtoBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.player.IsPlaying() {
		return nil
	}
	prepare(b.settings, b.reader.proc)
	b.player.Play()
	log.Infof("Oto: playing (%.0f Hz, %d channels, block %s)",
		b.settings.SampleRate, b.settings.OutputChannels, b.settings.BlockDuration().Round(time.Microsecond))
	return nil
}

func (b *OtoBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.player.Pause()
	return nil
}

func (b *OtoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.player.Close()
}

// blockReader renders blocks on demand and serves them as interleaved
// little-endian float32 bytes.
type blockReader struct {
	settings Settings
	proc     BlockProcessor
	channels [][]float32
	bytes    []byte
	pending  []byte
}

func newBlockReader(s Settings, proc BlockProcessor) *blockReader {
	return &blockReader{
		settings: s,
		proc:     proc,
		channels: newChannels(s.OutputChannels, s.FramesPerBuffer),
		bytes:    make([]byte, s.FramesPerBuffer*s.OutputChannels*4),
	}
}

func (r *blockReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			r.renderBlock()
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}

func (r *blockReader) renderBlock() {
	frames := r.settings.FramesPerBuffer
	render(&r.settings, r.proc, r.channels, frames)
	interleaveFloat32LE(r.bytes, r.channels, frames)
	r.pending = r.bytes
}

// interleaveFloat32LE writes frames of planar audio into dst as
// interleaved little-endian float32.
func interleaveFloat32LE(dst []byte, channels [][]float32, frames int) {
	nch := len(channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < nch; ch++ {
			off := (i*nch + ch) * 4
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(channels[ch][i]))
		}
	}
}

var _ Backend = (*OtoBackend)(nil)
