// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"hotswap/internal/log"
	"hotswap/pkg/fifo"
)

// recordBlock is one interleaved block in flight to the writer.
type recordBlock struct {
	data   []float32
	frames int
}

// Recorder writes processed output to WAV. The audio thread copies each
// block into a pooled buffer and hands it to a writer goroutine through a
// lock-free queue; when the pool runs dry the block is dropped and counted.
type Recorder struct {
	sampleRate int
	channels   int
	frames     int
	bitDepth   int

	free *fifo.Queue[*recordBlock]
	full *fifo.Queue[*recordBlock]

	isRecording int32 // Atomic flag for thread-safe state
	dropped     atomic.Uint64
	written     atomic.Uint64

	mu         sync.Mutex
	outputFile *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer
	doneChan   chan struct{}
	wg         sync.WaitGroup
}

// NewRecorder preallocates a pool of blocks buffers, each holding
// frames×channels samples.
func NewRecorder(sampleRate, channels, frames, bitDepth, blocks int) *Recorder {
	if blocks <= 0 {
		blocks = 64
	}
	r := &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		frames:     frames,
		bitDepth:   bitDepth,
		free:       fifo.New[*recordBlock](blocks),
		full:       fifo.New[*recordBlock](blocks),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, frames*channels),
			SourceBitDepth: bitDepth,
		},
	}
	for i := 0; i < blocks; i++ {
		r.free.Push(&recordBlock{data: make([]float32, frames*channels)})
	}
	return r
}

// RecordingPath returns a timestamped file name inside dir.
func RecordingPath(dir string, t time.Time) string {
	return filepath.Join(dir, "hotswap-"+t.Format("20060102-150405")+".wav")
}

// IsRecording reports whether blocks are being captured.
func (r *Recorder) IsRecording() bool {
	return atomic.LoadInt32(&r.isRecording) == 1
}

// Dropped counts blocks lost because the writer fell behind.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written counts blocks encoded to the current or last file.
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsRecording() {
		return fmt.Errorf("already recording")
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, r.channels, 1)

	// Blocks left over from an earlier run go back to the pool.
	var b *recordBlock
	for r.full.Pop(&b) {
		r.free.Push(b)
	}
	r.written.Store(0)

	r.doneChan = make(chan struct{})
	r.wg.Add(1)
	go r.writeLoop(r.doneChan)

	atomic.StoreInt32(&r.isRecording, 1)
	log.Infof("Recorder: writing %s (%d Hz, %d-bit, %d channels)", filename, r.sampleRate, r.bitDepth, r.channels)
	return nil
}

// WriteBlock captures one block. It runs on the audio thread.
func (r *Recorder) WriteBlock(out [][]float32, numSamples int) {
	if atomic.LoadInt32(&r.isRecording) == 0 {
		return
	}
	var b *recordBlock
	if !r.free.Pop(&b) {
		r.dropped.Add(1)
		return
	}
	frames := min(numSamples, r.frames)
	nch := min(len(out), r.channels)
	for i := 0; i < frames; i++ {
		base := i * r.channels
		for ch := 0; ch < r.channels; ch++ {
			if ch < nch {
				b.data[base+ch] = out[ch][i]
			} else {
				b.data[base+ch] = 0
			}
		}
	}
	b.frames = frames
	r.full.Push(b)
}

func (r *Recorder) writeLoop(done chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-done:
			r.flush()
			return
		}
	}
}

// flush encodes every queued block.
func (r *Recorder) flush() {
	scale := float64(int64(1)<<(r.bitDepth-1) - 1)
	var b *recordBlock
	for r.full.Pop(&b) {
		n := b.frames * r.channels
		for i, s := range b.data[:n] {
			s = min(max(s, -1), 1)
			r.sampleBuf.Data[i] = int(float64(s) * scale)
		}
		r.sampleBuf.Data = r.sampleBuf.Data[:n]
		if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
			log.Errorf("Recorder: error writing to WAV file: %v", err)
		} else {
			r.written.Add(1)
		}
		r.sampleBuf.Data = r.sampleBuf.Data[:cap(r.sampleBuf.Data)]
		r.free.Push(b)
	}
}

func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt32(&r.isRecording) == 0 {
		return nil
	}

	atomic.StoreInt32(&r.isRecording, 0)
	close(r.doneChan)
	r.wg.Wait()

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			return err
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			return err
		}
		r.outputFile = nil
	}

	log.Infof("Recorder: stopped (%d blocks written, %d dropped)", r.written.Load(), r.dropped.Load())
	return nil
}

// Close stops any recording in progress.
func (r *Recorder) Close() error {
	return r.StopRecording()
}
