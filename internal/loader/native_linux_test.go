// SPDX-License-Identifier: MIT
package loader_test

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"hotswap/internal/abi"
	"hotswap/internal/loader"
)

// gainModule is a processor that writes gain + 3 per note-on in the block,
// + 0.5 when prepared at 48 kHz, + BIAS. Parameter 1 sets gain.
const gainModule = `
#include <stdlib.h>
#include "hotswap.h"

#ifndef BIAS
#define BIAS 0.0f
#endif
#ifndef VERSION
#define VERSION HS_ABI_VERSION
#endif

typedef struct {
    hs_processor* table;
    float gain;
    float rate;
} gain_state;

static void prepare(void* inst, float sample_rate, int32_t block_size) {
    (void)block_size;
    ((gain_state*)inst)->rate = sample_rate;
}

static void process(void* inst, const hs_buffer* buffer,
                    const hs_fifo* params, const hs_fifo* midi) {
    gain_state* s = inst;
    hs_param_message p;
    hs_midi_message m;
    float notes = 0.0f;

    while (params->pop(params->ctx, &p)) {
        if (p.id == 1) s->gain = p.value;
    }
    while (midi->pop(midi->ctx, &m)) {
        if (m.type == HS_MIDI_NOTE_ON) notes += 3.0f;
    }

    float v = s->gain + notes + (s->rate == 48000.0f ? 0.5f : 0.0f) + BIAS;
    for (int32_t c = 0; c < buffer->num_channels; c++) {
        for (int32_t i = 0; i < buffer->num_samples; i++) {
            buffer->channels[c][i] = v;
        }
    }
}

static void destroy(void* inst) {
    gain_state* s = inst;
    free(s->table);
    free(s);
}

HS_EXPORT hs_processor* createProcessor(void) {
    gain_state* s = calloc(1, sizeof(gain_state));
    hs_processor* t = calloc(1, sizeof(hs_processor));
    s->table = t;
    t->abi_version = VERSION;
    t->instance = s;
    t->prepare_to_play = prepare;
    t->process = process;
    t->destroy = destroy;
    return t;
}
`

func compiler(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no C compiler available")
	return ""
}

// buildModule compiles gainModule into out with the given preprocessor
// definitions.
func buildModule(t *testing.T, cc, out string, defines ...string) {
	t.Helper()
	include, err := filepath.Abs(filepath.Join("..", "..", "abi"))
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "gain.c")
	if err := os.WriteFile(src, []byte(gainModule), 0o644); err != nil {
		t.Fatal(err)
	}
	args := []string{"-shared", "-fPIC", "-O1", "-I", include, "-o", out}
	for _, d := range defines {
		args = append(args, "-D"+d)
	}
	args = append(args, src)
	if b, err := exec.Command(cc, args...).CombinedOutput(); err != nil {
		t.Fatalf("%s %v: %v\n%s", cc, args, err, b)
	}
}

type nativeBlock struct {
	out    [][]float32
	buffer *abi.Buffer
	params *abi.ParamFIFO
	midi   *abi.MidiFIFO
}

func newNativeBlock(channels, samples int) *nativeBlock {
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, samples)
	}
	return &nativeBlock{
		out:    out,
		buffer: abi.NewBuffer(out, samples),
		params: abi.NewParamFIFO(0),
		midi:   abi.NewMidiFIFO(0),
	}
}

// render runs one block through the loaded module and checks it wrote want
// to every sample.
func (b *nativeBlock) render(t *testing.T, l *loader.Loader, want float32) {
	t.Helper()
	proc := l.Acquire()
	if proc == nil {
		t.Fatal("Acquire() = nil with a module loaded")
	}
	proc.Process(b.buffer, b.params, b.midi)
	l.Release()

	for ch, data := range b.out {
		for i, s := range data {
			if s != want {
				t.Fatalf("channel %d sample %d = %v, want %v", ch, i, s, want)
			}
		}
	}
	if b.params.Len() != 0 || b.midi.Len() != 0 {
		t.Errorf("module left %d params and %d midi events queued", b.params.Len(), b.midi.Len())
	}
}

func TestNativeModuleLifecycle(t *testing.T) {
	cc := compiler(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gain"+loader.Extension())
	buildModule(t, cc, path)

	l := loader.New(loader.WithPrepare(func(p abi.Processor) {
		p.PrepareToPlay(48000, 64)
	}))
	t.Cleanup(func() { l.Close() })

	if err := l.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := l.Processor().(*loader.NativeProcessor); !ok {
		t.Fatalf("Processor() = %T, want *loader.NativeProcessor", l.Processor())
	}

	block := newNativeBlock(2, 64)
	block.params.Push(abi.ParamMessage{ID: 1, Value: 2})
	block.params.Push(abi.ParamMessage{ID: 7, Value: 9})
	block.midi.Push(abi.DecodeMidi(0x90, 0x40, 0x7F))
	block.midi.Push(abi.DecodeMidi(0x80, 0x40, 0x00))
	block.render(t, l, 5.5)

	// Gain persists in the instance, notes do not.
	block.render(t, l, 2.5)

	buildModule(t, cc, path, "BIAS=1.0f")
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if l.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", l.Generation())
	}
	block.render(t, l, 1.5)

	for i := 0; i < 10; i++ {
		if err := l.Reload(); err != nil {
			t.Fatalf("Reload() #%d error = %v", i, err)
		}
	}
	if l.Generation() != 12 {
		t.Errorf("Generation() = %d, want 12", l.Generation())
	}
	block.params.Push(abi.ParamMessage{ID: 1, Value: 0.25})
	block.render(t, l, 1.75)

	temp := l.TempPath()
	if temp == "" || !exists(temp) {
		t.Fatalf("temp copy %q missing while loaded", temp)
	}
	if err := l.Unload(); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if exists(temp) {
		t.Error("temp copy not deleted after Unload")
	}
	if l.Status() || l.Acquire() != nil {
		t.Error("module still reachable after Unload")
	}
}

func TestNativeModuleABIMismatch(t *testing.T) {
	cc := compiler(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "future"+loader.Extension())
	buildModule(t, cc, path, fmt.Sprintf("VERSION=0x%x", abi.PackVersion(2, 0, 0)))

	l := loader.New()
	err := l.Load(path)
	if !errors.Is(err, loader.ErrIncompatibleABI) {
		t.Fatalf("Load() error = %v, want ErrIncompatibleABI", err)
	}
	if l.Status() {
		t.Error("incompatible module was published")
	}
	if exists(loader.TempPath(path, loader.DefaultTempSuffix)) {
		t.Error("temp copy of the rejected module was left behind")
	}
}

func TestNativeOpenFailures(t *testing.T) {
	dir := t.TempDir()
	l := loader.New()

	garbage := writeLibrary(t, dir, "garbage"+loader.Extension())
	if err := l.Load(garbage); !errors.Is(err, loader.ErrOpenFailed) {
		t.Errorf("Load(non-library) error = %v, want ErrOpenFailed", err)
	}

	cc := compiler(t)
	empty := filepath.Join(dir, "empty.c")
	if err := os.WriteFile(empty, []byte("int unrelated(void) { return 0; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := filepath.Join(dir, "empty"+loader.Extension())
	if b, err := exec.Command(cc, "-shared", "-fPIC", "-o", lib, empty).CombinedOutput(); err != nil {
		t.Fatalf("%s: %v\n%s", cc, err, b)
	}
	if err := l.Load(lib); !errors.Is(err, loader.ErrSymbolResolutionFailed) {
		t.Errorf("Load(no factory) error = %v, want ErrSymbolResolutionFailed", err)
	}
}
