// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hotswap/internal/host"
	"hotswap/internal/loader"
	"hotswap/internal/loader/loadertest"
	"hotswap/pkg/utils"
)

type fakeController struct {
	mu       sync.Mutex
	params   map[int32]float32
	midi     [][]byte
	loaded   []string
	projects []string
	reloads  int
	unloads  int
	resets   int
	full     bool
	err      error
}

func newFakeController() *fakeController {
	return &fakeController{params: make(map[int32]float32)}
}

func (f *fakeController) SetParameter(id int32, v float32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.params[id] = v
	return true
}

func (f *fakeController) PushMidiPacket(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.midi = append(f.midi, append([]byte(nil), b...))
	return !f.full
}

func (f *fakeController) ResetParameters(bool) {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeController) SetNewLibrary(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, path)
	return f.err
}

func (f *fakeController) LoadProject(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, dir)
	return f.err
}

func (f *fakeController) ReloadLibrary() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.err
}

func (f *fakeController) UnloadLibrary() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	return f.err
}

func TestDispatch(t *testing.T) {
	dir := t.TempDir()
	c := newFakeController()

	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"param", Command{Type: CommandParam, ID: 2, Value: 0.5}, false},
		{"param out of range", Command{Type: CommandParam, ID: 2, Value: 1.5}, true},
		{"midi", Command{Type: CommandMidi, Data: []int{0x90, 60, 127}}, false},
		{"midi empty", Command{Type: CommandMidi}, true},
		{"midi bad byte", Command{Type: CommandMidi, Data: []int{0x90, 300}}, true},
		{"reset", Command{Type: CommandReset}, false},
		{"load file", Command{Type: CommandLoad, Path: "/tmp/gain.so"}, false},
		{"load project", Command{Type: CommandLoad, Path: dir}, false},
		{"load without path", Command{Type: CommandLoad}, true},
		{"reload", Command{Type: CommandReload}, false},
		{"unload", Command{Type: CommandUnload}, false},
		{"unknown", Command{Type: "explode"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Dispatch(c, tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Errorf("Dispatch(%+v) error = %v, wantErr %v", tt.cmd, err, tt.wantErr)
			}
		})
	}

	if c.params[2] != 0.5 {
		t.Errorf("param 2 = %v", c.params[2])
	}
	if len(c.midi) != 1 || c.midi[0][0] != 0x90 {
		t.Errorf("midi = %v", c.midi)
	}
	if len(c.loaded) != 1 || len(c.projects) != 1 || c.projects[0] != dir {
		t.Errorf("loaded = %v, projects = %v", c.loaded, c.projects)
	}
	if c.reloads != 1 || c.unloads != 1 || c.resets != 1 {
		t.Errorf("reloads=%d unloads=%d resets=%d", c.reloads, c.unloads, c.resets)
	}

	c.full = true
	if err := Dispatch(c, Command{Type: CommandParam, ID: 1}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("full queue: err = %v", err)
	}
	if err := Dispatch(nil, Command{Type: CommandReload}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("nil controller: err = %v", err)
	}
	if err := Dispatch(c, Command{Type: "x"}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown: err = %v", err)
	}
}

func dialTest(t *testing.T, s *WebSocketServer) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestWebSocketCommands(t *testing.T) {
	c := newFakeController()
	s := NewWebSocketServer("127.0.0.1:0", c)
	defer s.Close()
	conn := dialTest(t, s)

	if err := conn.WriteJSON(Command{Type: CommandParam, ID: 3, Value: 0.25}); err != nil {
		t.Fatal(err)
	}
	var r Reply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatal(err)
	}
	if r.Type != "ack" || r.Command != CommandParam {
		t.Errorf("reply = %+v", r)
	}

	c.mu.Lock()
	c.err = errors.New("boom")
	c.mu.Unlock()
	conn.WriteJSON(Command{Type: CommandReload})
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatal(err)
	}
	if r.Type != "error" || r.Error != "boom" {
		t.Errorf("reply = %+v", r)
	}

	// Malformed input is answered, not fatal to the connection.
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatal(err)
	}
	if r.Type != "error" {
		t.Errorf("reply = %+v", r)
	}
	if s.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", s.ClientCount())
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s := NewWebSocketServer("127.0.0.1:0", nil)
	defer s.Close()
	conn := dialTest(t, s)

	// A round trip guarantees the client is registered.
	conn.WriteJSON(Command{Type: CommandReload})
	var r Reply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatal(err)
	}
	if r.Type != "error" || !strings.Contains(r.Error, "disabled") {
		t.Errorf("read-only reply = %+v", r)
	}

	pub := NewStatusPublisher(time.Hour, func() StatusEvent {
		return StatusEvent{Type: "status", State: "loaded", Generation: 4}
	}, s, NewLoggingTransport())
	pub.Publish()

	var ev StatusEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "status" || ev.State != "loaded" || ev.Generation != 4 {
		t.Errorf("event = %+v", ev)
	}

	s.Close()
	if err := s.Send(ev); err == nil {
		t.Error("Send after Close succeeded")
	}
}

func TestWebSocketStart(t *testing.T) {
	s := NewWebSocketServer("127.0.0.1:0", nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if strings.HasSuffix(s.Addr(), ":0") {
		t.Errorf("Addr() = %q, want bound port", s.Addr())
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestStatusPublisherTicks(t *testing.T) {
	mt := &utils.MockTransport{}
	pub := NewStatusPublisher(2*time.Millisecond, func() StatusEvent { return StatusEvent{State: "loaded"} }, mt)
	pub.Start()
	pub.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(mt.Sent()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("no status events published")
		}
		time.Sleep(time.Millisecond)
	}
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	n := len(mt.Sent())
	time.Sleep(10 * time.Millisecond)
	if len(mt.Sent()) != n {
		t.Error("events published after Close")
	}
	if ev, ok := mt.Last().(StatusEvent); !ok || ev.State != "loaded" {
		t.Errorf("Last() = %#v", mt.Last())
	}
	if mt.Closed() {
		t.Error("publisher closed a transport it does not own")
	}
}

func TestHostStatus(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "gain"+loader.Extension())
	if err := os.WriteFile(lib, []byte("library"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := loader.New(loader.WithOpener(loadertest.NewOpener(1)))
	h := host.New(l, host.Options{})
	defer h.Close()

	ev := HostStatus(h)()
	if ev.Loaded || ev.State != "unloaded" {
		t.Errorf("before load: %+v", ev)
	}

	if err := h.SetNewLibrary(lib); err != nil {
		t.Fatal(err)
	}
	h.Process([][]float32{make([]float32, 8)}, 8)

	ev = HostStatus(h)()
	if !ev.Loaded || ev.State != "loaded" || ev.Library != lib || ev.Generation != 1 {
		t.Errorf("after load: %+v", ev)
	}
	if ev.Blocks != 1 || len(ev.Peaks) != 1 {
		t.Errorf("counters: %+v", ev)
	}
}
