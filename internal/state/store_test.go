// SPDX-License-Identifier: MIT
package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(missing) error = %v", err)
	}
	if s.LastLibraryDir() != "" {
		t.Errorf("empty store LastLibraryDir = %q", s.LastLibraryDir())
	}

	if err := s.SetLastLibraryDir("/work/plugins/gain"); err != nil {
		t.Fatalf("SetLastLibraryDir() error = %v", err)
	}
	if err := s.SetParameters(map[int32]float32{1: 0.5, 3: 0.25}); err != nil {
		t.Fatalf("SetParameters() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := reopened.LastLibraryDir(); got != "/work/plugins/gain" {
		t.Errorf("LastLibraryDir() = %q", got)
	}
	if v, ok := reopened.Parameter(3); !ok || v != 0.25 {
		t.Errorf("Parameter(3) = %v, %v", v, ok)
	}
	if _, ok := reopened.Parameter(2); ok {
		t.Error("Parameter(2) should not exist")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary state file left behind")
	}
}

func TestOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("last_library_dir: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open() accepted a corrupt file")
	}
}

func TestMemoryStore(t *testing.T) {
	var s Store = &MemoryStore{}
	if err := s.SetLastLibraryDir("/tmp/x"); err != nil {
		t.Fatal(err)
	}
	if s.LastLibraryDir() != "/tmp/x" {
		t.Errorf("LastLibraryDir() = %q", s.LastLibraryDir())
	}
}
