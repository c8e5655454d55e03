// SPDX-License-Identifier: MIT

// Package state persists what the host needs to pick up where it left off.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is the persisted-state collaborator.
type Store interface {
	// LastLibraryDir is the project directory of the last loaded library,
	// or "" if none was recorded.
	LastLibraryDir() string
	SetLastLibraryDir(dir string) error
}

// ParameterStore is implemented by stores that also keep normalized
// parameter values between sessions.
type ParameterStore interface {
	Parameter(id int32) (float32, bool)
	SetParameters(values map[int32]float32) error
}

var _ ParameterStore = (*FileStore)(nil)

// Snapshot is the on-disk document.
type Snapshot struct {
	LastLibraryDir string            `yaml:"last_library_dir"`
	Parameters     map[int32]float32 `yaml:"parameters,omitempty"` // normalized values by id
}

// FileStore keeps a Snapshot in a YAML file. Every mutation is written
// through immediately.
type FileStore struct {
	mu   sync.Mutex
	path string
	snap Snapshot
}

var _ Store = (*FileStore)(nil)

// Open reads the store at path. A missing file yields an empty store.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LastLibraryDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.LastLibraryDir
}

func (s *FileStore) SetLastLibraryDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastLibraryDir = dir
	return s.saveLocked()
}

// Parameter returns the saved normalized value of id.
func (s *FileStore) Parameter(id int32) (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.Parameters[id]
	return v, ok
}

// SetParameters replaces the saved parameter values.
func (s *FileStore) SetParameters(values map[int32]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Parameters = make(map[int32]float32, len(values))
	for id, v := range values {
		s.snap.Parameters[id] = v
	}
	return s.saveLocked()
}

// saveLocked writes the snapshot to a sibling file and renames it into place.
func (s *FileStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(&s.snap)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// MemoryStore is a Store that is never persisted.
type MemoryStore struct {
	mu  sync.Mutex
	dir string
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) LastLibraryDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

func (m *MemoryStore) SetLastLibraryDir(dir string) error {
	m.mu.Lock()
	m.dir = dir
	m.mu.Unlock()
	return nil
}
