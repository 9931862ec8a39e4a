package fetchstate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Backend persists the serialized state mapping as one opaque blob. Load
// returns nil with no error when nothing has been stored yet.
type Backend interface {
	Load() ([]byte, error)
	Store([]byte) error
}

// FileBackend keeps the blob in a single JSON file.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend { return &FileBackend{Path: path} }

func (f *FileBackend) Load() ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func (f *FileBackend) Store(b []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// MemoryBackend keeps the blob in memory, for tests and ephemeral runs.
type MemoryBackend struct {
	mu   sync.Mutex
	blob []byte
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blob, nil
}

func (m *MemoryBackend) Store(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), b...)
	return nil
}
