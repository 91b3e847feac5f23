package store

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"
	"time"

	"pgdr-go/internal/dr"
)

// Memory is an in-memory implementation of the ArtifactStore interface,
// useful as a replica target in tests. It is safe for concurrent use.
type Memory struct {
	tier  dr.Tier
	files map[string]memoryFile
	mu    sync.RWMutex

	// FailPuts makes every Put fail, for exercising degraded replication.
	FailPuts bool
}

type memoryFile struct {
	data    []byte
	modTime time.Time
}

// NewMemory creates a new in-memory store reporting the given tier.
func NewMemory(tier dr.Tier) *Memory {
	return &Memory{tier: tier, files: make(map[string]memoryFile)}
}

func (m *Memory) Tier() dr.Tier { return m.tier }

// Put stores the content read from r under name.
func (m *Memory) Put(name string, r io.Reader, size int64) error {
	if m.FailPuts {
		return fmt.Errorf("put %s: store unavailable", name)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = memoryFile{data: data, modTime: time.Now()}
	return nil
}

// Open returns a reader over the named file's bytes.
func (m *Memory) Open(name string) (io.ReadCloser, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[name]
	if !ok {
		return nil, 0, fmt.Errorf("opening %s: %w", name, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(f.data)), int64(len(f.data)), nil
}

// List returns every stored file sorted by name.
func (m *Memory) List() ([]dr.StoredFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]dr.StoredFile, 0, len(m.files))
	for name, f := range m.files {
		out = append(out, dr.StoredFile{Name: name, Size: int64(len(f.data)), ModTime: f.modTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes the named file.
func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return fmt.Errorf("deleting %s: %w", name, fs.ErrNotExist)
	}
	delete(m.files, name)
	return nil
}

// Exists reports whether the named file is present.
func (m *Memory) Exists(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok, nil
}

// Bytes returns a copy of the named file's content, or nil when absent.
func (m *Memory) Bytes(name string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[name]
	if !ok {
		return nil
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Compile-time check that Memory implements dr.ArtifactStore
var _ dr.ArtifactStore = (*Memory)(nil)
