package testutil

import (
	"context"
	"sync"
)

// FakeMounter is a MountManager whose state tests flip directly.
type FakeMounter struct {
	mu         sync.Mutex
	mounted    bool
	AcquireErr error
	Acquires   int
	Releases   int
	MountPath  string
}

// NewFakeMounter returns a FakeMounter that starts unmounted.
func NewFakeMounter() *FakeMounter {
	return &FakeMounter{MountPath: "/mnt/test"}
}

func (m *FakeMounter) Acquire(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acquires++
	if m.AcquireErr != nil {
		return m.AcquireErr
	}
	m.mounted = true
	return nil
}

func (m *FakeMounter) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Releases++
	m.mounted = false
	return nil
}

func (m *FakeMounter) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// SetMounted forces the mounted state without counting an acquire.
func (m *FakeMounter) SetMounted(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = v
}

func (m *FakeMounter) Path() string { return m.MountPath }
