package testutil

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// FakeAdmin is an in-memory engine admin. It tracks which databases
// exist and records create/drop calls in order.
type FakeAdmin struct {
	mu        sync.Mutex
	Databases map[string]bool
	Created   []string
	Dropped   []string

	ReadyErr  error
	CreateErr error
	DropErr   error
}

func NewFakeAdmin() *FakeAdmin {
	return &FakeAdmin{Databases: make(map[string]bool)}
}

func (a *FakeAdmin) WaitReady(_ context.Context, _ time.Duration) error {
	return a.ReadyErr
}

func (a *FakeAdmin) DatabaseExists(_ context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Databases[name], nil
}

func (a *FakeAdmin) ListDatabases(_ context.Context, prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for name := range a.Databases {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *FakeAdmin) CreateDatabase(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CreateErr != nil {
		return a.CreateErr
	}
	a.Databases[name] = true
	a.Created = append(a.Created, name)
	return nil
}

func (a *FakeAdmin) DropDatabase(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DropErr != nil {
		return a.DropErr
	}
	delete(a.Databases, name)
	a.Dropped = append(a.Dropped, name)
	return nil
}

func (a *FakeAdmin) Close() error { return nil }

// FakeDumper writes a fixed payload as the dump file.
type FakeDumper struct {
	Payload []byte
	Err     error
	Calls   int
}

func (d *FakeDumper) DumpTo(_ context.Context, path string) error {
	d.Calls++
	if d.Err != nil {
		return d.Err
	}
	return os.WriteFile(path, d.Payload, 0o600)
}

// FakeRestorer records restore calls. FailPathSubstr makes restores of
// matching dump paths fail, so a test can break one artifact out of many.
type FakeRestorer struct {
	mu             sync.Mutex
	Restored       []string // database names, in call order
	Paths          []string // dump paths, in call order
	Err            error
	FailPathSubstr string
}

func (r *FakeRestorer) RestoreInto(_ context.Context, dbname, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Restored = append(r.Restored, dbname)
	r.Paths = append(r.Paths, path)
	if r.Err != nil {
		return r.Err
	}
	if r.FailPathSubstr != "" && strings.Contains(path, r.FailPathSubstr) {
		return os.ErrInvalid
	}
	return nil
}
