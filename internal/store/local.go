package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pgdr-go/internal/dr"
)

// Local is the local-disk artifact store. Layout:
//
//	<dir>/
//	  <artifact files and checksum sidecars>
//	  .work/    (scratch area for in-progress files, invisible to List)
//
// Producers write into the scratch area and publish with an atomic
// rename, so a crash never leaves a partial file at a final name.
type Local struct {
	dir     string
	workDir string
}

// NewLocal creates a local store rooted at dir, creating the directory
// structure as needed.
func NewLocal(dir string) (*Local, error) {
	workDir := filepath.Join(dir, ".work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Local{dir: dir, workDir: workDir}, nil
}

func (s *Local) Tier() dr.Tier { return dr.TierLocal }

// Dir returns the store's directory.
func (s *Local) Dir() string { return s.dir }

// FullPath returns the absolute path of a stored file.
func (s *Local) FullPath(name string) string { return filepath.Join(s.dir, name) }

// TempPath returns a scratch path for an in-progress file.
func (s *Local) TempPath(name string) string { return filepath.Join(s.workDir, name) }

// Publish atomically renames a finished scratch file to its final name.
func (s *Local) Publish(tempPath, name string) error {
	if err := os.Rename(tempPath, s.FullPath(name)); err != nil {
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	return nil
}

// Put stores the content read from r under name using an atomic write.
func (s *Local) Put(name string, r io.Reader, size int64) error {
	return writeFileAtomic(s.FullPath(name), r, size)
}

// Open opens the named file for reading and reports its size.
func (s *Local) Open(name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.FullPath(name))
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	return f, fi.Size(), nil
}

// List returns every published file in the store. The scratch area and
// dot files are invisible.
func (s *Local) List() ([]dr.StoredFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}
	var out []dr.StoredFile
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		out = append(out, dr.StoredFile{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	return out, nil
}

// Delete removes the named file.
func (s *Local) Delete(name string) error {
	return os.Remove(s.FullPath(name))
}

// Exists reports whether the named file is present.
func (s *Local) Exists(name string) (bool, error) {
	if _, err := os.Stat(s.FullPath(name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return true, nil
}

// writeFileAtomic writes data from r to destPath using a temp file in the
// same directory and a rename, verifying the byte count along the way.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that Local implements dr.LocalStore
var _ dr.LocalStore = (*Local)(nil)
