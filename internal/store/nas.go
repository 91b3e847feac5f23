package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pgdr-go/internal/dr"
)

// NAS is the artifact store on the mounted network share. Every operation
// is gated on the mount session: touching the directory of an unmounted
// share would silently write to the local disk under the mount point.
type NAS struct {
	session dr.MountManager
	subdir  string
}

// NewNAS creates a share-backed store placing artifacts under subdir of
// the mount point. An empty subdir uses the mount point itself.
func NewNAS(session dr.MountManager, subdir string) *NAS {
	return &NAS{session: session, subdir: subdir}
}

func (s *NAS) Tier() dr.Tier { return dr.TierNAS }

// dir resolves the artifact directory, failing when the share is not
// mounted.
func (s *NAS) dir() (string, error) {
	if !s.session.Mounted() {
		return "", dr.ErrNotMounted
	}
	return filepath.Join(s.session.Path(), s.subdir), nil
}

// Put stores the content read from r under name using an atomic write on
// the share.
func (s *NAS) Put(name string, r io.Reader, size int64) error {
	dir, err := s.dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create share directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, name), r, size)
}

// Open opens the named file for reading and reports its size.
func (s *NAS) Open(name string) (io.ReadCloser, int64, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(dir, name))
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

// List returns every file in the share directory. A share directory that
// does not exist yet lists as empty.
func (s *NAS) List() ([]dr.StoredFile, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing share: %w", err)
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

// Delete removes the named file from the share.
func (s *NAS) Delete(name string) error {
	dir, err := s.dir()
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(dir, name))
}

// Exists reports whether the named file is present on the share.
func (s *NAS) Exists(name string) (bool, error) {
	dir, err := s.dir()
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return true, nil
}

// Compile-time check that NAS implements dr.ArtifactStore
var _ dr.ArtifactStore = (*NAS)(nil)
