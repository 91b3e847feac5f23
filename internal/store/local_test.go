package store

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgdr-go/internal/dr"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	return s
}

func putLocal(t *testing.T, s *Local, name, content string) {
	t.Helper()
	if err := s.Put(name, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put(%s) error = %v", name, err)
	}
}

func TestNewLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "nested", "backups")
	s, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", s.Dir(), dir)
	}
	if fi, err := os.Stat(filepath.Join(dir, ".work")); err != nil || !fi.IsDir() {
		t.Errorf("scratch directory missing: %v", err)
	}
	if s.Tier() != dr.TierLocal {
		t.Errorf("Tier() = %q, want %q", s.Tier(), dr.TierLocal)
	}
}

func TestLocal_PutOpen(t *testing.T) {
	s := newLocal(t)
	const content = "dump bytes"
	putLocal(t, s, "app.dump", content)

	rc, size, err := s.Open("app.dump")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(got) != content {
		t.Errorf("content = %q, want %q", got, content)
	}

	ok, err := s.Exists("app.dump")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	if _, err := os.Stat(s.FullPath("app.dump")); err != nil {
		t.Errorf("FullPath not on disk: %v", err)
	}
}

func TestLocal_PutSizeMismatch(t *testing.T) {
	s := newLocal(t)
	err := s.Put("short.dump", bytes.NewReader([]byte("abc")), 99)
	if err == nil {
		t.Fatal("Put() expected error for size mismatch")
	}
	if !strings.Contains(err.Error(), "size mismatch") {
		t.Errorf("error = %v, want size mismatch", err)
	}

	// Neither a final file nor a stray temp file may survive the failure.
	if ok, _ := s.Exists("short.dump"); ok {
		t.Error("partial file published despite size mismatch")
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("reading store dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != ".work" {
			t.Errorf("leftover entry %q after failed put", e.Name())
		}
	}
}

func TestLocal_PublishFlow(t *testing.T) {
	s := newLocal(t)
	temp := s.TempPath("app.dump")
	if err := os.WriteFile(temp, []byte("in progress"), 0644); err != nil {
		t.Fatalf("writing scratch file: %v", err)
	}

	// In-progress files are invisible until published.
	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("List() = %v, want empty before publish", files)
	}

	if err := s.Publish(temp, "app.dump"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	files, err = s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 1 || files[0].Name != "app.dump" {
		t.Fatalf("List() = %v, want [app.dump]", files)
	}
	if files[0].Size != int64(len("in progress")) {
		t.Errorf("size = %d, want %d", files[0].Size, len("in progress"))
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Errorf("scratch file still present after publish: %v", err)
	}
}

func TestLocal_ListSkipsHiddenAndDirs(t *testing.T) {
	s := newLocal(t)
	putLocal(t, s, "a.dump", "aa")
	putLocal(t, s, "a.dump.sha256", "sum")
	if err := os.WriteFile(filepath.Join(s.Dir(), ".hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Dir(), "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List() returned %d entries, want 2: %v", len(files), files)
	}
	for _, f := range files {
		if strings.HasPrefix(f.Name, ".") || f.Name == "subdir" {
			t.Errorf("List() leaked %q", f.Name)
		}
	}
}

func TestLocal_Delete(t *testing.T) {
	s := newLocal(t)
	putLocal(t, s, "old.dump", "bytes")

	if err := s.Delete("old.dump"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := s.Exists("old.dump"); ok {
		t.Error("Exists() = true after delete")
	}
	if err := s.Delete("old.dump"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Delete() of missing file = %v, want fs.ErrNotExist", err)
	}
}
