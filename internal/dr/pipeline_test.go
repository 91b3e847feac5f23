package dr_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"pgdr-go/internal/dr"
	"pgdr-go/internal/store"
	"pgdr-go/internal/testutil"
)

// fixture wires a pipeline against in-memory collaborators and a real
// local store under a temp directory. Tests mutate fields before calling
// pipeline().
type fixture struct {
	settings dr.Settings
	local    *store.Local
	nas      *store.Memory
	s3       *store.Memory
	mounts   *testutil.FakeMounter
	admin    *testutil.FakeAdmin
	dumper   *testutil.FakeDumper
	restorer *testutil.FakeRestorer
	catalog  dr.Catalog
	enc      dr.Encryptor
	dec      dr.Decryptor
	sink     *testutil.RecordingSink
	clock    *testutil.StubClock
	idgen    *testutil.StubIDGenerator
	walDir   string
	stageDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	walDir := filepath.Join(base, "wal_archive")
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		t.Fatalf("failed to create WAL archive dir: %v", err)
	}
	stageDir := filepath.Join(base, "restore")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		t.Fatalf("failed to create stage dir: %v", err)
	}
	local, err := store.NewLocal(filepath.Join(base, "backups"))
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}

	mounts := testutil.NewFakeMounter()
	mounts.SetMounted(true)

	f := &fixture{
		settings: dr.Settings{
			Prefix:           "appdb",
			WALArchiveDir:    walDir,
			MinFreeBytes:     1,
			MinFullSizeBytes: 10,
			WaitReadyTimeout: time.Second,
			VerifyWindow:     7 * 24 * time.Hour,
			Retention: dr.RetentionPolicy{
				LocalFullDays:        30,
				LocalIncrementalDays: 7,
				WALArchiveDays:       7,
				NASDays:              90,
				S3Days:               90,
			},
			ReplicateBeforeExpire: map[dr.Class]bool{dr.ClassFull: true},
			StageDir:              stageDir,
			RetryBudget:           1,
			RetryBackoff:          time.Millisecond,
		},
		local:    local,
		nas:      testutil.NewTestReplica(dr.TierNAS),
		s3:       testutil.NewTestReplica(dr.TierS3),
		mounts:   mounts,
		admin:    testutil.NewFakeAdmin(),
		dumper:   &testutil.FakeDumper{Payload: []byte("-- PostgreSQL database dump\nCOPY appdb FROM stdin;\n")},
		restorer: &testutil.FakeRestorer{},
		catalog:  testutil.NewTestCatalog(t),
		sink:     testutil.NewRecordingSink(),
		clock:    testutil.FixedClock(),
		idgen:    testutil.NewStubIDGenerator(),
		walDir:   walDir,
		stageDir: stageDir,
	}
	return f
}

func (f *fixture) pipeline() *dr.Pipeline {
	return dr.NewPipeline(dr.Deps{
		Settings: f.settings,
		Local:    f.local,
		Replicas: []dr.ArtifactStore{f.nas, f.s3},
		Mounts:   f.mounts,
		Admin:    f.admin,
		Dumper:   f.dumper,
		Restorer: f.restorer,
		Catalog:  f.catalog,
		Enc:      f.enc,
		Dec:      f.dec,
		Sink:     f.sink,
		Logger:   dr.NewNopLogger(),
		Clock:    f.clock,
		IDGen:    f.idgen,
	})
}

func (f *fixture) report(operation string) *dr.Report {
	return dr.NewReport(operation, "test-run", f.clock.Now())
}

// seedLocalArtifact puts an artifact and a matching checksum sidecar into
// the local store.
func (f *fixture) seedLocalArtifact(t *testing.T, name string, content []byte) {
	t.Helper()
	if err := f.local.Put(name, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("failed to seed artifact %s: %v", name, err)
	}
	sidecar := dr.FormatSidecar(testutil.SHA256Hex(content), name)
	if err := f.local.Put(name+dr.SidecarSuffix, strings.NewReader(sidecar), int64(len(sidecar))); err != nil {
		t.Fatalf("failed to seed sidecar for %s: %v", name, err)
	}
}

// seedWALSegment writes a segment file into the archive directory with
// the given modification time.
func (f *fixture) seedWALSegment(t *testing.T, name string, content []byte, mtime time.Time) {
	t.Helper()
	path := filepath.Join(f.walDir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to seed WAL segment %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime on %s: %v", name, err)
	}
}

// makeBundle builds a gzip tarball of segment name to content mappings.
func makeBundle(t *testing.T, segs map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	names := make([]string, 0, len(segs))
	for name := range segs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hdr := &tar.Header{Name: name, Mode: 0o600, Size: int64(len(segs[name])), ModTime: time.Now()}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write bundle header: %v", err)
		}
		if _, err := tw.Write(segs[name]); err != nil {
			t.Fatalf("failed to write bundle entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to close gzip: %v", err)
	}
	return buf.Bytes()
}

// bundleEntries lists the entry names inside a gzip tarball.
func bundleEntries(t *testing.T, data []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to open bundle gzip: %v", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	return names
}

// findStep returns the first step with the given name.
func findStep(rep *dr.Report, name string) (dr.Step, bool) {
	for _, s := range rep.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return dr.Step{}, false
}

// mustStep fails the test when the report has no step with the given
// name or its status differs from want.
func mustStep(t *testing.T, rep *dr.Report, name string, want dr.StepStatus) dr.Step {
	t.Helper()
	s, ok := findStep(rep, name)
	if !ok {
		t.Fatalf("report has no step %q: %s", name, rep.Summary())
	}
	if s.Status != want {
		t.Fatalf("step %q status = %q, want %q: %s", name, s.Status, want, rep.Summary())
	}
	return s
}
