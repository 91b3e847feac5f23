package dr_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"pgdr-go/internal/dr"
	"pgdr-go/internal/testutil"
)

const (
	pitrFullA   = "appdb_full_backup_20260301_030000.dump"
	pitrFullB   = "appdb_full_backup_20260305_030000.dump"
	pitrBundle1 = "appdb_incremental_backup_20260306_030000.tar.gz"
	pitrBundle2 = "appdb_incremental_backup_20260307_030000.tar.gz"
	pitrBundle3 = "appdb_incremental_backup_20260308_030000.tar.gz"
)

var pitrContentB = []byte("full B dump content")

// seedRecoveryTree stages two fulls and three WAL bundles covering
// 2026-03-01 through 2026-03-08.
func seedRecoveryTree(t *testing.T, f *fixture) {
	t.Helper()
	f.seedLocalArtifact(t, pitrFullA, []byte("full A dump content"))
	f.seedLocalArtifact(t, pitrFullB, pitrContentB)
	f.seedLocalArtifact(t, pitrBundle1, makeBundle(t, map[string][]byte{
		"000000010000000000000041": []byte("segment 41"),
		"000000010000000000000042": []byte("segment 42"),
	}))
	f.seedLocalArtifact(t, pitrBundle2, makeBundle(t, map[string][]byte{
		"000000010000000000000043": []byte("segment 43"),
	}))
	f.seedLocalArtifact(t, pitrBundle3, makeBundle(t, map[string][]byte{
		"000000010000000000000044": []byte("segment 44"),
	}))
}

type stagedManifest struct {
	Target      time.Time `json:"target"`
	BaseName    string    `json:"base_artifact"`
	BaseSHA256  string    `json:"base_sha256"`
	Bundles     []string  `json:"wal_bundles"`
	RawSegments []string  `json:"raw_segments"`
}

func readManifest(t *testing.T, path string) stagedManifest {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	var m stagedManifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	return m
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestPipeline_PITRPrepare(t *testing.T) {
	t.Run("stages base, spanning bundles, and recovery config", func(t *testing.T) {
		f := newFixture(t)
		seedRecoveryTree(t, f)
		target := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
		rep := f.report("pitr-prepare")

		plan, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if err != nil {
			t.Fatalf("PITRPrepare() error = %v", err)
		}
		if plan.Base.Name != pitrFullB {
			t.Errorf("base = %q, want %q", plan.Base.Name, pitrFullB)
		}
		wantPrefix := filepath.Join(f.stageDir, "pitr_20260306_120000_")
		if !strings.HasPrefix(plan.StageDir, wantPrefix) {
			t.Errorf("stage dir = %q, want prefix %q", plan.StageDir, wantPrefix)
		}

		dump, err := os.ReadFile(plan.DumpPath)
		if err != nil {
			t.Fatalf("failed to read staged dump: %v", err)
		}
		if !bytes.Equal(dump, pitrContentB) {
			t.Error("staged dump differs from the base artifact")
		}

		// Bundle 1 precedes the target, bundle 2 is the first at or past
		// it and carries the spanning segments; bundle 3 is not needed.
		got := listNames(t, plan.WALDir)
		want := []string{
			"000000010000000000000041",
			"000000010000000000000042",
			"000000010000000000000043",
		}
		if len(got) != len(want) {
			t.Fatalf("staged WAL = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("staged WAL[%d] = %q, want %q", i, got[i], want[i])
			}
		}
		if plan.WALCount != 3 {
			t.Errorf("WALCount = %d, want 3", plan.WALCount)
		}

		conf, err := os.ReadFile(plan.RecoveryConf)
		if err != nil {
			t.Fatalf("failed to read recovery config: %v", err)
		}
		for _, fragment := range []string{
			"restore_command = 'cp " + plan.WALDir,
			"recovery_target_time = '2026-03-06 12:00:00'",
			"recovery_target_timeline = 'latest'",
		} {
			if !strings.Contains(string(conf), fragment) {
				t.Errorf("recovery config missing %q:\n%s", fragment, conf)
			}
		}

		m := readManifest(t, plan.ManifestPath)
		if m.BaseName != pitrFullB {
			t.Errorf("manifest base = %q, want %q", m.BaseName, pitrFullB)
		}
		if want := testutil.SHA256Hex(pitrContentB); m.BaseSHA256 != want {
			t.Errorf("manifest base sha256 = %q, want %q", m.BaseSHA256, want)
		}
		if len(m.Bundles) != 2 || m.Bundles[0] != pitrBundle1 || m.Bundles[1] != pitrBundle2 {
			t.Errorf("manifest bundles = %v, want [%s %s]", m.Bundles, pitrBundle1, pitrBundle2)
		}
		if !m.Target.Equal(target) {
			t.Errorf("manifest target = %v, want %v", m.Target, target)
		}
	})

	t.Run("target at a full's timestamp uses the previous full", func(t *testing.T) {
		f := newFixture(t)
		seedRecoveryTree(t, f)
		target := time.Date(2026, 3, 5, 3, 0, 0, 0, time.UTC)
		rep := f.report("pitr-prepare")

		plan, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if err != nil {
			t.Fatalf("PITRPrepare() error = %v", err)
		}
		if plan.Base.Name != pitrFullA {
			t.Errorf("base = %q, want %q", plan.Base.Name, pitrFullA)
		}
		if plan.WALCount != 2 {
			t.Errorf("WALCount = %d, want the first bundle's 2 segments", plan.WALCount)
		}
	})

	t.Run("fails when no full precedes the target", func(t *testing.T) {
		f := newFixture(t)
		seedRecoveryTree(t, f)
		target := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		rep := f.report("pitr-prepare")

		_, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if !errors.Is(err, dr.ErrNoSuitableBackup) {
			t.Fatalf("error = %v, want ErrNoSuitableBackup", err)
		}
		if names := listNames(t, f.stageDir); len(names) != 0 {
			t.Errorf("staging directory not empty after selection failure: %v", names)
		}
	})

	t.Run("rejects a future target before any side effect", func(t *testing.T) {
		f := newFixture(t)
		seedRecoveryTree(t, f)
		target := f.clock.Now().Add(time.Hour)
		rep := f.report("pitr-prepare")

		_, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if !errors.Is(err, dr.ErrFutureTarget) {
			t.Fatalf("error = %v, want ErrFutureTarget", err)
		}
		if names := listNames(t, f.stageDir); len(names) != 0 {
			t.Errorf("staging directory not empty after rejected target: %v", names)
		}
	})

	t.Run("stages raw archive segments past the last bundle", func(t *testing.T) {
		f := newFixture(t)
		seedRecoveryTree(t, f)
		f.seedWALSegment(t, "000000010000000000000045", []byte("raw segment 45"),
			time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC))
		f.seedWALSegment(t, "000000010000000000000043", []byte("segment 43"),
			time.Date(2026, 3, 7, 1, 0, 0, 0, time.UTC)) // already covered by a bundle
		target := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
		rep := f.report("pitr-prepare")

		plan, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if err != nil {
			t.Fatalf("PITRPrepare() error = %v", err)
		}
		if plan.WALCount != 5 {
			t.Errorf("WALCount = %d, want 4 bundled + 1 raw", plan.WALCount)
		}
		m := readManifest(t, plan.ManifestPath)
		if len(m.RawSegments) != 1 || m.RawSegments[0] != "000000010000000000000045" {
			t.Errorf("raw segments = %v, want the uncovered archive segment", m.RawSegments)
		}
		raw, err := os.ReadFile(filepath.Join(plan.WALDir, "000000010000000000000045"))
		if err != nil {
			t.Fatalf("failed to read staged raw segment: %v", err)
		}
		if string(raw) != "raw segment 45" {
			t.Errorf("staged raw segment content = %q", raw)
		}
	})

	t.Run("removes the staging directory when staging fails", func(t *testing.T) {
		f := newFixture(t)
		seedRecoveryTree(t, f)
		// Replace a needed bundle with bytes that are not a tarball.
		f.seedLocalArtifact(t, pitrBundle2, []byte("not a tarball at all"))
		target := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
		rep := f.report("pitr-prepare")

		_, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if err == nil {
			t.Fatal("PITRPrepare() expected error for corrupt bundle")
		}
		if names := listNames(t, f.stageDir); len(names) != 0 {
			t.Errorf("staging directory left behind after failure: %v", names)
		}
	})

	t.Run("fails when the base is encrypted without an identity", func(t *testing.T) {
		f := newFixture(t)
		f.seedLocalArtifact(t, pitrFullB+dr.EncryptedSuffix, []byte("sealed full dump bytes"))
		target := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
		rep := f.report("pitr-prepare")

		_, err := f.pipeline().PITRPrepare(context.Background(), rep, target)
		if err == nil {
			t.Fatal("PITRPrepare() expected error for encrypted base without identity")
		}
		if !strings.Contains(err.Error(), "no decryption identity") {
			t.Errorf("error = %v, want mention of missing identity", err)
		}
	})
}
