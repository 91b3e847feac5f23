package dr_test

import (
	"context"
	"os"
	"testing"
	"time"

	"pgdr-go/internal/dr"
)

func TestPipeline_WALBackup(t *testing.T) {
	t.Run("bundles segments archived since the base", func(t *testing.T) {
		f := newFixture(t)
		f.seedLocalArtifact(t, "appdb_full_backup_20260308_030000.dump", []byte("full base content here"))
		f.seedWALSegment(t, "000000010000000000000041", []byte("old segment"),
			time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
		f.seedWALSegment(t, "000000010000000000000042", []byte("segment 42"),
			time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
		f.seedWALSegment(t, "000000010000000000000043", []byte("segment 43"),
			time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
		f.seedWALSegment(t, "notes.txt", []byte("not wal"),
			time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
		rep := f.report("wal-backup")

		if err := f.pipeline().WALBackup(context.Background(), rep); err != nil {
			t.Fatalf("WALBackup() error = %v", err)
		}
		if got := rep.Status(); got != "success" {
			t.Fatalf("Status() = %q, want %q: %s", got, "success", rep.Summary())
		}

		const wantName = "appdb_incremental_backup_20260310_033000.tar.gz"
		if ok, _ := f.local.Exists(wantName); !ok {
			t.Fatalf("bundle %s not in local store", wantName)
		}
		data, err := os.ReadFile(f.local.FullPath(wantName))
		if err != nil {
			t.Fatalf("failed to read bundle: %v", err)
		}
		entries := bundleEntries(t, data)
		want := []string{"000000010000000000000042", "000000010000000000000043"}
		if len(entries) != len(want) {
			t.Fatalf("bundle entries = %v, want %v", entries, want)
		}
		for i := range want {
			if entries[i] != want[i] {
				t.Errorf("bundle entry[%d] = %q, want %q", i, entries[i], want[i])
			}
		}

		// Replicated and catalogued like any other artifact.
		if f.nas.Bytes(wantName) == nil {
			t.Error("bundle not replicated to nas")
		}
		rec, err := f.catalog.GetArtifact(wantName)
		if err != nil || rec == nil {
			t.Fatalf("GetArtifact() = %v, %v", rec, err)
		}
		if rec.Class != dr.ClassIncremental {
			t.Errorf("catalog class = %q, want %q", rec.Class, dr.ClassIncremental)
		}
	})

	t.Run("promotes to full when no base exists", func(t *testing.T) {
		f := newFixture(t)
		rep := f.report("wal-backup")

		if err := f.pipeline().WALBackup(context.Background(), rep); err != nil {
			t.Fatalf("WALBackup() error = %v", err)
		}
		if f.dumper.Calls != 1 {
			t.Errorf("dumper called %d times, want 1", f.dumper.Calls)
		}
		if ok, _ := f.local.Exists("appdb_full_backup_20260310_033000.dump"); !ok {
			t.Error("promoted full backup not in local store")
		}
		step := mustStep(t, rep, "base-check", dr.StepOK)
		if step.Detail == "" {
			t.Error("base-check step has no detail about the promotion")
		}
	})

	t.Run("no new segments is a successful no-op", func(t *testing.T) {
		f := newFixture(t)
		f.seedLocalArtifact(t, "appdb_full_backup_20260308_030000.dump", []byte("full base content here"))
		f.seedWALSegment(t, "000000010000000000000041", []byte("old segment"),
			time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
		rep := f.report("wal-backup")

		if err := f.pipeline().WALBackup(context.Background(), rep); err != nil {
			t.Fatalf("WALBackup() error = %v", err)
		}
		if got := rep.Status(); got != "success" {
			t.Fatalf("Status() = %q, want %q: %s", got, "success", rep.Summary())
		}
		mustStep(t, rep, "bundle", dr.StepSkipped)

		files, err := f.local.List()
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		for _, a := range dr.Artifacts(files) {
			if a.Class == dr.ClassIncremental {
				t.Errorf("unexpected incremental artifact %s", a.Name)
			}
		}
	})

	t.Run("starts after the previous bundle", func(t *testing.T) {
		f := newFixture(t)
		f.seedLocalArtifact(t, "appdb_full_backup_20260305_030000.dump", []byte("full base content here"))
		f.seedLocalArtifact(t, "appdb_incremental_backup_20260309_100000.tar.gz",
			makeBundle(t, map[string][]byte{"000000010000000000000041": []byte("covered")}))
		f.seedWALSegment(t, "000000010000000000000041", []byte("covered"),
			time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC))
		f.seedWALSegment(t, "000000010000000000000042", []byte("new segment"),
			time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
		rep := f.report("wal-backup")

		if err := f.pipeline().WALBackup(context.Background(), rep); err != nil {
			t.Fatalf("WALBackup() error = %v", err)
		}

		const wantName = "appdb_incremental_backup_20260310_033000.tar.gz"
		data, err := os.ReadFile(f.local.FullPath(wantName))
		if err != nil {
			t.Fatalf("failed to read bundle: %v", err)
		}
		entries := bundleEntries(t, data)
		if len(entries) != 1 || entries[0] != "000000010000000000000042" {
			t.Errorf("bundle entries = %v, want only the uncovered segment", entries)
		}
	})
}
