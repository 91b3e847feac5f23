package dr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WALBackup bundles the WAL segments archived since the previous backup
// into an incremental artifact. With no full backup to base on it promotes
// the run to a full backup; with no new segments it is a successful no-op.
func (p *Pipeline) WALBackup(ctx context.Context, rep *Report) error {
	arts, err := p.localArtifacts()
	if err != nil {
		rep.Failed("scan-local", err)
		return err
	}
	base, ok := LatestFull(arts)
	if !ok {
		p.logger.Warn("no full backup exists, promoting to full backup")
		rep.Ok("base-check", "no full backup present, running full instead")
		return p.FullBackup(ctx, rep)
	}
	cutoff := base.Timestamp
	for _, a := range arts {
		if a.Class == ClassIncremental && a.Timestamp.After(cutoff) {
			cutoff = a.Timestamp
		}
	}
	rep.Ok("base-check", base.Name)

	segs, err := p.scanWALArchive()
	if err != nil {
		rep.Failed("scan-wal", err)
		return err
	}
	now := p.clock.Now()
	selected := SelectWALRange(segs, cutoff, now)
	if len(selected) == 0 {
		p.logger.Info("no WAL segments archived since last backup", "since", cutoff)
		rep.Skipped("bundle", "no new WAL segments")
		return nil
	}

	name := FormatArtifactName(p.settings.Prefix, ClassIncremental, now) + "." + WALBundleExt
	tmp := p.local.TempPath(name)
	defer os.Remove(tmp)

	p.logger.Info("bundling WAL segments", "artifact", name, "segments", len(selected))
	if err := bundleWAL(tmp, selected); err != nil {
		rep.Failed("bundle", err)
		return err
	}
	rep.Ok("bundle", fmt.Sprintf("%d segments", len(selected)))

	art, err := p.publishArtifact(ctx, rep, Artifact{
		Name:      name,
		Class:     ClassIncremental,
		Timestamp: now.UTC().Truncate(time.Second),
		Ext:       WALBundleExt,
	}, tmp)
	if err != nil {
		return err
	}

	p.replicateArtifact(ctx, rep, art)
	p.enforceRetention(rep)
	return nil
}

// scanWALArchive lists the segment, history, and backup-label files the
// engine has archived. Unrelated files in the archive directory are
// ignored.
func (p *Pipeline) scanWALArchive() ([]WALSegment, error) {
	entries, err := os.ReadDir(p.settings.WALArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading WAL archive %s: %w", p.settings.WALArchiveDir, err)
	}
	var segs []WALSegment
	for _, e := range entries {
		if e.IsDir() || !IsWALFileName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		segs = append(segs, WALSegment{
			Name:       e.Name(),
			Path:       filepath.Join(p.settings.WALArchiveDir, e.Name()),
			Size:       fi.Size(),
			ArchivedAt: fi.ModTime(),
		})
	}
	SortWALSegments(segs)
	return segs, nil
}
