package dr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// RetentionPolicy is the per-{class,tier} TTL table, in days. A zero TTL
// disables pruning for that slot.
type RetentionPolicy struct {
	LocalFullDays        int
	LocalIncrementalDays int
	WALArchiveDays       int
	NASDays              int
	S3Days               int
}

// TTL returns the retention duration for a class on a tier.
func (rp RetentionPolicy) TTL(class Class, tier Tier) time.Duration {
	days := 0
	switch tier {
	case TierLocal:
		if class == ClassFull {
			days = rp.LocalFullDays
		} else {
			days = rp.LocalIncrementalDays
		}
	case TierNAS:
		days = rp.NASDays
	case TierS3:
		days = rp.S3Days
	}
	return time.Duration(days) * 24 * time.Hour
}

// Prune applies the retention policy across all tiers as a standalone
// operation. The catalog is reconciled with the store first, so rows for
// files removed outside the pipeline become collectable and artifacts
// dropped in by hand are counted against their TTL.
func (p *Pipeline) Prune(ctx context.Context, rep *Report) error {
	p.reconcileCatalog(rep)
	p.enforceRetention(rep)
	return nil
}

// enforceRetention removes expired artifacts per tier. Each tier is
// handled independently; failures are warnings, never fatal, because
// retention runs on the tail of otherwise successful backups.
func (p *Pipeline) enforceRetention(rep *Report) {
	now := p.clock.Now()
	p.pruneLocal(rep, now)
	p.pruneWALArchive(rep, now)
	for _, target := range p.replicas {
		p.pruneReplica(rep, target, now)
	}
	p.sweepCatalog()
}

func (p *Pipeline) pruneLocal(rep *Report, now time.Time) {
	arts, err := p.localArtifacts()
	if err != nil {
		p.logger.Warn("retention scan failed", "tier", TierLocal, "error", err)
		rep.Degraded("retention-local", err.Error())
		return
	}
	var deleted, deferred, failed int
	for _, a := range arts {
		ttl := p.settings.Retention.TTL(a.Class, TierLocal)
		if ttl <= 0 || now.Sub(a.Timestamp) <= ttl {
			continue
		}
		if p.settings.ReplicateBeforeExpire[a.Class] && !p.hasOffsiteReplica(a.Name) {
			p.logger.Warn("retention deferred, expired artifact has no off-site replica", "artifact", a.Name)
			deferred++
			continue
		}
		if err := p.deleteLocal(a); err != nil {
			p.logger.Warn("retention delete failed", "artifact", a.Name, "error", err)
			failed++
			continue
		}
		p.logger.Info("pruned expired artifact", "tier", TierLocal, "artifact", a.Name)
		deleted++
	}
	detail := fmt.Sprintf("deleted %d", deleted)
	if deferred > 0 {
		detail += fmt.Sprintf(", deferred %d awaiting replication", deferred)
	}
	if failed > 0 {
		detail += fmt.Sprintf(", failed %d", failed)
	}
	if deferred > 0 || failed > 0 {
		rep.Degraded("retention-local", detail)
		return
	}
	rep.Ok("retention-local", detail)
}

// hasOffsiteReplica reports whether at least one off-site tier holds a
// confirmed copy. The catalog is consulted first; stores are probed as a
// fallback for artifacts that predate the catalog.
func (p *Pipeline) hasOffsiteReplica(name string) bool {
	tiers, err := p.catalog.ReplicaTiers(name)
	if err != nil {
		p.logger.Warn("replica lookup failed", "artifact", name, "error", err)
		return false
	}
	if len(tiers) > 0 {
		return true
	}
	for _, target := range p.replicas {
		if target.Tier() == TierNAS && (p.mounts == nil || !p.mounts.Mounted()) {
			continue
		}
		ok, err := target.Exists(name)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (p *Pipeline) deleteLocal(a Artifact) error {
	if err := p.local.Delete(a.Name); err != nil {
		return err
	}
	if err := p.local.Delete(a.SidecarName()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("sidecar delete failed", "artifact", a.Name, "error", err)
	}
	if err := p.catalog.MarkMissing(a.Name, true); err != nil {
		p.logger.Warn("catalog update failed", "artifact", a.Name, "error", err)
	}
	return nil
}

func (p *Pipeline) pruneWALArchive(rep *Report, now time.Time) {
	ttl := time.Duration(p.settings.Retention.WALArchiveDays) * 24 * time.Hour
	if ttl <= 0 {
		return
	}
	segs, err := p.scanWALArchive()
	if err != nil {
		p.logger.Warn("retention scan failed", "tier", "wal-archive", "error", err)
		rep.Degraded("retention-wal", err.Error())
		return
	}
	var deleted, failed int
	for _, s := range segs {
		if now.Sub(s.ArchivedAt) <= ttl {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			p.logger.Warn("retention delete failed", "segment", s.Name, "error", err)
			failed++
			continue
		}
		deleted++
	}
	detail := fmt.Sprintf("deleted %d segments", deleted)
	if failed > 0 {
		rep.Degraded("retention-wal", fmt.Sprintf("%s, failed %d", detail, failed))
		return
	}
	rep.Ok("retention-wal", detail)
}

func (p *Pipeline) pruneReplica(rep *Report, target ArtifactStore, now time.Time) {
	tier := target.Tier()
	step := "retention-" + string(tier)
	if tier == TierNAS && (p.mounts == nil || !p.mounts.Mounted()) {
		rep.Skipped(step, "share not mounted")
		return
	}
	files, err := target.List()
	if err != nil {
		p.logger.Warn("retention scan failed", "tier", tier, "error", err)
		rep.Degraded(step, err.Error())
		return
	}
	var deleted, failed int
	for _, a := range Artifacts(files) {
		ttl := p.settings.Retention.TTL(a.Class, tier)
		if ttl <= 0 || now.Sub(a.Timestamp) <= ttl {
			continue
		}
		if err := target.Delete(a.Name); err != nil {
			p.logger.Warn("retention delete failed", "tier", tier, "artifact", a.Name, "error", err)
			failed++
			continue
		}
		if err := target.Delete(a.SidecarName()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("sidecar delete failed", "tier", tier, "artifact", a.Name, "error", err)
		}
		if err := p.catalog.ClearReplica(a.Name, tier); err != nil {
			p.logger.Warn("catalog update failed", "artifact", a.Name, "error", err)
		}
		p.logger.Info("pruned expired artifact", "tier", tier, "artifact", a.Name)
		deleted++
	}
	detail := fmt.Sprintf("deleted %d", deleted)
	if failed > 0 {
		rep.Degraded(step, fmt.Sprintf("%s, failed %d", detail, failed))
		return
	}
	rep.Ok(step, detail)
}

// sweepCatalog drops rows for artifacts that no longer exist on any tier.
func (p *Pipeline) sweepCatalog() {
	recs, err := p.catalog.ListArtifacts()
	if err != nil {
		p.logger.Warn("catalog sweep failed", "error", err)
		return
	}
	for _, rec := range recs {
		if rec.Missing && len(rec.Replicas) == 0 {
			if err := p.catalog.DeleteArtifact(rec.Name); err != nil {
				p.logger.Warn("catalog delete failed", "artifact", rec.Name, "error", err)
			}
		}
	}
}
