package dr

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"pgdr-go/internal/notify"
)

// FullBackup produces a full logical dump, publishes it locally with its
// checksum sidecar, replicates it off-site, and applies retention. Replica
// and retention problems degrade the run; everything before publish is
// fatal.
func (p *Pipeline) FullBackup(ctx context.Context, rep *Report) error {
	if err := p.admin.WaitReady(ctx, p.settings.WaitReadyTimeout); err != nil {
		rep.Failed("engine-ready", err)
		return err
	}
	rep.Ok("engine-ready", "")

	free, err := FreeBytes(p.local.Dir())
	if err != nil {
		rep.Failed("free-space", err)
		return err
	}
	if free < p.settings.MinFreeBytes {
		err := fmt.Errorf("insufficient free space in %s: %d bytes available, %d required", p.local.Dir(), free, p.settings.MinFreeBytes)
		rep.Failed("free-space", err)
		p.alert(ctx, notify.SeverityError, "full backup aborted: "+err.Error(), nil)
		return err
	}
	rep.Ok("free-space", fmt.Sprintf("%d bytes available", free))

	now := p.clock.Now()
	name := FormatArtifactName(p.settings.Prefix, ClassFull, now) + "." + DumpExt
	tmp := p.local.TempPath(name)
	defer os.Remove(tmp)

	p.logger.Info("dumping database", "artifact", name)
	if err := p.dumper.DumpTo(ctx, tmp); err != nil {
		rep.Failed("dump", err)
		return err
	}
	fi, err := os.Stat(tmp)
	if err != nil {
		rep.Failed("dump", err)
		return err
	}
	if fi.Size() < p.settings.MinFullSizeBytes {
		err := fmt.Errorf("dump %s is %d bytes, below the %d byte sanity threshold", name, fi.Size(), p.settings.MinFullSizeBytes)
		rep.Failed("size-check", err)
		p.alert(ctx, notify.SeverityError, "full backup rejected: "+err.Error(), nil)
		return err
	}
	rep.Ok("dump", fmt.Sprintf("%d bytes", fi.Size()))

	art, err := p.publishArtifact(ctx, rep, Artifact{
		Name:      name,
		Class:     ClassFull,
		Timestamp: now.UTC().Truncate(time.Second),
		Ext:       DumpExt,
	}, tmp)
	if err != nil {
		return err
	}

	p.replicateArtifact(ctx, rep, art)
	p.enforceRetention(rep)
	return nil
}

// publishArtifact moves a staged payload into the local store: optional
// encryption, atomic publish, checksum sidecar over the published bytes,
// catalog entry. The temp file is consumed.
func (p *Pipeline) publishArtifact(ctx context.Context, rep *Report, art Artifact, tmp string) (Artifact, error) {
	publishName, publishPath := art.Name, tmp
	if p.enc != nil {
		encName := art.Name + EncryptedSuffix
		encTmp := p.local.TempPath(encName)
		if err := encryptFile(p.enc, tmp, encTmp); err != nil {
			rep.Failed("encrypt", err)
			return Artifact{}, err
		}
		os.Remove(tmp)
		publishName, publishPath = encName, encTmp
		art.Encrypted = true
		rep.Ok("encrypt", "")
	}

	if err := p.local.Publish(publishPath, publishName); err != nil {
		os.Remove(publishPath)
		rep.Failed("publish", err)
		return Artifact{}, err
	}
	sum, size, err := ChecksumFile(p.local.FullPath(publishName))
	if err != nil {
		rep.Failed("checksum", err)
		return Artifact{}, err
	}
	sidecar := FormatSidecar(sum, publishName)
	if err := p.local.Put(publishName+SidecarSuffix, strings.NewReader(sidecar), int64(len(sidecar))); err != nil {
		rep.Failed("checksum", err)
		return Artifact{}, err
	}
	rep.Ok("publish", publishName)

	art.Name = publishName
	art.Size = size
	art.Checksum = sum
	p.logger.Info("published artifact", "artifact", art.Name, "bytes", art.Size, "sha256", art.Checksum)

	if err := p.catalog.UpsertArtifact(art); err != nil {
		p.logger.Warn("catalog update failed", "artifact", art.Name, "error", err)
		rep.Degraded("catalog", err.Error())
	}
	return art, nil
}

// replicateArtifact copies an artifact and its sidecar to every configured
// replica tier. Failures are warnings: the local backup already succeeded.
func (p *Pipeline) replicateArtifact(ctx context.Context, rep *Report, art Artifact) {
	for _, target := range p.replicas {
		tier := target.Tier()
		step := "replicate-" + string(tier)
		if tier == TierNAS && (p.mounts == nil || !p.mounts.Mounted()) {
			rep.Skipped(step, "share not mounted")
			continue
		}
		err := p.retryNet(ctx, func(ctx context.Context) error {
			sum, err := copyVerified(p.local, target, art.Name)
			if err != nil {
				return err
			}
			if art.Checksum != "" && sum != art.Checksum {
				target.Delete(art.Name)
				return fmt.Errorf("replica of %s does not match sidecar checksum", art.Name)
			}
			return copyStored(p.local, target, art.SidecarName())
		})
		if err != nil {
			p.logger.Warn("replication failed", "tier", tier, "artifact", art.Name, "error", err)
			rep.Degraded(step, err.Error())
			continue
		}
		if err := p.catalog.MarkReplicated(art.Name, tier, p.clock.Now()); err != nil {
			p.logger.Warn("catalog update failed", "artifact", art.Name, "tier", tier, "error", err)
			rep.Degraded(step, err.Error())
			continue
		}
		p.logger.Info("replicated artifact", "tier", tier, "artifact", art.Name)
		rep.Ok(step, art.Name)
	}
}

func copyStored(src, dst ArtifactStore, name string) error {
	r, size, err := src.Open(name)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer r.Close()
	if err := dst.Put(name, r, size); err != nil {
		return fmt.Errorf("copying %s: %w", name, err)
	}
	return nil
}
