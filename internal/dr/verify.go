package dr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pgdr-go/internal/notify"
)

// VerifyDBPrefix names disposable trial-restore databases. Databases with
// this prefix are created, restored into, and dropped by verification
// runs; leftovers from interrupted runs are swept on the next run.
const VerifyDBPrefix = "pgdr_verify_"

// Verify trial-restores recent full backups into disposable databases and
// records the outcome. A verification failure fails the run but never
// deletes the artifact: what to do with a corrupt backup is the
// operator's call.
func (p *Pipeline) Verify(ctx context.Context, rep *Report, recheck bool) error {
	p.reconcileCatalog(rep)

	if err := p.admin.WaitReady(ctx, p.settings.WaitReadyTimeout); err != nil {
		rep.Failed("engine-ready", err)
		return err
	}
	rep.Ok("engine-ready", "")

	p.sweepTrialDatabases(ctx, rep)

	arts, err := p.localArtifacts()
	if err != nil {
		rep.Failed("scan-local", err)
		return err
	}
	cutoff := p.clock.Now().Add(-p.settings.VerifyWindow)
	var candidates []Artifact
	for _, a := range arts {
		if a.Class == ClassFull && !a.Timestamp.Before(cutoff) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		rep.Skipped("verify", "no full backups in window")
		return nil
	}

	var failures int
	for _, a := range candidates {
		step := "verify-" + a.Name
		if !recheck {
			rec, err := p.catalog.GetArtifact(a.Name)
			if err == nil && rec != nil && rec.Verification == VerifyPassed {
				rep.Skipped(step, "already verified")
				continue
			}
		}
		if a.Encrypted && p.dec == nil {
			if !p.checksumOnly(ctx, rep, step, a) {
				failures++
			}
			continue
		}
		if err := p.verifyArtifact(ctx, a); err != nil {
			failures++
			rep.Failed(step, err)
			p.alert(ctx, notify.SeverityError,
				fmt.Sprintf("backup verification failed for %s: %v", a.Name, err),
				map[string]string{"artifact": a.Name})
			continue
		}
		rep.Ok(step, "trial restore verified")
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d backups failed verification", failures, len(candidates))
	}
	return nil
}

// verifyArtifact checks the artifact against its sidecar and then
// restores it into a disposable database. The two failure modes stay
// distinguishable in the catalog: "checksum mismatch" means the stored
// bytes changed, "trial restore" means the engine rejected them.
func (p *Pipeline) verifyArtifact(ctx context.Context, a Artifact) error {
	if _, err := p.verifyChecksum(a); err != nil {
		p.markVerified(a.Name, VerifyFailed, err.Error())
		return err
	}

	path := p.local.FullPath(a.Name)
	if a.Encrypted {
		tmp := p.local.TempPath(strings.TrimSuffix(a.Name, EncryptedSuffix))
		defer os.Remove(tmp)
		if err := decryptFile(p.dec, path, tmp); err != nil {
			p.markVerified(a.Name, VerifyFailed, "decrypt: "+err.Error())
			return err
		}
		path = tmp
	}

	dbname := VerifyDBPrefix + strings.ReplaceAll(p.idgen.New(), "-", "")
	if err := p.admin.CreateDatabase(ctx, dbname); err != nil {
		return fmt.Errorf("creating trial database: %w", err)
	}
	defer func() {
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := p.admin.DropDatabase(dropCtx, dbname); err != nil {
			p.logger.Warn("trial database drop failed", "database", dbname, "error", err)
		}
	}()

	p.logger.Info("trial restoring", "artifact", a.Name, "database", dbname)
	if err := p.restorer.RestoreInto(ctx, dbname, path); err != nil {
		p.markVerified(a.Name, VerifyFailed, "trial restore: "+err.Error())
		return fmt.Errorf("trial restore into %s: %w", dbname, err)
	}
	p.markVerified(a.Name, VerifyPassed, "")
	return nil
}

// verifyChecksum recomputes the artifact's SHA-256, compares it to the
// sidecar, and returns the computed sum.
func (p *Pipeline) verifyChecksum(a Artifact) (string, error) {
	r, _, err := p.local.Open(a.SidecarName())
	if err != nil {
		return "", fmt.Errorf("opening sidecar: %w", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return "", fmt.Errorf("reading sidecar: %w", err)
	}
	want, err := ParseSidecar(data)
	if err != nil {
		return "", fmt.Errorf("parsing sidecar for %s: %w", a.Name, err)
	}
	got, _, err := ChecksumFile(p.local.FullPath(a.Name))
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", a.Name, err)
	}
	if got != want {
		return "", fmt.Errorf("checksum mismatch for %s: sidecar %s, computed %s", a.Name, want, got)
	}
	return got, nil
}

// checksumOnly covers encrypted artifacts when no decryption identity is
// configured: bytes are still checked against the sidecar, but the trial
// restore cannot run, so the artifact stays unverified and the run is
// degraded. It reports whether the checksum held.
func (p *Pipeline) checksumOnly(ctx context.Context, rep *Report, step string, a Artifact) bool {
	if _, err := p.verifyChecksum(a); err != nil {
		p.markVerified(a.Name, VerifyFailed, err.Error())
		rep.Failed(step, err)
		p.alert(ctx, notify.SeverityError,
			fmt.Sprintf("backup verification failed for %s: %v", a.Name, err),
			map[string]string{"artifact": a.Name})
		return false
	}
	p.logger.Warn("trial restore skipped, no decryption identity configured", "artifact", a.Name)
	rep.Degraded(step, "checksum ok, trial restore skipped (no decryption identity)")
	p.alert(ctx, notify.SeverityWarning,
		fmt.Sprintf("cannot trial-restore %s: no decryption identity configured", a.Name),
		map[string]string{"artifact": a.Name})
	return true
}

func (p *Pipeline) markVerified(name string, status VerificationStatus, detail string) {
	if err := p.catalog.MarkVerified(name, status, detail, p.clock.Now()); err != nil {
		p.logger.Warn("catalog update failed", "artifact", name, "error", err)
	}
}

// sweepTrialDatabases drops disposable databases left behind by
// interrupted verification runs.
func (p *Pipeline) sweepTrialDatabases(ctx context.Context, rep *Report) {
	names, err := p.admin.ListDatabases(ctx, VerifyDBPrefix)
	if err != nil {
		p.logger.Warn("trial database sweep failed", "error", err)
		rep.Degraded("sweep", err.Error())
		return
	}
	if len(names) == 0 {
		return
	}
	var dropped, failed int
	for _, name := range names {
		if err := p.admin.DropDatabase(ctx, name); err != nil {
			p.logger.Warn("trial database drop failed", "database", name, "error", err)
			failed++
			continue
		}
		dropped++
	}
	if failed > 0 {
		rep.Degraded("sweep", fmt.Sprintf("dropped %d leftover trial databases, failed %d", dropped, failed))
		return
	}
	rep.Ok("sweep", fmt.Sprintf("dropped %d leftover trial databases", dropped))
}
