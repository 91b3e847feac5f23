package dr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// PITRPlan describes a prepared point-in-time recovery staging directory.
type PITRPlan struct {
	Target       time.Time
	Base         Artifact
	StageDir     string
	DumpPath     string
	WALDir       string
	WALCount     int
	RecoveryConf string
	ManifestPath string
}

// pitrManifest is the machine-readable record written into the staging
// directory.
type pitrManifest struct {
	Target      time.Time `json:"target"`
	BaseName    string    `json:"base_artifact"`
	BaseSHA256  string    `json:"base_sha256"`
	Bundles     []string  `json:"wal_bundles"`
	RawSegments []string  `json:"raw_segments"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id"`
}

// PITRPrepare stages everything needed to recover to the target time: the
// newest full backup strictly before the target, the WAL archived from
// that backup up past the target, and a recovery configuration snippet.
// Selection failures happen before any filesystem side effect.
func (p *Pipeline) PITRPrepare(ctx context.Context, rep *Report, target time.Time) (*PITRPlan, error) {
	now := p.clock.Now()
	if target.After(now) {
		rep.Failed("select-base", ErrFutureTarget)
		return nil, fmt.Errorf("%w: %s", ErrFutureTarget, target.Format(time.RFC3339))
	}

	arts, err := p.localArtifacts()
	if err != nil {
		rep.Failed("scan-local", err)
		return nil, err
	}
	base, ok := LatestFullBefore(arts, target)
	if !ok {
		rep.Failed("select-base", ErrNoSuitableBackup)
		return nil, fmt.Errorf("%w (target %s)", ErrNoSuitableBackup, target.Format(time.RFC3339))
	}
	if base.Encrypted && p.dec == nil {
		err := fmt.Errorf("base backup %s is encrypted and no decryption identity is configured", base.Name)
		rep.Failed("select-base", err)
		return nil, err
	}
	bundles := selectBundles(arts, base.Timestamp, target)
	rep.Ok("select-base", fmt.Sprintf("%s plus %d WAL bundles", base.Name, len(bundles)))
	p.logger.Info("selected recovery base", "artifact", base.Name, "target", target, "bundles", len(bundles))

	sum, err := p.verifyChecksum(base)
	if err != nil {
		rep.Failed("checksum", err)
		return nil, err
	}
	base.Checksum = sum
	rep.Ok("checksum", base.Name)

	runID := strings.ReplaceAll(p.idgen.New(), "-", "")
	shortID := runID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	stage := filepath.Join(p.settings.StageDir,
		fmt.Sprintf("pitr_%s_%s", target.UTC().Format(TimestampLayout), shortID))
	walDir := filepath.Join(stage, "wal")
	if err := os.MkdirAll(walDir, 0o700); err != nil {
		rep.Failed("stage", fmt.Errorf("creating staging directory: %w", err))
		return nil, err
	}
	cleanup := func() { os.RemoveAll(stage) }

	dumpPath, err := p.stageBase(stage, base)
	if err != nil {
		cleanup()
		rep.Failed("stage", err)
		return nil, err
	}

	staged, err := p.stageWAL(walDir, bundles)
	if err != nil {
		cleanup()
		rep.Failed("stage", err)
		return nil, err
	}

	raw, err := p.stageRawSegments(walDir, bundles, base, target)
	if err != nil {
		cleanup()
		rep.Failed("stage", err)
		return nil, err
	}
	rep.Ok("stage", fmt.Sprintf("%d WAL files staged", staged+len(raw)))

	confPath := filepath.Join(stage, "recovery.conf")
	conf := recoverySnippet(walDir, target)
	if err := os.WriteFile(confPath, []byte(conf), 0o600); err != nil {
		cleanup()
		rep.Failed("stage", fmt.Errorf("writing recovery.conf: %w", err))
		return nil, err
	}

	manifest := pitrManifest{
		Target:      target.UTC(),
		BaseName:    base.Name,
		BaseSHA256:  base.Checksum,
		Bundles:     artifactNames(bundles),
		RawSegments: raw,
		CreatedAt:   now.UTC(),
		RunID:       runID,
	}
	manifestPath := filepath.Join(stage, "manifest.json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		cleanup()
		rep.Failed("stage", fmt.Errorf("encoding manifest: %w", err))
		return nil, err
	}
	if err := os.WriteFile(manifestPath, data, 0o600); err != nil {
		cleanup()
		rep.Failed("stage", fmt.Errorf("writing manifest: %w", err))
		return nil, err
	}
	rep.Ok("manifest", manifestPath)
	p.logger.Info("recovery staging ready", "stage", stage, "target", target)

	return &PITRPlan{
		Target:       target,
		Base:         base,
		StageDir:     stage,
		DumpPath:     dumpPath,
		WALDir:       walDir,
		WALCount:     staged + len(raw),
		RecoveryConf: confPath,
		ManifestPath: manifestPath,
	}, nil
}

// selectBundles picks the incremental bundles covering (base, target]:
// everything after the base up to and including the first bundle at or
// after the target, which carries the segments spanning the target itself.
func selectBundles(arts []Artifact, base time.Time, target time.Time) []Artifact {
	var out []Artifact
	for _, a := range arts {
		if a.Class == ClassIncremental && a.Timestamp.After(base) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	for i, a := range out {
		if !a.Timestamp.Before(target) {
			return out[:i+1]
		}
	}
	return out
}

// stageBase copies the base dump into the staging directory, decrypting
// when needed, and verifies the copy arrived intact.
func (p *Pipeline) stageBase(stage string, base Artifact) (string, error) {
	src := p.local.FullPath(base.Name)
	dstName := strings.TrimSuffix(base.Name, EncryptedSuffix)
	dst := filepath.Join(stage, dstName)
	if base.Encrypted {
		if err := decryptFile(p.dec, src, dst); err != nil {
			return "", fmt.Errorf("staging base: %w", err)
		}
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("staging base: %w", err)
	}
	sum, _, err := ChecksumFile(dst)
	if err != nil {
		return "", fmt.Errorf("staging base: %w", err)
	}
	if base.Checksum != "" && sum != base.Checksum {
		return "", fmt.Errorf("staged copy of %s does not match its checksum", base.Name)
	}
	return dst, nil
}

// stageWAL extracts each bundle's segments into the staging WAL directory
// and returns the total file count afterwards. Encrypted bundles are
// decrypted to a scratch file outside the WAL directory first.
func (p *Pipeline) stageWAL(walDir string, bundles []Artifact) (int, error) {
	for _, b := range bundles {
		src := p.local.FullPath(b.Name)
		if b.Encrypted {
			tmp := filepath.Join(filepath.Dir(walDir), "."+strings.TrimSuffix(b.Name, EncryptedSuffix))
			if err := decryptFile(p.dec, src, tmp); err != nil {
				return 0, fmt.Errorf("staging %s: %w", b.Name, err)
			}
			src = tmp
		}
		err := extractWALBundle(src, walDir)
		if b.Encrypted {
			os.Remove(src)
		}
		if err != nil {
			return 0, fmt.Errorf("staging %s: %w", b.Name, err)
		}
	}
	return countDir(walDir)
}

// stageRawSegments copies archive-directory segments newer than the last
// staged bundle, so recovery targets close to now are reachable before
// the next bundling run.
func (p *Pipeline) stageRawSegments(walDir string, bundles []Artifact, base Artifact, target time.Time) ([]string, error) {
	covered := base.Timestamp
	for _, b := range bundles {
		if b.Timestamp.After(covered) {
			covered = b.Timestamp
		}
	}
	if !covered.Before(target) {
		return nil, nil
	}
	segs, err := p.scanWALArchive()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range SelectWALRange(segs, covered, time.Time{}) {
		dst := filepath.Join(walDir, s.Name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(s.Path, dst); err != nil {
			return nil, fmt.Errorf("staging segment %s: %w", s.Name, err)
		}
		names = append(names, s.Name)
	}
	return names, nil
}

// recoverySnippet renders the restore settings for the staged WAL. The
// operator appends these to the recovered instance's configuration and
// creates recovery.signal.
func recoverySnippet(walDir string, target time.Time) string {
	return fmt.Sprintf("restore_command = 'cp %s/%%f %%p'\nrecovery_target_time = '%s'\nrecovery_target_timeline = 'latest'\n",
		walDir, target.UTC().Format("2006-01-02 15:04:05"))
}

func artifactNames(arts []Artifact) []string {
	names := make([]string, 0, len(arts))
	for _, a := range arts {
		names = append(names, a.Name)
	}
	return names
}

func countDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}
	return len(entries), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return out.Close()
}
