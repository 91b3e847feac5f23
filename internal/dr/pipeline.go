package dr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-retry"

	"pgdr-go/internal/notify"
)

// Settings are the domain parameters of the pipeline, built once from
// configuration at process start and immutable afterwards.
type Settings struct {
	// Prefix is the artifact name prefix, normally the database name.
	Prefix string

	// WALArchiveDir is where the engine's archive_command delivers WAL
	// segments.
	WALArchiveDir string

	// MinFreeBytes is the free-space precondition for a full backup.
	MinFreeBytes int64

	// MinFullSizeBytes is the size sanity threshold below which a full
	// dump is treated as corrupt and never published.
	MinFullSizeBytes int64

	// WaitReadyTimeout bounds the poll for engine readiness.
	WaitReadyTimeout time.Duration

	// VerifyWindow selects which full artifacts the verifier samples:
	// everything created within the window.
	VerifyWindow time.Duration

	// Retention is the per-{class,tier} TTL table.
	Retention RetentionPolicy

	// ReplicateBeforeExpire lists classes whose local copy must outlive
	// its TTL until an off-site replica is confirmed.
	ReplicateBeforeExpire map[Class]bool

	// StageDir is the root under which PITR staging directories are made.
	StageDir string

	// RetryBudget is the number of retries (beyond the first attempt)
	// for network operations. Never unbounded.
	RetryBudget uint64

	// RetryBackoff is the fixed delay between retry attempts.
	RetryBackoff time.Duration
}

// Pipeline implements the backup, verification, retention, and recovery
// operations over the stores and the database engine. Each operation is a
// single sequential run of blocking steps; the Coordinator provides the
// surrounding lock, mount session, and notification envelope.
type Pipeline struct {
	settings Settings
	local    LocalStore
	replicas []ArtifactStore
	mounts   MountManager // nil when no NAS is configured
	admin    EngineAdmin
	dumper   Dumper
	restorer Restorer
	catalog  Catalog
	enc      Encryptor // nil when encryption is disabled
	dec      Decryptor // nil when no identity is available
	sink     notify.Sink
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// Deps carries the pipeline's collaborators. Local, Admin, Dumper,
// Restorer, Catalog, Sink, Logger, Clock and IDGen are required; the rest
// are optional.
type Deps struct {
	Settings Settings
	Local    LocalStore
	Replicas []ArtifactStore
	Mounts   MountManager
	Admin    EngineAdmin
	Dumper   Dumper
	Restorer Restorer
	Catalog  Catalog
	Enc      Encryptor
	Dec      Decryptor
	Sink     notify.Sink
	Logger   Logger
	Clock    Clock
	IDGen    IDGenerator
}

func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{
		settings: deps.Settings,
		local:    deps.Local,
		replicas: deps.Replicas,
		mounts:   deps.Mounts,
		admin:    deps.Admin,
		dumper:   deps.Dumper,
		restorer: deps.Restorer,
		catalog:  deps.Catalog,
		enc:      deps.Enc,
		dec:      deps.Dec,
		sink:     deps.Sink,
		logger:   deps.Logger,
		clock:    deps.Clock,
		idgen:    deps.IDGen,
	}
}

// localArtifacts lists and parses the artifacts in the local store.
func (p *Pipeline) localArtifacts() ([]Artifact, error) {
	files, err := p.local.List()
	if err != nil {
		return nil, fmt.Errorf("listing local store: %w", err)
	}
	return Artifacts(files), nil
}

// reconcileCatalog aligns the catalog with the local store before a
// sweep-style operation reads it. Artifacts on disk without a row are
// registered, and rows whose local file vanished outside the pipeline
// are flagged missing. A flagged row whose file is back is cleared.
// The store stays the source of truth for existence; the catalog
// follows.
func (p *Pipeline) reconcileCatalog(rep *Report) {
	arts, err := p.localArtifacts()
	if err != nil {
		p.logger.Warn("catalog reconcile failed", "error", err)
		rep.Degraded("reconcile", err.Error())
		return
	}
	recs, err := p.catalog.ListArtifacts()
	if err != nil {
		p.logger.Warn("catalog reconcile failed", "error", err)
		rep.Degraded("reconcile", err.Error())
		return
	}
	known := make(map[string]ArtifactRecord, len(recs))
	for _, rec := range recs {
		known[rec.Name] = rec
	}

	onDisk := make(map[string]bool, len(arts))
	var registered, reappeared, vanished, failed int
	for _, a := range arts {
		onDisk[a.Name] = true
		rec, ok := known[a.Name]
		if !ok {
			a.Checksum = p.sidecarChecksum(a)
			if err := p.catalog.UpsertArtifact(a); err != nil {
				p.logger.Warn("catalog update failed", "artifact", a.Name, "error", err)
				failed++
				continue
			}
			p.logger.Info("registered unlisted artifact", "artifact", a.Name)
			registered++
			continue
		}
		if rec.Missing {
			if err := p.catalog.MarkMissing(a.Name, false); err != nil {
				p.logger.Warn("catalog update failed", "artifact", a.Name, "error", err)
				failed++
				continue
			}
			reappeared++
		}
	}
	for _, rec := range recs {
		if rec.Missing || onDisk[rec.Name] {
			continue
		}
		if err := p.catalog.MarkMissing(rec.Name, true); err != nil {
			p.logger.Warn("catalog update failed", "artifact", rec.Name, "error", err)
			failed++
			continue
		}
		p.logger.Info("artifact vanished from local store", "artifact", rec.Name)
		vanished++
	}

	detail := fmt.Sprintf("registered %d, marked %d missing", registered, vanished)
	if reappeared > 0 {
		detail += fmt.Sprintf(", %d reappeared", reappeared)
	}
	if failed > 0 {
		rep.Degraded("reconcile", fmt.Sprintf("%s, failed %d", detail, failed))
		return
	}
	rep.Ok("reconcile", detail)
}

// sidecarChecksum reads an artifact's recorded checksum from its sidecar
// in the local store, or returns the empty string when no sidecar is
// readable.
func (p *Pipeline) sidecarChecksum(a Artifact) string {
	r, _, err := p.local.Open(a.SidecarName())
	if err != nil {
		return ""
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	sum, err := ParseSidecar(data)
	if err != nil {
		return ""
	}
	return sum
}

// retryNet runs fn with the pipeline's fixed retry budget and backoff.
// Network operations are retried a small fixed number of times, never
// unboundedly.
func (p *Pipeline) retryNet(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(p.settings.RetryBudget, retry.NewConstant(p.settings.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// copyVerified streams the named file from src to dst and returns the
// SHA-256 of the bytes that crossed, so callers can confirm the replica
// matches the sidecar.
func copyVerified(src ArtifactStore, dst ArtifactStore, name string) (string, error) {
	r, size, err := src.Open(name)
	if err != nil {
		return "", fmt.Errorf("opening source: %w", err)
	}
	defer r.Close()

	h := sha256.New()
	if err := dst.Put(name, io.TeeReader(r, h), size); err != nil {
		return "", fmt.Errorf("writing replica: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// alert emits a notification, logging delivery failures instead of
// propagating them: a backup failure must never be masked by a failing
// notification channel.
func (p *Pipeline) alert(ctx context.Context, severity notify.Severity, msg string, fields map[string]string) {
	if p.sink == nil {
		return
	}
	ev := notify.Event{
		Severity:  severity,
		Message:   msg,
		Timestamp: p.clock.Now().UTC(),
		Fields:    fields,
	}
	if err := p.sink.Send(ctx, ev); err != nil {
		p.logger.Warn("notification delivery failed", "error", err, "message", msg)
	}
}
