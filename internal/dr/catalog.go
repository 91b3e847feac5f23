package dr

import "time"

// ArtifactRecord is an artifact's catalog row: the artifact itself plus
// the status the filesystem cannot carry. The store remains the source of
// truth for existence; the catalog carries verification and replication
// state and survives artifact deletion only as run history context.
type ArtifactRecord struct {
	Artifact
	Verification VerificationStatus
	VerifyDetail string
	VerifiedAt   time.Time
	Replicas     []Tier
	Missing      bool // true when the catalog row's file vanished from the store
}

// RunRecord is one pipeline invocation recorded in the catalog.
type RunRecord struct {
	ID         int64
	Operation  string
	Status     string // "success", "degraded", or "failed"
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Catalog persists artifact status and run history. All methods are keyed
// by artifact name, which encodes the (class, timestamp) identity.
type Catalog interface {
	// UpsertArtifact records an artifact, preserving any existing
	// verification and replication state for the same name.
	UpsertArtifact(a Artifact) error

	// MarkVerified sets the verification outcome for an artifact.
	MarkVerified(name string, status VerificationStatus, detail string, at time.Time) error

	// MarkReplicated confirms a replica of the artifact on a tier.
	MarkReplicated(name string, tier Tier, at time.Time) error

	// ReplicaTiers lists the tiers holding a confirmed replica.
	ReplicaTiers(name string) ([]Tier, error)

	// ClearReplica withdraws a replica confirmation, typically after the
	// replica was pruned.
	ClearReplica(name string, tier Tier) error

	// GetArtifact returns the catalog row for name, or nil when absent.
	GetArtifact(name string) (*ArtifactRecord, error)

	// ListArtifacts returns all catalog rows, newest first.
	ListArtifacts() ([]ArtifactRecord, error)

	// MarkMissing flags rows whose files are gone; present re-appears on
	// the next UpsertArtifact.
	MarkMissing(name string, missing bool) error

	// DeleteArtifact removes an artifact's row and replica confirmations.
	DeleteArtifact(name string) error

	// StartRun opens a run-history row and returns its ID.
	StartRun(operation string, startedAt time.Time) (int64, error)

	// FinishRun closes a run-history row.
	FinishRun(id int64, status, detail string, finishedAt time.Time) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]RunRecord, error)

	Close() error
}
