package dr

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Class distinguishes full database dumps from incremental WAL bundles.
type Class string

const (
	ClassFull        Class = "full"
	ClassIncremental Class = "incremental"
)

// Tier identifies a storage tier an artifact copy lives on.
type Tier string

const (
	TierLocal Tier = "local"
	TierNAS   Tier = "nas"
	TierS3    Tier = "s3"
)

// VerificationStatus tracks the outcome of integrity verification.
type VerificationStatus string

const (
	VerifyUnverified VerificationStatus = "unverified"
	VerifyPassed     VerificationStatus = "passed"
	VerifyFailed     VerificationStatus = "failed"
)

// EncryptedSuffix marks an artifact encrypted with the configured recipient key.
const EncryptedSuffix = ".age"

// SidecarSuffix marks a checksum sidecar file.
const SidecarSuffix = ".sha256"

// DumpExt is the payload extension of full dumps, produced in the
// engine's custom archive format.
const DumpExt = "dump"

// WALBundleExt is the payload extension of incremental WAL bundles.
const WALBundleExt = "tar.gz"

// TimestampLayout is the timestamp embedded in artifact names.
const TimestampLayout = "20060102_150405"

// Artifact is one backup artifact as identified by its file name.
// Identity is (Class, Timestamp); everything else is derived or measured.
type Artifact struct {
	Name      string // file name within its store, e.g. appdb_full_backup_20260823_031500.dump
	Class     Class
	Timestamp time.Time // parsed from the name, UTC
	Ext       string    // payload extension without encryption suffix, e.g. "dump" or "tar.gz"
	Encrypted bool
	Size      int64
	Checksum  string // hex SHA-256 from the sidecar, empty until computed
}

// SidecarName returns the checksum sidecar file name for this artifact.
func (a Artifact) SidecarName() string { return a.Name + SidecarSuffix }

// artifactNameRE matches {prefix}_{class}_backup_{YYYYMMDD_HHMMSS}.{ext...}
var artifactNameRE = regexp.MustCompile(`^(.+)_(full|incremental)_backup_(\d{8}_\d{6})\.(.+)$`)

// FormatArtifactName builds the base artifact name (without payload extension).
// The timestamp is rendered in UTC.
func FormatArtifactName(prefix string, class Class, t time.Time) string {
	return fmt.Sprintf("%s_%s_backup_%s", prefix, class, t.UTC().Format(TimestampLayout))
}

// ParseArtifactName parses an artifact file name. It returns false for
// sidecars, temp files, and anything else that is not an artifact.
func ParseArtifactName(name string) (Artifact, bool) {
	if strings.HasSuffix(name, SidecarSuffix) {
		return Artifact{}, false
	}
	m := artifactNameRE.FindStringSubmatch(name)
	if m == nil {
		return Artifact{}, false
	}
	ts, err := time.Parse(TimestampLayout, m[3])
	if err != nil {
		return Artifact{}, false
	}
	a := Artifact{
		Name:      name,
		Class:     Class(m[2]),
		Timestamp: ts.UTC(),
		Ext:       m[4],
	}
	if strings.HasSuffix(a.Ext, EncryptedSuffix) {
		a.Encrypted = true
		a.Ext = strings.TrimSuffix(a.Ext, EncryptedSuffix)
	}
	return a, true
}

// LatestFull returns the most recent full artifact in the given set,
// or false when the set contains no full artifact.
func LatestFull(artifacts []Artifact) (Artifact, bool) {
	var best Artifact
	found := false
	for _, a := range artifacts {
		if a.Class != ClassFull {
			continue
		}
		if !found || a.Timestamp.After(best.Timestamp) {
			best = a
			found = true
		}
	}
	return best, found
}

// LatestFullBefore returns the full artifact with the greatest timestamp
// strictly before the target, or false when none qualifies.
func LatestFullBefore(artifacts []Artifact, target time.Time) (Artifact, bool) {
	var best Artifact
	found := false
	for _, a := range artifacts {
		if a.Class != ClassFull || !a.Timestamp.Before(target) {
			continue
		}
		if !found || a.Timestamp.After(best.Timestamp) {
			best = a
			found = true
		}
	}
	return best, found
}
