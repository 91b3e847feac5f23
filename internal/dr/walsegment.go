package dr

import (
	"regexp"
	"sort"
	"time"
)

// WALSegment is one archived write-ahead-log file. Segments are immutable
// once archived: the pipeline reads them, bundles copies, and never edits.
type WALSegment struct {
	Name       string // 24-char hex segment name, or a timeline .history file
	Path       string
	Size       int64
	ArchivedAt time.Time // archive file modification time
}

var (
	walSegmentRE = regexp.MustCompile(`^[0-9A-F]{24}(\.partial)?$`)
	walHistoryRE = regexp.MustCompile(`^[0-9A-F]{8}\.history$`)
	walBackupRE  = regexp.MustCompile(`^[0-9A-F]{24}\.[0-9A-F]{8}\.backup$`)
)

// IsWALFileName reports whether name looks like a file the engine's
// archive_command produces: a segment, a timeline history file, or a
// backup label. Anything else in the archive directory is ignored.
func IsWALFileName(name string) bool {
	return walSegmentRE.MatchString(name) || walHistoryRE.MatchString(name) || walBackupRE.MatchString(name)
}

// SortWALSegments orders segments by name, which for segment files is the
// engine's own monotonic sequence order.
func SortWALSegments(segments []WALSegment) {
	sort.Slice(segments, func(i, j int) bool { return segments[i].Name < segments[j].Name })
}

// SelectWALRange returns the segments archived strictly after `after` and
// at-or-before `atOrBefore`, in sequence order. A zero `atOrBefore` means
// no upper bound.
func SelectWALRange(segments []WALSegment, after, atOrBefore time.Time) []WALSegment {
	var out []WALSegment
	for _, s := range segments {
		if !s.ArchivedAt.After(after) {
			continue
		}
		if !atOrBefore.IsZero() && s.ArchivedAt.After(atOrBefore) {
			continue
		}
		out = append(out, s)
	}
	SortWALSegments(out)
	return out
}
