package dr

import (
	"io"
	"time"
)

// StoredFile describes one file in an artifact store listing.
type StoredFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ArtifactStore is the uniform read/write/delete surface over one storage
// tier. Implementations stream content and never buffer whole artifacts.
// Writes are atomic: a failed Put must not leave a partial file at name.
type ArtifactStore interface {
	// Tier identifies which storage tier this store writes to.
	Tier() Tier

	// Put stores the content read from r under name. size is the expected
	// byte count; a short or long read is an error.
	Put(name string, r io.Reader, size int64) error

	// Open opens the named file for reading and reports its size.
	Open(name string) (io.ReadCloser, int64, error)

	// List returns every file currently in the store, sidecars included.
	List() ([]StoredFile, error)

	// Delete removes the named file. Deleting a missing file is an error
	// the caller may choose to ignore via IsNotExist.
	Delete(name string) error

	// Exists reports whether the named file is present.
	Exists(name string) (bool, error)
}

// LocalStore is the local-tier store with the extra operations the
// producers need: dump tools write into the store's own temp area and the
// finished file is renamed into place, so a failed dump never leaves a
// half-written artifact at its final name.
type LocalStore interface {
	ArtifactStore

	// Dir returns the store's directory on the local filesystem.
	Dir() string

	// TempPath returns a path inside the store to write a work file to.
	// Temp files are invisible to List and are swept by Put/Publish failures.
	TempPath(name string) string

	// Publish atomically renames a finished temp file to its final name.
	Publish(tempPath, name string) error

	// FullPath returns the absolute path of a stored file.
	FullPath(name string) string
}

// Artifacts filters a store listing down to parseable backup artifacts.
func Artifacts(files []StoredFile) []Artifact {
	var out []Artifact
	for _, f := range files {
		a, ok := ParseArtifactName(f.Name)
		if !ok {
			continue
		}
		a.Size = f.Size
		out = append(out, a)
	}
	return out
}
