package dr

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// bundleWAL writes the given segments into a gzip tarball at dstPath.
// Entries are stored flat under their segment names.
func bundleWAL(dstPath string, segs []WALSegment) error {
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstPath, err)
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, seg := range segs {
		if err := addSegment(tw, seg); err != nil {
			tw.Close()
			gz.Close()
			out.Close()
			os.Remove(dstPath)
			return err
		}
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("finalizing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("finalizing gzip: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("closing %s: %w", dstPath, err)
	}
	return nil
}

func addSegment(tw *tar.Writer, seg WALSegment) error {
	f, err := os.Open(seg.Path)
	if err != nil {
		return fmt.Errorf("opening segment %s: %w", seg.Name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat segment %s: %w", seg.Name, err)
	}
	hdr := &tar.Header{
		Name:    seg.Name,
		Mode:    0o600,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", seg.Name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("writing segment %s: %w", seg.Name, err)
	}
	return nil
}

// extractWALBundle unpacks a gzip tarball of WAL segments into dstDir.
// Entry names must be bare segment names; anything with a path separator
// is rejected.
func extractWALBundle(srcPath, dstDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip %s: %w", srcPath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar %s: %w", srcPath, err)
		}
		name := hdr.Name
		if strings.ContainsRune(name, os.PathSeparator) || name != filepath.Base(name) {
			return fmt.Errorf("bundle %s contains invalid entry name %q", srcPath, name)
		}
		if err := writeExtracted(filepath.Join(dstDir, name), tr); err != nil {
			return err
		}
	}
}

func writeExtracted(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("extracting %s: %w", path, err)
	}
	return out.Close()
}
