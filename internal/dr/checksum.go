package dr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumReader consumes r and returns the hex SHA-256 of its bytes
// together with the number of bytes read.
func ChecksumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ChecksumFile returns the hex SHA-256 of the file at path.
func ChecksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ChecksumReader(f)
}

// FormatSidecar renders a sha256sum-compatible sidecar line for an artifact.
func FormatSidecar(sum, artifactName string) string {
	return fmt.Sprintf("%s  %s\n", sum, artifactName)
}

// ParseSidecar extracts the checksum from sidecar content. It accepts the
// standard "<hex>  <name>" line and tolerates a bare hex digest.
func ParseSidecar(data []byte) (string, error) {
	line := strings.TrimSpace(string(data))
	if line == "" {
		return "", fmt.Errorf("empty checksum sidecar")
	}
	fields := strings.Fields(line)
	sum := strings.ToLower(fields[0])
	if len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum %q: want %d hex chars, got %d", fields[0], sha256.Size*2, len(sum))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("malformed checksum %q: %w", fields[0], err)
	}
	return sum, nil
}
