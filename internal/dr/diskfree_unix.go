//go:build unix

package dr

import (
	"fmt"
	"syscall"
)

// FreeBytes reports the free space on the filesystem holding path,
// as available to an unprivileged writer.
func FreeBytes(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
