//go:build unix

package mount

import (
	"path/filepath"
	"syscall"
)

// isMountPoint reports whether path is a filesystem boundary, detected by
// comparing its device ID with its parent's. A missing path is simply not
// a mount point.
func isMountPoint(path string) (bool, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		if err == syscall.ENOENT {
			return false, nil
		}
		return false, err
	}
	var parent syscall.Stat_t
	if err := syscall.Stat(filepath.Dir(path), &parent); err != nil {
		return false, err
	}
	return st.Dev != parent.Dev, nil
}
