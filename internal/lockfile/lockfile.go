// Package lockfile serializes pipeline runs with a PID-stamped lock file.
// A lock whose recorded process no longer exists is stale and gets
// superseded; a lock held by a live process makes Acquire fail fast with
// AlreadyLockedError.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"pgdr-go/internal/dr"
)

// AlreadyLockedError reports the live process currently holding the lock.
type AlreadyLockedError struct {
	Path string
	PID  int
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("lock %s is held by running process %d", e.Path, e.PID)
}

// Lock is a PID-stamped exclusive lock at a fixed path.
type Lock struct {
	path string
	held bool
}

var _ dr.RunLock = (*Lock)(nil)

func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock. It never waits on a live holder: contention is
// expected under overlapping schedules and the younger run simply yields.
// One stale lock is cleared and the acquisition retried once.
func (l *Lock) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.path)
				return fmt.Errorf("writing lock %s: %w", l.path, errors.Join(werr, cerr))
			}
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("creating lock %s: %w", l.path, err)
		}

		pid, perr := readPID(l.path)
		if perr == nil && processAlive(pid) {
			return &AlreadyLockedError{Path: l.path, PID: pid}
		}
		// Holder is gone or the file is corrupt: supersede it.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale lock %s: %w", l.path, err)
		}
	}
	return fmt.Errorf("lock %s: still contended after clearing stale lock", l.path)
}

// Release removes the lock file. Releasing a lock that was never acquired
// is a no-op.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid in %s", path)
	}
	return pid, nil
}

// processAlive probes the PID with a null signal. EPERM still means the
// process exists, just under another owner.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
