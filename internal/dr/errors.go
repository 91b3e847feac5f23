package dr

import "errors"

var (
	// ErrNoSuitableBackup means no full backup exists with a timestamp
	// strictly before the requested recovery target.
	ErrNoSuitableBackup = errors.New("no full backup precedes the recovery target")

	// ErrFutureTarget means the requested recovery target lies in the
	// future, which no backup can reach.
	ErrFutureTarget = errors.New("recovery target is in the future")

	// ErrNoFullBackup means an operation that requires an existing full
	// backup (such as a WAL bundle) found none.
	ErrNoFullBackup = errors.New("no full backup exists")

	// ErrNotMounted is returned by NAS-tier store operations attempted
	// while the mount session is not in the mounted state.
	ErrNotMounted = errors.New("network share is not mounted")
)
