package dr

import "context"

// MountManager controls the off-site network share session. Acquire and
// Release are idempotent; callers treat an Acquire error as "continue
// local-only" rather than aborting the pipeline.
type MountManager interface {
	// Acquire brings the share online: probe reachability first, then
	// mount. Returns nil when the session ends up mounted (including the
	// already-mounted no-op case).
	Acquire(ctx context.Context) error

	// Release unmounts if and only if this session mounted the share.
	// It is a no-op otherwise and safe to call on every exit path.
	Release() error

	// Mounted reports whether the session is currently in the mounted state.
	Mounted() bool

	// Path returns the local mount point.
	Path() string
}
