package dr

import (
	"context"
	"time"
)

// EngineAdmin is the administrative surface of the database engine:
// readiness probing and disposable-database lifecycle for trial restores.
// Implementations must use parameterized statements or sanitized
// identifiers; artifact and database names are never interpolated raw.
type EngineAdmin interface {
	// WaitReady polls the engine until it accepts connections or the
	// timeout elapses. Exceeding the timeout is a hard failure.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// DatabaseExists reports whether a database with this name exists.
	DatabaseExists(ctx context.Context, name string) (bool, error)

	// ListDatabases returns the names of databases whose name starts with
	// prefix.
	ListDatabases(ctx context.Context, prefix string) ([]string, error)

	// CreateDatabase creates an empty database owned by the connection user.
	CreateDatabase(ctx context.Context, name string) error

	// DropDatabase drops the named database, disconnecting any sessions.
	DropDatabase(ctx context.Context, name string) error

	Close() error
}

// Dumper produces one consistent full logical dump of the configured
// database at path. The dump is portable across hosts: ownership and
// privilege statements are stripped and compression is applied.
type Dumper interface {
	DumpTo(ctx context.Context, path string) error
}

// Restorer loads a full dump artifact into the named (already created)
// database. The artifact at path must be plaintext; decryption happens
// before restore.
type Restorer interface {
	RestoreInto(ctx context.Context, dbname, path string) error
}
