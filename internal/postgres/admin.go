// Package postgres talks to the protected engine: administrative
// statements over a maintenance connection, and dump/restore through the
// engine's own tools.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
)

// Admin executes administrative statements against the engine's
// maintenance database. Identifiers are always quoted through the
// driver's sanitizer and values always bind as parameters.
type Admin struct {
	db     *sql.DB
	logger dr.Logger
}

// NewAdminFromConfig opens a maintenance connection for readiness checks
// and trial-database lifecycle.
func NewAdminFromConfig(cfg *config.DatabaseConfig, logger dr.Logger) (*Admin, error) {
	db, err := sql.Open("pgx", MaintenanceDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(2)
	return &Admin{db: db, logger: logger}, nil
}

// DSN renders a connection string for the named database.
func DSN(cfg *config.DatabaseConfig, dbname string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + dbname,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MaintenanceDSN renders the connection string for the engine's
// always-present maintenance database.
func MaintenanceDSN(cfg *config.DatabaseConfig) string {
	return DSN(cfg, "postgres")
}

// WaitReady polls the engine until it accepts connections or the timeout
// elapses. The engine replays WAL for a while after boot, so early ping
// failures are expected and only the deadline makes them fatal.
func (a *Admin) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.db.PingContext(pingCtx)
		pingCancel()
		if err == nil {
			return nil
		}
		lastErr = err
		a.logger.Debug("engine not ready yet", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("engine not ready after %s: %w", timeout, lastErr)
		case <-time.After(2 * time.Second):
		}
	}
}

// DatabaseExists reports whether a database with this name exists.
func (a *Admin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking database %s: %w", name, err)
	}
	return exists, nil
}

// ListDatabases returns the names of databases starting with prefix.
func (a *Admin) ListDatabases(ctx context.Context, prefix string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT datname FROM pg_database WHERE datname LIKE $1 || '%' ORDER BY datname", prefix)
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning database name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	return names, nil
}

// CreateDatabase creates an empty database owned by the connection user.
func (a *Admin) CreateDatabase(ctx context.Context, name string) error {
	// DDL takes no bind parameters; the identifier is quoted instead.
	stmt := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	a.logger.Debug("created database", "database", name)
	return nil
}

// DropDatabase drops the named database, disconnecting any sessions
// still attached to it.
func (a *Admin) DropDatabase(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{name}.Sanitize())
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("dropping database %s: %w", name, err)
	}
	a.logger.Debug("dropped database", "database", name)
	return nil
}

func (a *Admin) Close() error {
	return a.db.Close()
}

// Compile-time check that Admin implements dr.EngineAdmin
var _ dr.EngineAdmin = (*Admin)(nil)
