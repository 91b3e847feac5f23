// Package catalog persists artifact status and run history in SQLite.
// The store directories stay the source of truth for which artifacts
// exist; the catalog carries what a directory listing cannot, namely
// verification outcomes, replica confirmations, and run history.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pgdr-go/internal/catalog/migrations"
	"pgdr-go/internal/dr"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLite implements dr.Catalog on a single SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if necessary) the catalog at path and brings
// its schema up to date. path can be ":memory:" for tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog %s: %w", path, err)
	}
	return &SQLite{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the catalog depends on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// Foreign keys are OFF by default in SQLite; replica rows cascade on
	// artifact deletion, so they must be on.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// A status query may race a scheduled run; wait for locks briefly
	// instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the catalog file path (or ":memory:").
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) UpsertArtifact(a dr.Artifact) error {
	query := `INSERT INTO artifacts (name, class, timestamp, ext, encrypted, size, checksum, missing)
	          VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	          ON CONFLICT(name) DO UPDATE SET
	              size = excluded.size,
	              checksum = excluded.checksum,
	              encrypted = excluded.encrypted,
	              missing = 0`

	_, err := s.db.Exec(query,
		a.Name, string(a.Class), a.Timestamp.UTC(), a.Ext, a.Encrypted, a.Size, a.Checksum)
	if err != nil {
		return fmt.Errorf("upserting artifact %s: %w", a.Name, err)
	}
	return nil
}

func (s *SQLite) MarkVerified(name string, status dr.VerificationStatus, detail string, at time.Time) error {
	if err := s.ensureRow(name); err != nil {
		return err
	}
	query := `UPDATE artifacts SET verification = ?, verify_detail = ?, verified_at = ? WHERE name = ?`
	if _, err := s.db.Exec(query, string(status), detail, at.UTC(), name); err != nil {
		return fmt.Errorf("marking %s verified: %w", name, err)
	}
	return nil
}

func (s *SQLite) MarkReplicated(name string, tier dr.Tier, at time.Time) error {
	if err := s.ensureRow(name); err != nil {
		return err
	}
	query := `INSERT INTO replicas (artifact_name, tier, replicated_at)
	          VALUES (?, ?, ?)
	          ON CONFLICT(artifact_name, tier) DO UPDATE SET replicated_at = excluded.replicated_at`
	if _, err := s.db.Exec(query, name, string(tier), at.UTC()); err != nil {
		return fmt.Errorf("marking %s replicated to %s: %w", name, tier, err)
	}
	return nil
}

func (s *SQLite) ReplicaTiers(name string) ([]dr.Tier, error) {
	rows, err := s.db.Query(`SELECT tier FROM replicas WHERE artifact_name = ? ORDER BY tier`, name)
	if err != nil {
		return nil, fmt.Errorf("listing replicas of %s: %w", name, err)
	}
	defer rows.Close()

	var tiers []dr.Tier
	for rows.Next() {
		var tier string
		if err := rows.Scan(&tier); err != nil {
			return nil, fmt.Errorf("scanning replica tier: %w", err)
		}
		tiers = append(tiers, dr.Tier(tier))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing replicas of %s: %w", name, err)
	}
	return tiers, nil
}

func (s *SQLite) ClearReplica(name string, tier dr.Tier) error {
	_, err := s.db.Exec(`DELETE FROM replicas WHERE artifact_name = ? AND tier = ?`, name, string(tier))
	if err != nil {
		return fmt.Errorf("clearing %s replica of %s: %w", tier, name, err)
	}
	return nil
}

func (s *SQLite) GetArtifact(name string) (*dr.ArtifactRecord, error) {
	query := `SELECT name, class, timestamp, ext, encrypted, size, checksum,
	                 verification, verify_detail, verified_at, missing
	          FROM artifacts WHERE name = ?`

	rec, err := scanArtifact(s.db.QueryRow(query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("loading artifact %s: %w", name, err)
	}

	rec.Replicas, err = s.ReplicaTiers(name)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLite) ListArtifacts() ([]dr.ArtifactRecord, error) {
	query := `SELECT name, class, timestamp, ext, encrypted, size, checksum,
	                 verification, verify_detail, verified_at, missing
	          FROM artifacts ORDER BY timestamp DESC, name DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var records []dr.ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}

	replicas, err := s.allReplicas()
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Replicas = replicas[records[i].Name]
	}
	return records, nil
}

func (s *SQLite) MarkMissing(name string, missing bool) error {
	if _, err := s.db.Exec(`UPDATE artifacts SET missing = ? WHERE name = ?`, missing, name); err != nil {
		return fmt.Errorf("marking %s missing=%t: %w", name, missing, err)
	}
	return nil
}

func (s *SQLite) DeleteArtifact(name string) error {
	// Replica rows cascade.
	if _, err := s.db.Exec(`DELETE FROM artifacts WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting artifact %s: %w", name, err)
	}
	return nil
}

func (s *SQLite) StartRun(operation string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO runs (operation, status, started_at) VALUES (?, 'running', ?)`,
		operation, startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

func (s *SQLite) FinishRun(id int64, status, detail string, finishedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE runs SET status = ?, detail = ?, finished_at = ? WHERE id = ?`,
		status, detail, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

func (s *SQLite) ListRuns(limit int) ([]dr.RunRecord, error) {
	rows, err := s.db.Query(`SELECT id, operation, status, detail, started_at, finished_at
	                         FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []dr.RunRecord
	for rows.Next() {
		var r dr.RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Operation, &r.Status, &r.Detail, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ensureRow makes sure an artifact row exists before status updates.
// Verification and replication survive a rebuilt catalog file this way:
// a minimal row is recreated from the name itself.
func (s *SQLite) ensureRow(name string) error {
	a, ok := dr.ParseArtifactName(name)
	if !ok {
		a = dr.Artifact{Name: name}
	}
	query := `INSERT INTO artifacts (name, class, timestamp, ext, encrypted)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(name) DO NOTHING`
	_, err := s.db.Exec(query, name, string(a.Class), a.Timestamp.UTC(), a.Ext, a.Encrypted)
	if err != nil {
		return fmt.Errorf("ensuring artifact row %s: %w", name, err)
	}
	return nil
}

func (s *SQLite) allReplicas() (map[string][]dr.Tier, error) {
	rows, err := s.db.Query(`SELECT artifact_name, tier FROM replicas ORDER BY artifact_name, tier`)
	if err != nil {
		return nil, fmt.Errorf("listing replicas: %w", err)
	}
	defer rows.Close()

	replicas := make(map[string][]dr.Tier)
	for rows.Next() {
		var name, tier string
		if err := rows.Scan(&name, &tier); err != nil {
			return nil, fmt.Errorf("scanning replica: %w", err)
		}
		replicas[name] = append(replicas[name], dr.Tier(tier))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing replicas: %w", err)
	}
	return replicas, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*dr.ArtifactRecord, error) {
	var rec dr.ArtifactRecord
	var class, verification string
	var verifiedAt sql.NullTime
	err := row.Scan(&rec.Name, &class, &rec.Timestamp, &rec.Ext, &rec.Encrypted,
		&rec.Size, &rec.Checksum, &verification, &rec.VerifyDetail, &verifiedAt, &rec.Missing)
	if err != nil {
		return nil, err
	}
	rec.Class = dr.Class(class)
	rec.Verification = dr.VerificationStatus(verification)
	if verifiedAt.Valid {
		rec.VerifiedAt = verifiedAt.Time
	}
	return &rec, nil
}

// Compile-time check that SQLite implements dr.Catalog
var _ dr.Catalog = (*SQLite)(nil)
