// Package app is the application layer between the CLI and the pipeline.
// It constructs every collaborator from config, exposes one method per
// CLI command, and manages resource lifetimes on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"pgdr-go/internal/catalog"
	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
	"pgdr-go/internal/encryption"
	"pgdr-go/internal/lockfile"
	"pgdr-go/internal/mount"
	"pgdr-go/internal/notify"
	"pgdr-go/internal/postgres"
	"pgdr-go/internal/store"
)

// App wires the pipeline, coordinator, and their dependencies for one
// CLI invocation. The caller must call Close when done.
type App struct {
	cfg     *config.Config
	catalog dr.Catalog
	admin   *postgres.Admin
	pipe    *dr.Pipeline
	coord   *dr.Coordinator
	logFile *os.File
}

// New creates a fully wired App from the given config. The run ID minted
// here tags every log line and travels with the coordinator, so a log
// line can be matched to its run record and notification.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	runID := dr.UUIDGenerator{}.New()
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	local, err := store.NewLocal(cfg.BackupDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	cat, err := catalog.NewSQLite(cfg.Catalog.Path)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	admin, err := postgres.NewAdminFromConfig(&cfg.Database, logger)
	if err != nil {
		cat.Close()
		logFile.Close()
		return nil, fmt.Errorf("connecting to engine: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(&cfg.Encryption)
	if err != nil {
		admin.Close()
		cat.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	dec, err := encryption.NewDecryptorFromConfig(&cfg.Encryption)
	if err != nil {
		admin.Close()
		cat.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating decryptor: %w", err)
	}

	var mounts dr.MountManager
	var replicas []dr.ArtifactStore
	if cfg.NAS.Enabled {
		session, err := mount.NewSessionFromConfig(&cfg.NAS, &cfg.Limits, logger, nil)
		if err != nil {
			admin.Close()
			cat.Close()
			logFile.Close()
			return nil, fmt.Errorf("configuring network share: %w", err)
		}
		mounts = session
		replicas = append(replicas, store.NewNAS(session, cfg.NAS.Subdir))
	}
	if cfg.S3.Enabled {
		s3store, err := store.NewS3FromConfig(ctx, &cfg.S3)
		if err != nil {
			admin.Close()
			cat.Close()
			logFile.Close()
			return nil, fmt.Errorf("configuring object storage: %w", err)
		}
		replicas = append(replicas, s3store)
	}

	sink := notify.NewSinkFromConfig(&cfg.Notify)

	pipe := dr.NewPipeline(dr.Deps{
		Settings: settingsFromConfig(cfg),
		Local:    local,
		Replicas: replicas,
		Mounts:   mounts,
		Admin:    admin,
		Dumper:   postgres.NewDumperFromConfig(&cfg.Database, logger),
		Restorer: postgres.NewRestorerFromConfig(&cfg.Database, logger),
		Catalog:  cat,
		Enc:      enc,
		Dec:      dec,
		Sink:     sink,
		Logger:   logger,
		Clock:    dr.RealClock{},
		IDGen:    dr.UUIDGenerator{},
	})

	coord := dr.NewCoordinator(lockfile.New(cfg.LockPath), mounts, cat, sink, logger,
		dr.RealClock{}, runID)

	return &App{
		cfg:     cfg,
		catalog: cat,
		admin:   admin,
		pipe:    pipe,
		coord:   coord,
		logFile: logFile,
	}, nil
}

// settingsFromConfig converts config units (MB, KB, days, seconds) into
// the pipeline's bytes and durations.
func settingsFromConfig(cfg *config.Config) dr.Settings {
	replicate := make(map[dr.Class]bool, len(cfg.Retention.ReplicateBeforeExpire))
	for _, class := range cfg.Retention.ReplicateBeforeExpire {
		replicate[dr.Class(class)] = true
	}
	return dr.Settings{
		Prefix:           cfg.Database.Name,
		WALArchiveDir:    cfg.WALArchiveDir,
		MinFreeBytes:     int64(cfg.Limits.MinFreeMB) << 20,
		MinFullSizeBytes: int64(cfg.Limits.MinDumpSizeKB) << 10,
		WaitReadyTimeout: time.Duration(cfg.Database.WaitReadyTimeoutSec) * time.Second,
		VerifyWindow:     time.Duration(cfg.Verify.WindowDays) * 24 * time.Hour,
		Retention: dr.RetentionPolicy{
			LocalFullDays:        cfg.Retention.LocalFullDays,
			LocalIncrementalDays: cfg.Retention.LocalIncrementalDays,
			WALArchiveDays:       cfg.Retention.WALArchiveDays,
			NASDays:              cfg.Retention.NASDays,
			S3Days:               cfg.Retention.S3Days,
		},
		ReplicateBeforeExpire: replicate,
		StageDir:              cfg.StageDir,
		RetryBudget:           uint64(cfg.Limits.RetryAttempts),
		RetryBackoff:          time.Duration(cfg.Limits.RetryBackoffSec) * time.Second,
	}
}

// FullBackup dumps the database and publishes, replicates, and prunes.
func (a *App) FullBackup(ctx context.Context) (*dr.Report, error) {
	return a.coord.Run(ctx, "full-backup", true, a.pipe.FullBackup)
}

// WALBackup bundles new WAL segments into an incremental artifact.
func (a *App) WALBackup(ctx context.Context) (*dr.Report, error) {
	return a.coord.Run(ctx, "wal-backup", true, a.pipe.WALBackup)
}

// Verify trial-restores recent full backups into disposable databases.
func (a *App) Verify(ctx context.Context, recheck bool) (*dr.Report, error) {
	return a.coord.Run(ctx, "verify", false, func(ctx context.Context, rep *dr.Report) error {
		return a.pipe.Verify(ctx, rep, recheck)
	})
}

// Prune applies the retention policy across all tiers.
func (a *App) Prune(ctx context.Context) (*dr.Report, error) {
	return a.coord.Run(ctx, "prune", true, a.pipe.Prune)
}

// PITRPrepare stages a base backup plus WAL for point-in-time recovery.
func (a *App) PITRPrepare(ctx context.Context, target time.Time) (*dr.PITRPlan, *dr.Report, error) {
	var plan *dr.PITRPlan
	rep, err := a.coord.Run(ctx, "pitr-prepare", false, func(ctx context.Context, rep *dr.Report) error {
		p, err := a.pipe.PITRPrepare(ctx, rep, target)
		plan = p
		return err
	})
	return plan, rep, err
}

// Restore loads a full backup into a database on the engine.
func (a *App) Restore(ctx context.Context, artifactName, dbname string, dropExisting bool) (*dr.Report, error) {
	return a.coord.Run(ctx, "restore", false, func(ctx context.Context, rep *dr.Report) error {
		return a.pipe.Restore(ctx, rep, artifactName, dbname, dropExisting)
	})
}

// NASTest mounts the share and round-trips a probe file.
func (a *App) NASTest(ctx context.Context) (*dr.Report, error) {
	return a.coord.Run(ctx, "nas-test", false, a.pipe.NASTest)
}

// Artifacts returns the catalog's artifact rows, newest first.
func (a *App) Artifacts() ([]dr.ArtifactRecord, error) {
	return a.catalog.ListArtifacts()
}

// History returns the most recent pipeline runs.
func (a *App) History(limit int) ([]dr.RunRecord, error) {
	return a.catalog.ListRuns(limit)
}

// Close releases the engine connection, the catalog, and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.admin.Close(); err != nil {
		firstErr = fmt.Errorf("closing engine connection: %w", err)
	}
	if err := a.catalog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
