package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pgdr.
type Config struct {
	BaseDir       string `toml:"base_dir"`
	BackupDir     string `toml:"backup_dir"`
	WALArchiveDir string `toml:"wal_archive_dir"`
	StageDir      string `toml:"stage_dir"`
	LogDir        string `toml:"log_dir"`
	LockPath      string `toml:"lock_path"`

	Database   DatabaseConfig   `toml:"database"`
	NAS        NASConfig        `toml:"nas"`
	S3         S3Config         `toml:"s3"`
	Encryption EncryptionConfig `toml:"encryption"`
	Retention  RetentionConfig  `toml:"retention"`
	Verify     VerifyConfig     `toml:"verify"`
	Limits     LimitsConfig     `toml:"limits"`
	Notify     NotifyConfig     `toml:"notify"`
	Catalog    CatalogConfig    `toml:"catalog"`
}

// DatabaseConfig describes the engine instance and database to protect.
// Credentials may be left empty to fall back on the engine's own
// environment conventions (PGPASSWORD, ~/.pgpass, peer auth).
type DatabaseConfig struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	Name                string `toml:"name"`
	User                string `toml:"user"`
	Password            string `toml:"password,omitempty"`
	SSLMode             string `toml:"ssl_mode"`
	BinDir              string `toml:"bin_dir,omitempty"` // directory holding pg_dump/pg_restore; empty means PATH
	WaitReadyTimeoutSec int    `toml:"wait_ready_timeout_sec"`
}

// NASConfig describes the off-site network share.
// The Type field determines the mount invocation and default probe port.
type NASConfig struct {
	Enabled         bool   `toml:"enabled"`
	Type            string `toml:"type"` // "nfs", "smb", or "cifs"
	Host            string `toml:"host"`
	Share           string `toml:"share"`
	MountPoint      string `toml:"mount_point"`
	Subdir          string `toml:"subdir,omitempty"`
	Options         string `toml:"options,omitempty"`
	ProbePort       int    `toml:"probe_port,omitempty"` // 0 means the type's default
	ProbeTimeoutSec int    `toml:"probe_timeout_sec"`
}

// S3Config describes the optional object-storage replica tier.
// Empty credentials fall back to the SDK's default credential chain.
type S3Config struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix,omitempty"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
}

// EncryptionConfig selects artifact encryption.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type EncryptionConfig struct {
	Type          string `toml:"type"` // "" (disabled), "age", or "test"
	Recipient     string `toml:"recipient,omitempty"`
	RecipientFile string `toml:"recipient_file,omitempty"`
	IdentityFile  string `toml:"identity_file,omitempty"`
}

// RetentionConfig is the per-{class,tier} TTL table in days. A zero
// disables pruning for that slot.
type RetentionConfig struct {
	LocalFullDays         int      `toml:"local_full_days"`
	LocalIncrementalDays  int      `toml:"local_incremental_days"`
	WALArchiveDays        int      `toml:"wal_archive_days"`
	NASDays               int      `toml:"nas_days"`
	S3Days                int      `toml:"s3_days"`
	ReplicateBeforeExpire []string `toml:"replicate_before_expire"`
}

// VerifyConfig bounds the trial-restore verification sample.
type VerifyConfig struct {
	WindowDays int `toml:"window_days"`
}

// LimitsConfig holds safety thresholds and the network retry budget.
type LimitsConfig struct {
	MinFreeMB       int64 `toml:"min_free_mb"`
	MinDumpSizeKB   int64 `toml:"min_dump_size_kb"`
	RetryAttempts   int   `toml:"retry_attempts"`
	RetryBackoffSec int   `toml:"retry_backoff_sec"`
}

// NotifyConfig configures failure notification delivery. Both sinks are
// optional and may be combined.
type NotifyConfig struct {
	WebhookURL string   `toml:"webhook_url,omitempty"`
	Command    []string `toml:"command,omitempty"`
	TimeoutSec int      `toml:"timeout_sec"`
}

// CatalogConfig locates the artifact catalog database.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// NewConfig creates a new Config for the named database with defaults
// rooted at baseDir.
func NewConfig(dbName, baseDir string) *Config {
	return &Config{
		BaseDir:       baseDir,
		BackupDir:     filepath.Join(baseDir, "backups"),
		WALArchiveDir: filepath.Join(baseDir, "wal_archive"),
		StageDir:      filepath.Join(baseDir, "restore"),
		LogDir:        filepath.Join(baseDir, "log"),
		LockPath:      filepath.Join(baseDir, "pgdr.lock"),
		Database: DatabaseConfig{
			Host:                "127.0.0.1",
			Port:                5432,
			Name:                dbName,
			User:                "postgres",
			SSLMode:             "prefer",
			WaitReadyTimeoutSec: 90,
		},
		NAS: NASConfig{
			Type:            "nfs",
			MountPoint:      "/mnt/pgdr",
			ProbeTimeoutSec: 5,
		},
		Retention: RetentionConfig{
			LocalFullDays:         30,
			LocalIncrementalDays:  7,
			WALArchiveDays:        7,
			NASDays:               90,
			S3Days:                90,
			ReplicateBeforeExpire: []string{"full"},
		},
		Verify: VerifyConfig{WindowDays: 7},
		Limits: LimitsConfig{
			MinFreeMB:       5120,
			MinDumpSizeKB:   1024,
			RetryAttempts:   2,
			RetryBackoffSec: 5,
		},
		Notify:  NotifyConfig{TimeoutSec: 10},
		Catalog: CatalogConfig{Path: filepath.Join(baseDir, "catalog.db")},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and fills in
// defaults for anything the file leaves unset.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overlays the process environment onto the file configuration,
// so credentials can stay out of the file. The engine's own variables are
// honored first, then the pgdr-specific ones.
func (c *Config) applyEnv() {
	if v := os.Getenv("PGHOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("PGUSER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("PGDR_NAS_OPTIONS"); v != "" {
		c.NAS.Options = v
	}
	if v := os.Getenv("PGDR_S3_ACCESS_KEY_ID"); v != "" {
		c.S3.AccessKeyID = v
	}
	if v := os.Getenv("PGDR_S3_SECRET_ACCESS_KEY"); v != "" {
		c.S3.SecretAccessKey = v
	}
	if v := os.Getenv("PGDR_ENCRYPTION_RECIPIENT"); v != "" {
		c.Encryption.Recipient = v
	}
	if v := os.Getenv("PGDR_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
}

// applyDefaults backfills zero values from the defaults for the same base
// directory, so a minimal config file stays minimal.
func (c *Config) applyDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "/var/lib/pgdr"
	}
	def := NewConfig(c.Database.Name, c.BaseDir)

	if c.BackupDir == "" {
		c.BackupDir = def.BackupDir
	}
	if c.WALArchiveDir == "" {
		c.WALArchiveDir = def.WALArchiveDir
	}
	if c.StageDir == "" {
		c.StageDir = def.StageDir
	}
	if c.LogDir == "" {
		c.LogDir = def.LogDir
	}
	if c.LockPath == "" {
		c.LockPath = def.LockPath
	}
	if c.Database.Host == "" {
		c.Database.Host = def.Database.Host
	}
	if c.Database.Port == 0 {
		c.Database.Port = def.Database.Port
	}
	if c.Database.User == "" {
		c.Database.User = def.Database.User
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = def.Database.SSLMode
	}
	if c.Database.WaitReadyTimeoutSec == 0 {
		c.Database.WaitReadyTimeoutSec = def.Database.WaitReadyTimeoutSec
	}
	if c.NAS.Type == "" {
		c.NAS.Type = def.NAS.Type
	}
	if c.NAS.MountPoint == "" {
		c.NAS.MountPoint = def.NAS.MountPoint
	}
	if c.NAS.ProbeTimeoutSec == 0 {
		c.NAS.ProbeTimeoutSec = def.NAS.ProbeTimeoutSec
	}
	if c.Retention.LocalFullDays == 0 {
		c.Retention.LocalFullDays = def.Retention.LocalFullDays
	}
	if c.Retention.LocalIncrementalDays == 0 {
		c.Retention.LocalIncrementalDays = def.Retention.LocalIncrementalDays
	}
	if c.Retention.WALArchiveDays == 0 {
		c.Retention.WALArchiveDays = def.Retention.WALArchiveDays
	}
	if c.Retention.NASDays == 0 {
		c.Retention.NASDays = def.Retention.NASDays
	}
	if c.Retention.S3Days == 0 {
		c.Retention.S3Days = def.Retention.S3Days
	}
	if c.Retention.ReplicateBeforeExpire == nil {
		c.Retention.ReplicateBeforeExpire = def.Retention.ReplicateBeforeExpire
	}
	if c.Verify.WindowDays == 0 {
		c.Verify.WindowDays = def.Verify.WindowDays
	}
	if c.Limits.MinFreeMB == 0 {
		c.Limits.MinFreeMB = def.Limits.MinFreeMB
	}
	if c.Limits.MinDumpSizeKB == 0 {
		c.Limits.MinDumpSizeKB = def.Limits.MinDumpSizeKB
	}
	if c.Limits.RetryAttempts == 0 {
		c.Limits.RetryAttempts = def.Limits.RetryAttempts
	}
	if c.Limits.RetryBackoffSec == 0 {
		c.Limits.RetryBackoffSec = def.Limits.RetryBackoffSec
	}
	if c.Notify.TimeoutSec == 0 {
		c.Notify.TimeoutSec = def.Notify.TimeoutSec
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = def.Catalog.Path
	}
}

// Validate rejects configurations that would undermine the pipeline's
// guarantees, such as an off-site TTL shorter than the local one.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.BackupDir == "" {
		return fmt.Errorf("backup_dir is required")
	}
	if c.Limits.MinFreeMB < 0 || c.Limits.MinDumpSizeKB < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Limits.RetryAttempts < 0 {
		return fmt.Errorf("limits.retry_attempts must not be negative")
	}
	for _, class := range c.Retention.ReplicateBeforeExpire {
		if class != "full" && class != "incremental" {
			return fmt.Errorf("retention.replicate_before_expire: unknown class %q", class)
		}
	}
	if c.NAS.Enabled {
		switch c.NAS.Type {
		case "nfs", "smb", "cifs":
		default:
			return fmt.Errorf("nas.type must be nfs, smb, or cifs, got %q", c.NAS.Type)
		}
		if c.NAS.Host == "" || c.NAS.Share == "" || c.NAS.MountPoint == "" {
			return fmt.Errorf("nas requires host, share, and mount_point")
		}
		if c.Retention.NASDays > 0 && (c.Retention.NASDays < c.Retention.LocalFullDays || c.Retention.NASDays < c.Retention.LocalIncrementalDays) {
			return fmt.Errorf("retention.nas_days (%d) must be at least the local TTLs", c.Retention.NASDays)
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 requires bucket")
		}
		if c.Retention.S3Days > 0 && (c.Retention.S3Days < c.Retention.LocalFullDays || c.Retention.S3Days < c.Retention.LocalIncrementalDays) {
			return fmt.Errorf("retention.s3_days (%d) must be at least the local TTLs", c.Retention.S3Days)
		}
	}
	switch c.Encryption.Type {
	case "", "age", "test":
	default:
		return fmt.Errorf("encryption.type must be age or test, got %q", c.Encryption.Type)
	}
	if c.Encryption.Type == "age" && c.Encryption.Recipient == "" && c.Encryption.RecipientFile == "" {
		return fmt.Errorf("encryption type age requires recipient or recipient_file")
	}
	return nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
