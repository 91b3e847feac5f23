package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("appdb", "/var/lib/pgdr")
	original.NAS = NASConfig{
		Enabled:         true,
		Type:            "nfs",
		Host:            "nas.internal",
		Share:           "/volume1/backups",
		MountPoint:      "/mnt/pgdr",
		Subdir:          "dbhost",
		ProbeTimeoutSec: 5,
	}
	original.S3 = S3Config{
		Enabled: true,
		Bucket:  "dr-backups",
		Prefix:  "appdb",
		Region:  "eu-central-1",
	}
	original.Encryption = EncryptionConfig{
		Type:      "age",
		Recipient: "age1example",
	}
	original.Notify = NotifyConfig{
		WebhookURL: "https://hooks.internal/pgdr",
		TimeoutSec: 10,
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Database.Name != "appdb" {
		t.Errorf("Database.Name = %q, want %q", got.Database.Name, "appdb")
	}
	if got.Database.Port != original.Database.Port {
		t.Errorf("Database.Port = %d, want %d", got.Database.Port, original.Database.Port)
	}
	if !got.NAS.Enabled {
		t.Error("NAS.Enabled = false, want true")
	}
	if got.NAS.Share != "/volume1/backups" {
		t.Errorf("NAS.Share = %q, want %q", got.NAS.Share, "/volume1/backups")
	}
	if got.S3.Bucket != "dr-backups" {
		t.Errorf("S3.Bucket = %q, want %q", got.S3.Bucket, "dr-backups")
	}
	if got.Encryption.Type != "age" {
		t.Errorf("Encryption.Type = %q, want %q", got.Encryption.Type, "age")
	}
	if got.Encryption.Recipient != "age1example" {
		t.Errorf("Encryption.Recipient = %q, want %q", got.Encryption.Recipient, "age1example")
	}
	if got.Retention.LocalFullDays != 30 {
		t.Errorf("Retention.LocalFullDays = %d, want 30", got.Retention.LocalFullDays)
	}
	if len(got.Retention.ReplicateBeforeExpire) != 1 || got.Retention.ReplicateBeforeExpire[0] != "full" {
		t.Errorf("Retention.ReplicateBeforeExpire = %v, want [full]", got.Retention.ReplicateBeforeExpire)
	}
	if got.Notify.WebhookURL != original.Notify.WebhookURL {
		t.Errorf("Notify.WebhookURL = %q, want %q", got.Notify.WebhookURL, original.Notify.WebhookURL)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("appdb", "/data/pgdr")

	if cfg.Database.Name != "appdb" {
		t.Errorf("Database.Name = %q, want %q", cfg.Database.Name, "appdb")
	}
	if cfg.BaseDir != "/data/pgdr" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/pgdr")
	}
	if cfg.BackupDir != "/data/pgdr/backups" {
		t.Errorf("BackupDir = %q, want %q", cfg.BackupDir, "/data/pgdr/backups")
	}
	if cfg.WALArchiveDir != "/data/pgdr/wal_archive" {
		t.Errorf("WALArchiveDir = %q, want %q", cfg.WALArchiveDir, "/data/pgdr/wal_archive")
	}
	if cfg.LockPath != "/data/pgdr/pgdr.lock" {
		t.Errorf("LockPath = %q, want %q", cfg.LockPath, "/data/pgdr/pgdr.lock")
	}
	if cfg.Catalog.Path != "/data/pgdr/catalog.db" {
		t.Errorf("Catalog.Path = %q, want %q", cfg.Catalog.Path, "/data/pgdr/catalog.db")
	}
	if cfg.Database.WaitReadyTimeoutSec != 90 {
		t.Errorf("Database.WaitReadyTimeoutSec = %d, want 90", cfg.Database.WaitReadyTimeoutSec)
	}
	if cfg.Limits.MinFreeMB != 5120 {
		t.Errorf("Limits.MinFreeMB = %d, want 5120", cfg.Limits.MinFreeMB)
	}
	if cfg.Limits.RetryAttempts != 2 {
		t.Errorf("Limits.RetryAttempts = %d, want 2", cfg.Limits.RetryAttempts)
	}
}

func TestReadFromFile(t *testing.T) {
	t.Run("fills defaults for minimal config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pgdr.toml")
		content := "base_dir = \"" + dir + "\"\n\n[database]\nname = \"appdb\"\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		t.Setenv("PGHOST", "")

		cfg, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}

		if cfg.Database.Host != "127.0.0.1" {
			t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "127.0.0.1")
		}
		if cfg.BackupDir != filepath.Join(dir, "backups") {
			t.Errorf("BackupDir = %q, want %q", cfg.BackupDir, filepath.Join(dir, "backups"))
		}
		if cfg.Catalog.Path != filepath.Join(dir, "catalog.db") {
			t.Errorf("Catalog.Path = %q, want %q", cfg.Catalog.Path, filepath.Join(dir, "catalog.db"))
		}
		if cfg.Retention.NASDays != 90 {
			t.Errorf("Retention.NASDays = %d, want 90", cfg.Retention.NASDays)
		}
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pgdr.toml")
		content := "base_dir = \"" + dir + "\"\n\n[database]\nname = \"appdb\"\nhost = \"db.internal\"\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		t.Setenv("PGHOST", "standby.internal")
		t.Setenv("PGPORT", "5433")
		t.Setenv("PGPASSWORD", "s3cret")
		t.Setenv("PGDR_WEBHOOK_URL", "https://hooks.internal/pgdr")

		cfg, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}

		if cfg.Database.Host != "standby.internal" {
			t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "standby.internal")
		}
		if cfg.Database.Port != 5433 {
			t.Errorf("Database.Port = %d, want 5433", cfg.Database.Port)
		}
		if cfg.Database.Password != "s3cret" {
			t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "s3cret")
		}
		if cfg.Notify.WebhookURL != "https://hooks.internal/pgdr" {
			t.Errorf("Notify.WebhookURL = %q, want %q", cfg.Notify.WebhookURL, "https://hooks.internal/pgdr")
		}
	})

	t.Run("missing base_dir falls back to system default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pgdr.toml")
		content := "[database]\nname = \"appdb\"\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		cfg, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if cfg.BaseDir != "/var/lib/pgdr" {
			t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/var/lib/pgdr")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		cfg := NewConfig("appdb", "/var/lib/pgdr")
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing database name",
			mutate:  func(c *Config) { c.Database.Name = "" },
			wantErr: "database.name",
		},
		{
			name:    "negative retry attempts",
			mutate:  func(c *Config) { c.Limits.RetryAttempts = -1 },
			wantErr: "retry_attempts",
		},
		{
			name:    "unknown replicate class",
			mutate:  func(c *Config) { c.Retention.ReplicateBeforeExpire = []string{"hourly"} },
			wantErr: "replicate_before_expire",
		},
		{
			name: "nas enabled without host",
			mutate: func(c *Config) {
				c.NAS.Enabled = true
				c.NAS.Host = ""
			},
			wantErr: "nas requires",
		},
		{
			name: "nas with bad type",
			mutate: func(c *Config) {
				c.NAS.Enabled = true
				c.NAS.Type = "ftp"
				c.NAS.Host = "nas.internal"
				c.NAS.Share = "/volume1/backups"
			},
			wantErr: "nas.type",
		},
		{
			name: "nas retention below local",
			mutate: func(c *Config) {
				c.NAS.Enabled = true
				c.NAS.Host = "nas.internal"
				c.NAS.Share = "/volume1/backups"
				c.Retention.NASDays = 3
			},
			wantErr: "nas_days",
		},
		{
			name:    "s3 enabled without bucket",
			mutate:  func(c *Config) { c.S3.Enabled = true },
			wantErr: "bucket",
		},
		{
			name: "s3 retention below local",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = "dr-backups"
				c.Retention.S3Days = 1
			},
			wantErr: "s3_days",
		},
		{
			name:    "unknown encryption type",
			mutate:  func(c *Config) { c.Encryption.Type = "gpg" },
			wantErr: "encryption.type",
		},
		{
			name:    "age without recipient",
			mutate:  func(c *Config) { c.Encryption.Type = "age" },
			wantErr: "recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("appdb", "/var/lib/pgdr")
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pgdr.toml")
		cfg := NewConfig("appdb", "/var/lib/pgdr")

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Name != "appdb" {
			t.Errorf("Database.Name = %q, want %q", got.Database.Name, "appdb")
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pgdr.toml")
		cfg := NewConfig("appdb", "/var/lib/pgdr")

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}
