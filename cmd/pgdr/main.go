package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pgdr-go/internal/app"
	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
	"pgdr-go/internal/lockfile"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and wires an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.ReadFromFile(app.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}

// finishRun prints the report and maps the outcome to an exit status.
// A run skipped because another invocation holds the lock is a success:
// overlapping cron schedules are expected, not an incident.
func finishRun(rep *dr.Report, err error) error {
	var locked *lockfile.AlreadyLockedError
	if errors.As(err, &locked) {
		fmt.Printf("another run holds the lock (pid %d), skipping\n", locked.PID)
		return nil
	}

	if rep != nil {
		for _, s := range rep.Steps {
			if s.Detail != "" {
				fmt.Printf("%-14s %-9s %s\n", s.Name, s.Status, s.Detail)
			} else {
				fmt.Printf("%-14s %s\n", s.Name, s.Status)
			}
		}
		fmt.Printf("%s: %s\n", rep.Operation, rep.Status())
	}

	if err != nil {
		return err
	}
	if rep != nil && rep.HasFailure() {
		return fmt.Errorf("run failed")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "pgdr",
	Short: "PostgreSQL backup and disaster recovery pipeline",
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create backups",
}

var backupFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Create a full backup and replicate it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return finishRun(a.FullBackup(cmd.Context()))
	},
}

var backupWALCmd = &cobra.Command{
	Use:   "wal",
	Short: "Bundle new WAL segments into an incremental backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return finishRun(a.WALBackup(cmd.Context()))
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Trial-restore recent full backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		recheck, _ := cmd.Flags().GetBool("recheck")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return finishRun(a.Verify(cmd.Context(), recheck))
	},
}

// prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy across all tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return finishRun(a.Prune(cmd.Context()))
	},
}

// pitr command
var pitrCmd = &cobra.Command{
	Use:   "pitr",
	Short: "Point-in-time recovery",
}

var pitrPrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Stage a base backup plus WAL for point-in-time recovery",
	RunE: func(cmd *cobra.Command, args []string) error {
		targetArg, _ := cmd.Flags().GetString("target")
		target, err := parseTarget(targetArg)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		plan, rep, err := a.PITRPrepare(cmd.Context(), target)
		if ferr := finishRun(rep, err); ferr != nil {
			return ferr
		}
		if plan == nil {
			return nil
		}

		fmt.Printf("\nStaged recovery for %s\n", plan.Target.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("  base:     %s\n", plan.Base.Name)
		fmt.Printf("  dump:     %s\n", plan.DumpPath)
		fmt.Printf("  wal:      %s (%d segments)\n", plan.WALDir, plan.WALCount)
		fmt.Printf("  recovery: %s\n", plan.RecoveryConf)
		fmt.Printf("  manifest: %s\n", plan.ManifestPath)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a full backup into a database",
	RunE: func(cmd *cobra.Command, args []string) error {
		artifact, _ := cmd.Flags().GetString("artifact")
		database, _ := cmd.Flags().GetString("database")
		dropExisting, _ := cmd.Flags().GetBool("drop-existing")

		if database == "" {
			return fmt.Errorf("--database is required")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return finishRun(a.Restore(cmd.Context(), artifact, database, dropExisting))
	},
}

// nas command
var nasCmd = &cobra.Command{
	Use:   "nas",
	Short: "Network share operations",
}

var nasTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Mount the share and round-trip a probe file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return finishRun(a.NASTest(cmd.Context()))
	},
}

// artifacts command
var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect the artifact catalog",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known artifacts and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Artifacts()
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No artifacts recorded.")
			return nil
		}

		for _, r := range records {
			var tiers []string
			if !r.Missing {
				tiers = append(tiers, "local")
			}
			for _, t := range r.Replicas {
				tiers = append(tiers, string(t))
			}
			location := strings.Join(tiers, ",")
			if location == "" {
				location = "-"
			}
			fmt.Printf("%-52s %-11s %9s  %-10s %s\n",
				r.Name,
				r.Class,
				formatSize(r.Size),
				r.Verification,
				location,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-14s  %s  %-10s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
			)
		}
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init DBNAME",
	Short: "Write a starter configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, _ := cmd.Flags().GetString("base-dir")

		path := app.DefaultConfigPath()
		cfg := config.NewConfig(args[0], baseDir)
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Database: %s\n", args[0])
		fmt.Printf("Base Dir: %s\n", baseDir)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := app.DefaultConfigPath()
		cfg, err := config.ReadFromFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Database:    %s@%s:%d/%s\n", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
		fmt.Printf("Backup Dir:  %s\n", cfg.BackupDir)
		fmt.Printf("WAL Archive: %s\n", cfg.WALArchiveDir)
		fmt.Printf("Catalog:     %s\n", cfg.Catalog.Path)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		if cfg.NAS.Enabled {
			fmt.Printf("NAS:         %s://%s%s at %s\n", cfg.NAS.Type, cfg.NAS.Host, cfg.NAS.Share, cfg.NAS.MountPoint)
		}
		if cfg.S3.Enabled {
			fmt.Printf("S3:          s3://%s/%s\n", cfg.S3.Bucket, cfg.S3.Prefix)
		}
		fmt.Printf("Encryption:  %s\n", encryptionSummary(cfg))
		return nil
	},
}

func encryptionSummary(cfg *config.Config) string {
	if cfg.Encryption.Type == "" {
		return "disabled"
	}
	return cfg.Encryption.Type
}

// parseTarget accepts an RFC 3339 timestamp or a local "date time" form.
func parseTarget(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("--target is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse target %q: use RFC 3339 or \"2006-01-02 15:04:05\" local time", s)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func init() {
	// backup subcommands
	backupCmd.AddCommand(backupFullCmd)
	backupCmd.AddCommand(backupWALCmd)

	// pitr subcommands
	pitrCmd.AddCommand(pitrPrepareCmd)
	pitrPrepareCmd.Flags().String("target", "", "Recovery target time")

	// nas subcommands
	nasCmd.AddCommand(nasTestCmd)

	// artifacts subcommands
	artifactsCmd.AddCommand(artifactsListCmd)

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().String("base-dir", "/var/lib/pgdr", "Base directory for backups and state")

	// root commands
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Bool("recheck", false, "Re-verify backups that already passed")
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(pitrCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("artifact", "", "Artifact name (default: latest full backup)")
	restoreCmd.Flags().String("database", "", "Destination database name")
	restoreCmd.Flags().Bool("drop-existing", false, "Drop the destination database if it exists")
	rootCmd.AddCommand(nasCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(configCmd)
}
