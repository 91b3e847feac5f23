package postgres

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
)

// stderr from the engine tools is kept only up to this many bytes; the
// useful error lines are at the end.
const stderrTailCap = 4096

// ToolError reports a failed engine tool run together with the tail of
// its stderr, which is where the engine explains itself.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

type tailWriter struct {
	buf []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailCap {
		t.buf = t.buf[len(t.buf)-stderrTailCap:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	return strings.TrimSpace(string(t.buf))
}

// Dumper produces custom-format dumps with pg_dump. Custom format keeps
// compression inside the tool, so the dump streams straight to the
// destination file without passing through this process.
type Dumper struct {
	cfg    *config.DatabaseConfig
	logger dr.Logger
}

func NewDumperFromConfig(cfg *config.DatabaseConfig, logger dr.Logger) *Dumper {
	return &Dumper{cfg: cfg, logger: logger}
}

func (d *Dumper) DumpTo(ctx context.Context, path string) error {
	args := []string{
		"--format=custom",
		"--compress=9",
		"--no-owner",
		"--no-acl",
		"--file=" + path,
		"-h", d.cfg.Host,
		"-p", strconv.Itoa(d.cfg.Port),
		"-U", d.cfg.User,
		d.cfg.Name,
	}
	d.logger.Debug("running pg_dump", "database", d.cfg.Name, "path", path)
	return runTool(ctx, toolPath(d.cfg.BinDir, "pg_dump"), args, d.cfg.Password)
}

// Restorer loads custom-format dumps with pg_restore into an existing
// empty database.
type Restorer struct {
	cfg    *config.DatabaseConfig
	logger dr.Logger
}

func NewRestorerFromConfig(cfg *config.DatabaseConfig, logger dr.Logger) *Restorer {
	return &Restorer{cfg: cfg, logger: logger}
}

func (r *Restorer) RestoreInto(ctx context.Context, dbname, path string) error {
	args := []string{
		"--no-owner",
		"--no-acl",
		"--exit-on-error",
		"-h", r.cfg.Host,
		"-p", strconv.Itoa(r.cfg.Port),
		"-U", r.cfg.User,
		"--dbname=" + dbname,
		path,
	}
	r.logger.Debug("running pg_restore", "database", dbname, "path", path)
	return runTool(ctx, toolPath(r.cfg.BinDir, "pg_restore"), args, r.cfg.Password)
}

func toolPath(binDir, tool string) string {
	if binDir == "" {
		return tool
	}
	return filepath.Join(binDir, tool)
}

func runTool(ctx context.Context, tool string, args []string, password string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = os.Environ()
	if password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+password)
	}
	tail := &tailWriter{}
	cmd.Stderr = tail
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: filepath.Base(tool), Stderr: tail.String(), Err: err}
	}
	return nil
}

// Compile-time checks that the tools implement the pipeline interfaces
var (
	_ dr.Dumper   = (*Dumper)(nil)
	_ dr.Restorer = (*Restorer)(nil)
)
