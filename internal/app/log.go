package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// pgdrHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<run id>\t<message>\t<key=value ...>
//
// The tag is the invocation's run ID, so interleaved lines from an
// overlapping status query stay attributable and a line can be matched
// to its run history row.
type pgdrHandler struct {
	w     io.Writer
	tag   string
	attrs []slog.Attr
}

func (h *pgdrHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *pgdrHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, level, h.tag, r.Message)
	if err != nil {
		return err
	}

	// Write pre-set attrs.
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}

	// Write per-record attrs.
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *pgdrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &pgdrHandler{
		w:     h.w,
		tag:   h.tag,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *pgdrHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both
// logDir/pgdr.log and stderr. It returns the slog.Logger, the open log
// file (for cleanup), and any error.
func newLogger(logDir string, tag string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "pgdr.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	handler := &pgdrHandler{w: w, tag: tag}
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the dr.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
