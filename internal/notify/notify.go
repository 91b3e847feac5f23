// Package notify delivers operator alerts. Delivery is best effort: the
// pipeline logs a failed send and moves on, since a broken alert channel
// must never decide the fate of a backup run.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	json "github.com/goccy/go-json"

	"pgdr-go/internal/config"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one alert. Fields carry operation-specific context such as
// the run id or the artifact name.
type Event struct {
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Sink is one delivery channel for events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// NewSinkFromConfig assembles the configured channels. With nothing
// configured it returns a NopSink so callers never need a nil check.
func NewSinkFromConfig(cfg *config.NotifyConfig) Sink {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	var sinks []Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL, timeout))
	}
	if len(cfg.Command) > 0 {
		sinks = append(sinks, NewCommandSink(cfg.Command, timeout))
	}
	switch len(sinks) {
	case 0:
		return NopSink{}
	case 1:
		return sinks[0]
	default:
		return MultiSink(sinks)
	}
}

// WebhookSink posts events as JSON to an HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// CommandSink runs a local program with the event as JSON on stdin.
// The argv comes from configuration verbatim, no shell involved.
type CommandSink struct {
	argv    []string
	timeout time.Duration
}

func NewCommandSink(argv []string, timeout time.Duration) *CommandSink {
	return &CommandSink{argv: argv, timeout: timeout}
}

func (s *CommandSink) Send(ctx context.Context, ev Event) error {
	if len(s.argv) == 0 {
		return errors.New("empty notify command")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = bytes.NewReader(body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify command failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// MultiSink fans an event out to every channel and reports all failures.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Send(context.Context, Event) error { return nil }
