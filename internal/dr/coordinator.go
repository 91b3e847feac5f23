package dr

import (
	"context"
	"fmt"

	"pgdr-go/internal/notify"
)

// RunLock serializes pipeline runs on a host. Acquire fails fast when
// another run holds the lock; it never waits.
type RunLock interface {
	Acquire() error
	Release() error
}

// Coordinator wraps every operation in the run envelope: the process
// lock, the mount session, run history, and the summary notification.
// Mount and lock release happen on every exit path.
type Coordinator struct {
	lock    RunLock
	mounts  MountManager // nil when no share is configured
	catalog Catalog
	sink    notify.Sink
	logger  Logger
	clock   Clock
	runID   string // also the log tag, so lines and run records correlate
}

func NewCoordinator(lock RunLock, mounts MountManager, catalog Catalog, sink notify.Sink, logger Logger, clock Clock, runID string) *Coordinator {
	return &Coordinator{
		lock:    lock,
		mounts:  mounts,
		catalog: catalog,
		sink:    sink,
		logger:  logger,
		clock:   clock,
		runID:   runID,
	}
}

// Run executes fn under the process lock. With useMount set it brings the
// share session up first; an unreachable share degrades the run instead
// of aborting it. The returned error is fn's error, or the lock error
// when the lock could not be taken.
func (c *Coordinator) Run(ctx context.Context, operation string, useMount bool, fn func(ctx context.Context, rep *Report) error) (*Report, error) {
	if err := c.lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			c.logger.Warn("lock release failed", "error", err)
		}
	}()

	runID := c.runID
	rep := NewReport(operation, runID, c.clock.Now())
	c.logger.Info("run started", "operation", operation, "run_id", runID)

	if useMount && c.mounts != nil {
		if err := c.mounts.Acquire(ctx); err != nil {
			c.logger.Warn("share unavailable, continuing without off-site tier", "error", err)
			rep.Degraded("mount", err.Error())
		} else {
			rep.Ok("mount", c.mounts.Path())
			defer func() {
				if err := c.mounts.Release(); err != nil {
					c.logger.Warn("unmount failed", "error", err)
				}
			}()
		}
	}

	historyID, historyErr := c.catalog.StartRun(operation, rep.StartedAt)
	if historyErr != nil {
		c.logger.Warn("run history unavailable", "error", historyErr)
	}

	opErr := fn(ctx, rep)
	rep.FinishedAt = c.clock.Now()

	status := rep.Status()
	summary := rep.Summary()
	if historyErr == nil {
		if err := c.catalog.FinishRun(historyID, status, summary, rep.FinishedAt); err != nil {
			c.logger.Warn("run history update failed", "error", err)
		}
	}

	switch status {
	case "failed":
		c.logger.Error("run failed", "operation", operation, "run_id", runID, "summary", summary)
		c.send(ctx, notify.SeverityError, operation, runID, status, summary)
	case "degraded":
		c.logger.Warn("run degraded", "operation", operation, "run_id", runID, "summary", summary)
		c.send(ctx, notify.SeverityWarning, operation, runID, status, summary)
	default:
		c.logger.Info("run succeeded", "operation", operation, "run_id", runID)
	}
	return rep, opErr
}

func (c *Coordinator) send(ctx context.Context, severity notify.Severity, operation, runID, status, summary string) {
	if c.sink == nil {
		return
	}
	ev := notify.Event{
		Severity:  severity,
		Message:   fmt.Sprintf("%s run %s", operation, status),
		Timestamp: c.clock.Now().UTC(),
		Fields: map[string]string{
			"operation": operation,
			"run_id":    runID,
			"status":    status,
			"summary":   summary,
		},
	}
	if err := c.sink.Send(ctx, ev); err != nil {
		c.logger.Warn("notification delivery failed", "error", err, "operation", operation)
	}
}
