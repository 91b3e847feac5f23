package dr

import (
	"fmt"
	"strings"
	"time"
)

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepDegraded StepStatus = "degraded" // continue, but flag it (e.g. NAS unreachable)
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
)

// Step records the outcome of one named pipeline step.
type Step struct {
	Name   string
	Status StepStatus
	Detail string
	Err    error
}

// Report collects step outcomes for one pipeline invocation. Callers
// distinguish "continue degraded" from "abort" by step status instead of
// relying on error propagation alone.
type Report struct {
	Operation  string
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []Step
}

func NewReport(operation, runID string, startedAt time.Time) *Report {
	return &Report{Operation: operation, RunID: runID, StartedAt: startedAt}
}

// Ok appends a successful step.
func (r *Report) Ok(name, detail string) {
	r.Steps = append(r.Steps, Step{Name: name, Status: StepOK, Detail: detail})
}

// Degraded appends a step that failed in a way the pipeline tolerates.
func (r *Report) Degraded(name, detail string) {
	r.Steps = append(r.Steps, Step{Name: name, Status: StepDegraded, Detail: detail})
}

// Failed appends a hard-failed step.
func (r *Report) Failed(name string, err error) {
	r.Steps = append(r.Steps, Step{Name: name, Status: StepFailed, Err: err})
}

// Skipped appends a step that did not run.
func (r *Report) Skipped(name, detail string) {
	r.Steps = append(r.Steps, Step{Name: name, Status: StepSkipped, Detail: detail})
}

// HasFailure reports whether any step hard-failed.
func (r *Report) HasFailure() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// IsDegraded reports whether any step degraded (and none failed).
func (r *Report) IsDegraded() bool {
	degraded := false
	for _, s := range r.Steps {
		switch s.Status {
		case StepFailed:
			return false
		case StepDegraded:
			degraded = true
		}
	}
	return degraded
}

// Status summarizes the whole run: "failed" beats "degraded" beats "success".
func (r *Report) Status() string {
	switch {
	case r.HasFailure():
		return "failed"
	case r.IsDegraded():
		return "degraded"
	default:
		return "success"
	}
}

// Summary renders a one-line-per-step view for logs and notifications.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Operation, r.Status())
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "; %s=%s", s.Name, s.Status)
		if s.Detail != "" {
			fmt.Fprintf(&b, " (%s)", s.Detail)
		}
		if s.Err != nil {
			fmt.Fprintf(&b, " [%v]", s.Err)
		}
	}
	return b.String()
}
