package testutil

import (
	"context"
	"sync"

	"pgdr-go/internal/notify"
)

// RecordingSink captures notification events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	Err    error
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Send(_ context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything sent so far.
func (s *RecordingSink) Events() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

// BySeverity returns the captured events with the given severity.
func (s *RecordingSink) BySeverity(sev notify.Severity) []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Event
	for _, ev := range s.events {
		if ev.Severity == sev {
			out = append(out, ev)
		}
	}
	return out
}
