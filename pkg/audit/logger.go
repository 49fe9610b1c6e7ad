package audit

import (
	"context"
	"errors"
	"time"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// NoOp discards every event
type NoOp struct{}

// Log implements Logger
func (NoOp) Log(context.Context, *Event) error { return nil }

// MultiLogger fans an event out to several loggers. Every logger is called
// even when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to all of loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stamp(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
