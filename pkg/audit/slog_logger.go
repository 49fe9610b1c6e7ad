package audit

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// SlogLogger writes audit events as structured log lines
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates an audit logger on top of logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger.WithField("audit", true)}
}

// Log implements Logger
func (l *SlogLogger) Log(_ context.Context, event *Event) error {
	stamp(event)

	fields := map[string]interface{}{
		"event_type": string(event.Type),
		"timestamp":  event.Timestamp,
	}
	if event.SubjectID != "" {
		fields["subject_id"] = event.SubjectID
	}
	if event.ResourceID != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.Permission != "" {
		fields["permission"] = event.Permission
	}
	if event.RuleID != "" {
		fields["rule_id"] = event.RuleID
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	l.logger.WithFields(fields).Info("audit event")
	return nil
}
