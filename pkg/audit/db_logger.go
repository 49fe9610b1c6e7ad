package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DBLogger stores audit events in the access_audit_log table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger. The table is created by
// the access migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log implements Logger
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	stamp(event)
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO access_audit_log (
			id, event_type, subject_id, resource_type, resource_id,
			permission, rule_id, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		nullable(event.SubjectID),
		nullable(event.ResourceType),
		nullable(event.ResourceID),
		nullable(event.Permission),
		nullable(event.RuleID),
		nullable(event.Reason),
		metadata,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns the newest events for a subject, newest first
func (l *DBLogger) Recent(ctx context.Context, subjectID string, limit int) ([]Event, error) {
	query := `
		SELECT id, event_type, subject_id, resource_type, resource_id, permission, rule_id, reason, metadata, created_at
		FROM access_audit_log
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                                                  Event
			eventType                                          string
			subject, resType, resID, perm, ruleID, reason, raw sql.NullString
		)
		if err := rows.Scan(&e.ID, &eventType, &subject, &resType, &resID, &perm, &ruleID, &reason, &raw, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.SubjectID = subject.String
		e.ResourceType = resType.String
		e.ResourceID = resID.String
		e.Permission = perm.String
		e.RuleID = ruleID.String
		e.Reason = reason.String
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
