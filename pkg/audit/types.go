package audit

import "time"

// EventType identifies what an audit event records
type EventType string

const (
	EventRuleCreate       EventType = "authz.rule_create"
	EventRuleDelete       EventType = "authz.rule_delete"
	EventAccessDenied     EventType = "authz.access_denied"
	EventMembershipChange EventType = "authz.membership_change"
	EventFolderMove       EventType = "authz.folder_move"
)

// Event is one audit record
type Event struct {
	ID           string                 `json:"id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Type         EventType              `json:"event_type"`
	SubjectID    string                 `json:"subject_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Permission   string                 `json:"permission,omitempty"`
	RuleID       string                 `json:"rule_id,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
