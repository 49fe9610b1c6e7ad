package access

import (
	"time"
)

// ResourceType identifies the kind of resource a rule governs
type ResourceType string

const (
	ResourceFolder   ResourceType = "FOLDER"
	ResourceDocument ResourceType = "DOCUMENT"
	ResourceProject  ResourceType = "PROJECT"
)

// Valid reports whether the resource type is known
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceFolder, ResourceDocument, ResourceProject:
		return true
	}
	return false
}

// RuleType is either GRANT or DENY
type RuleType string

const (
	RuleGrant RuleType = "GRANT"
	RuleDeny  RuleType = "DENY"
)

// TargetType describes what kind of subject a rule matches
type TargetType string

const (
	TargetUser        TargetType = "USER"
	TargetGroup       TargetType = "GROUP"
	TargetRole        TargetType = "ROLE"
	TargetProjectRole TargetType = "PROJECT_ROLE"
)

// SystemRole is the portal-wide role of a user
type SystemRole string

const (
	RoleViewer     SystemRole = "VIEWER"
	RoleUser       SystemRole = "USER"
	RoleSupervisor SystemRole = "SUPERVISOR"
	RoleAdmin      SystemRole = "ADMIN"
)

// Valid reports whether the system role is known
func (r SystemRole) Valid() bool {
	switch r {
	case RoleViewer, RoleUser, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Common permission names. Permissions are free-form strings; these are the ones
// the portal services ask for.
const (
	PermissionRead   = "read"
	PermissionWrite  = "write"
	PermissionDelete = "delete"
	PermissionManage = "manage"
)

// Subject is the acting user being authorized
type Subject struct {
	ID   string     `json:"id"`
	Role SystemRole `json:"role"`
}

// IsAdmin reports whether the subject bypasses rule evaluation
func (s Subject) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// ProjectAssignment is a (project, project role) pair held by a user
type ProjectAssignment struct {
	ProjectID   string `json:"project_id"`
	ProjectRole string `json:"project_role"`
}

// AccessRule is a stored GRANT or DENY statement
type AccessRule struct {
	ID           string       `json:"id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	RuleType     RuleType     `json:"rule_type"`
	TargetType   TargetType   `json:"target_type"`
	TargetID     *string      `json:"target_id,omitempty"`
	TargetRole   *string      `json:"target_role,omitempty"`
	ProjectID    *string      `json:"project_id,omitempty"`
	Permissions  []string     `json:"permissions"`
	Inherit      bool         `json:"inherit"`
	CreatedByID  string       `json:"created_by_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Covers reports whether the rule lists the permission
func (r *AccessRule) Covers(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// RuleAttributes are the caller-supplied fields of a new rule
type RuleAttributes struct {
	ResourceType ResourceType `json:"resource_type" validate:"required,oneof=FOLDER DOCUMENT PROJECT"`
	ResourceID   string       `json:"resource_id" validate:"required"`
	RuleType     RuleType     `json:"rule_type" validate:"required,oneof=GRANT DENY"`
	TargetType   TargetType   `json:"target_type" validate:"required,oneof=USER GROUP ROLE PROJECT_ROLE"`
	TargetID     *string      `json:"target_id,omitempty"`
	TargetRole   *string      `json:"target_role,omitempty"`
	ProjectID    *string      `json:"project_id,omitempty"`
	Permissions  []string     `json:"permissions" validate:"required,min=1,dive,required"`
	Inherit      bool         `json:"inherit"`
}

// ResourceRef points at one resource instance
type ResourceRef struct {
	Type ResourceType `json:"type"`
	ID   string       `json:"id"`
}

func (r ResourceRef) String() string {
	return string(r.Type) + " " + r.ID
}

// Decision is the outcome of one evaluation
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	RuleID  string `json:"rule_id,omitempty"`
}

// Reasons produced by the resolver and the enforcer
const (
	ReasonAdminOverride = "admin override"
	ReasonDefaultDeny   = "default deny"
	ReasonOwner         = "owner"
)

func denyByRule(id string) Decision {
	return Decision{Allowed: false, Reason: "deny rule: " + id, RuleID: id}
}

func grantByRule(id string) Decision {
	return Decision{Allowed: true, Reason: "grant rule: " + id, RuleID: id}
}

// Key identifies one cached evaluation
type Key struct {
	SubjectID    string
	ResourceType ResourceType
	ResourceID   string
	Permission   string
	// Inherited marks evaluations that only considered inheritable rules
	Inherited bool
}

// KeyPattern selects cache entries; empty fields match anything
type KeyPattern struct {
	SubjectID    string
	ResourceType ResourceType
	ResourceID   string
	Permission   string
}

// Matches reports whether the key falls under the pattern
func (p KeyPattern) Matches(k Key) bool {
	if p.SubjectID != "" && p.SubjectID != k.SubjectID {
		return false
	}
	if p.ResourceType != "" && p.ResourceType != k.ResourceType {
		return false
	}
	if p.ResourceID != "" && p.ResourceID != k.ResourceID {
		return false
	}
	if p.Permission != "" && p.Permission != k.Permission {
		return false
	}
	return true
}

// ResourcePattern selects every cached decision about one resource
func ResourcePattern(resourceType ResourceType, resourceID string) KeyPattern {
	return KeyPattern{ResourceType: resourceType, ResourceID: resourceID}
}

// SubjectPattern selects every cached decision about one subject
func SubjectPattern(subjectID string) KeyPattern {
	return KeyPattern{SubjectID: subjectID}
}
