package access

import (
	"context"
	"time"
)

// RuleStore is durable storage for access rules
type RuleStore interface {
	// CreateRule persists a rule. The rule's ID and CreatedAt are set by the store when empty.
	CreateRule(ctx context.Context, rule *AccessRule) error

	// GetRule returns a rule by ID or ErrNotFound
	GetRule(ctx context.Context, id string) (*AccessRule, error)

	// DeleteRule removes a rule and returns what was deleted, or ErrNotFound
	DeleteRule(ctx context.Context, id string) (*AccessRule, error)

	// FindRulesForResource returns every rule on one resource, both rule types and all targets
	FindRulesForResource(ctx context.Context, resourceType ResourceType, resourceID string) ([]AccessRule, error)

	// FindRulesForTargets returns rules over a set of resources that could match a subject
	FindRulesForTargets(ctx context.Context, query RuleQuery) ([]AccessRule, error)
}

// RuleQuery is the batch lookup used to filter listings. ResourceIDs should
// already include ancestors of the candidates.
type RuleQuery struct {
	ResourceType ResourceType
	ResourceIDs  []string
	// SubjectIDs are matched against USER and GROUP targets (the user id and its group ids)
	SubjectIDs []string
	// Roles are matched against ROLE and PROJECT_ROLE targets
	Roles []string
}

// MembershipResolver returns the membership facts of a user
type MembershipResolver interface {
	GroupsOf(ctx context.Context, subjectID string) ([]string, error)
	ProjectAssignmentsOf(ctx context.Context, subjectID string) ([]ProjectAssignment, error)
}

// DecisionCache caches evaluations. A miss is (Decision{}, false, nil).
type DecisionCache interface {
	Get(ctx context.Context, key Key) (Decision, bool, error)
	Set(ctx context.Context, key Key, decision Decision, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern KeyPattern) error
}

// Ancestry lists the ancestors of a resource, nearest first, excluding the resource itself
type Ancestry interface {
	Ancestors(ctx context.Context, ref ResourceRef) ([]ResourceRef, error)
}

// BatchAncestry resolves ancestors for many resources at once. Implementations
// of Ancestry that also implement it are used by GetAccessibleResourceIDs.
type BatchAncestry interface {
	AncestorsOf(ctx context.Context, resourceType ResourceType, ids []string) (map[string][]ResourceRef, error)
}

// OwnershipLookup resolves resource owners. OwnersOf omits ids that do not exist.
type OwnershipLookup interface {
	OwnersOf(ctx context.Context, resourceType ResourceType, ids []string) (map[string]string, error)
}
