package decisioncache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

func strPtr(s string) *string { return &s }

type memoryRules struct {
	mu    sync.Mutex
	rules []access.AccessRule
}

func (m *memoryRules) CreateRule(_ context.Context, rule *access.AccessRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	m.rules = append(m.rules, *rule)
	return nil
}

func (m *memoryRules) GetRule(_ context.Context, id string) (*access.AccessRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, access.ErrNotFound
}

func (m *memoryRules) DeleteRule(_ context.Context, id string) (*access.AccessRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return &r, nil
		}
	}
	return nil, access.ErrNotFound
}

func (m *memoryRules) FindRulesForResource(_ context.Context, t access.ResourceType, id string) ([]access.AccessRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []access.AccessRule
	for _, r := range m.rules {
		if r.ResourceType == t && r.ResourceID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRules) FindRulesForTargets(ctx context.Context, q access.RuleQuery) ([]access.AccessRule, error) {
	var out []access.AccessRule
	for _, id := range q.ResourceIDs {
		rules, _ := m.FindRulesForResource(ctx, q.ResourceType, id)
		out = append(out, rules...)
	}
	return out, nil
}

type noMembers struct{}

func (noMembers) GroupsOf(context.Context, string) ([]string, error) { return nil, nil }

func (noMembers) ProjectAssignmentsOf(context.Context, string) ([]access.ProjectAssignment, error) {
	return nil, nil
}
