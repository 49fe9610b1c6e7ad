package access

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// opLog records the order of store and cache side effects
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeRuleStore struct {
	mu        sync.Mutex
	rules     []AccessRule
	nextID    int
	err       error
	findCalls int
	log       *opLog
}

func (s *fakeRuleStore) CreateRule(_ context.Context, rule *AccessRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if rule.ID == "" {
		s.nextID++
		rule.ID = fmt.Sprintf("rule-%d", s.nextID)
	}
	rule.CreatedAt = time.Now()
	s.rules = append(s.rules, *rule)
	s.log.add("store.create")
	return nil
}

func (s *fakeRuleStore) GetRule(_ context.Context, id string) (*AccessRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			r := s.rules[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeRuleStore) DeleteRule(_ context.Context, id string) (*AccessRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.rules {
		if s.rules[i].ID == id {
			r := s.rules[i]
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			s.log.add("store.delete")
			return &r, nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
}

func (s *fakeRuleStore) FindRulesForResource(_ context.Context, resourceType ResourceType, resourceID string) ([]AccessRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.err != nil {
		return nil, s.err
	}
	var out []AccessRule
	for _, r := range s.rules {
		if r.ResourceType == resourceType && r.ResourceID == resourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) FindRulesForTargets(_ context.Context, q RuleQuery) ([]AccessRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.err != nil {
		return nil, s.err
	}
	ids := toSet(q.ResourceIDs)
	subjects := toSet(q.SubjectIDs)
	roles := toSet(q.Roles)
	var out []AccessRule
	for _, r := range s.rules {
		if r.ResourceType != q.ResourceType || !ids[r.ResourceID] {
			continue
		}
		switch r.TargetType {
		case TargetUser, TargetGroup:
			if r.TargetID != nil && subjects[*r.TargetID] {
				out = append(out, r)
			}
		case TargetRole, TargetProjectRole:
			if r.TargetRole != nil && roles[*r.TargetRole] {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *fakeRuleStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

// gatedRuleStore parks the first FindRulesForResource after arming, once the
// rules are read, until release is closed
type gatedRuleStore struct {
	*fakeRuleStore
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedRuleStore() *gatedRuleStore {
	return &gatedRuleStore{
		fakeRuleStore: &fakeRuleStore{},
		reached:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *gatedRuleStore) FindRulesForResource(ctx context.Context, resourceType ResourceType, resourceID string) ([]AccessRule, error) {
	rules, err := s.fakeRuleStore.FindRulesForResource(ctx, resourceType, resourceID)
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.release
	}
	return rules, err
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

type fakeMembers struct {
	groups      map[string][]string
	assignments map[string][]ProjectAssignment
	err         error
}

func (m *fakeMembers) GroupsOf(_ context.Context, subjectID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.groups[subjectID], nil
}

func (m *fakeMembers) ProjectAssignmentsOf(_ context.Context, subjectID string) ([]ProjectAssignment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.assignments[subjectID], nil
}

type fakeCache struct {
	mu            sync.Mutex
	entries       map[Key]Decision
	getErr        error
	setErr        error
	invalidateErr error
	gets          int
	log           *opLog
	// afterSet runs after every successful Set, outside the lock
	afterSet func(Key)
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[Key]Decision{}}
}

func (c *fakeCache) Get(_ context.Context, key Key) (Decision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return Decision{}, false, c.getErr
	}
	d, ok := c.entries[key]
	return d, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key Key, d Decision, _ time.Duration) error {
	c.mu.Lock()
	if c.setErr != nil {
		c.mu.Unlock()
		return c.setErr
	}
	c.entries[key] = d
	hook := c.afterSet
	c.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, pattern KeyPattern) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.add("cache.invalidate")
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	for k := range c.entries {
		if pattern.Matches(k) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *fakeCache) entry(key Key) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	return d, ok
}

func (c *fakeCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fakeTree is a folder/document hierarchy keyed by child
type fakeTree struct {
	parents map[ResourceRef]ResourceRef
	owners  map[ResourceRef]string
	err     error
}

func (t *fakeTree) Ancestors(_ context.Context, ref ResourceRef) ([]ResourceRef, error) {
	if t.err != nil {
		return nil, t.err
	}
	var out []ResourceRef
	for cur, ok := t.parents[ref]; ok; cur, ok = t.parents[cur] {
		out = append(out, cur)
	}
	return out, nil
}

func (t *fakeTree) OwnersOf(_ context.Context, resourceType ResourceType, ids []string) (map[string]string, error) {
	if t.err != nil {
		return nil, t.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if owner, ok := t.owners[ResourceRef{Type: resourceType, ID: id}]; ok {
			out[id] = owner
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func userRule(id string, ruleType RuleType, resourceID, userID string, perms ...string) AccessRule {
	return AccessRule{
		ID:           id,
		ResourceType: ResourceFolder,
		ResourceID:   resourceID,
		RuleType:     ruleType,
		TargetType:   TargetUser,
		TargetID:     strPtr(userID),
		Permissions:  perms,
	}
}
