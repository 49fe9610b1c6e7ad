package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ServiceConfig wires a Service. Only the rule store and membership resolver
// are required.
type ServiceConfig struct {
	Cache    DecisionCache
	CacheTTL time.Duration
	// Generations must be shared with every other writer that invalidates
	// Cache, such as the membership store. Nil creates a private table.
	Generations *Generations
	Ancestry    Ancestry
	Owners      OwnershipLookup
	Audit       audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      trace.Tracer
}

// Service is the access engine's public surface: checks, rule administration
// and listing filters.
type Service struct {
	store    RuleStore
	members  MembershipResolver
	cache    DecisionCache
	gens     *Generations
	ancestry Ancestry
	owners   OwnershipLookup
	resolver *Resolver
	enforcer *Enforcer
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService creates the access service
func NewService(store RuleStore, members MembershipResolver, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOp{}
	}
	if cfg.Generations == nil {
		cfg.Generations = NewGenerations(0)
	}

	resolver := NewResolver(store, members, cfg.Cache, ResolverConfig{
		CacheTTL:    cfg.CacheTTL,
		Generations: cfg.Generations,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		Tracer:      cfg.Tracer,
	})

	return &Service{
		store:    store,
		members:  members,
		cache:    cfg.Cache,
		gens:     cfg.Generations,
		ancestry: cfg.Ancestry,
		owners:   cfg.Owners,
		resolver: resolver,
		enforcer: NewEnforcer(resolver, cfg.Ancestry, cfg.Owners, EnforcerConfig{
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
			Tracer:  cfg.Tracer,
			Audit:   cfg.Audit,
		}),
		audit:   cfg.Audit,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Resolver returns the underlying single-resource resolver
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Enforcer returns the enforcer built over the service's resolver
func (s *Service) Enforcer() *Enforcer {
	return s.enforcer
}

// CheckPermission decides a permission on one resource from its own rules
func (s *Service) CheckPermission(ctx context.Context, subject Subject, resourceType ResourceType, resourceID, permission string) (Decision, error) {
	return s.resolver.CheckPermission(ctx, subject, resourceType, resourceID, permission)
}

// Authorize runs the full enforcement chain and reports the decision
func (s *Service) Authorize(ctx context.Context, subject Subject, ref ResourceRef, permission string) (Decision, error) {
	return s.enforcer.Authorize(ctx, subject, ref, permission)
}

// Enforce runs the full enforcement chain and fails with ErrForbidden on deny
func (s *Service) Enforce(ctx context.Context, subject Subject, ref ResourceRef, permission string) (Decision, error) {
	return s.enforcer.Enforce(ctx, subject, ref, permission)
}

// CreateRule validates and stores a rule, then drops every cached decision
// about its resource. When the store commits but invalidation fails, the
// persisted rule is returned with an error wrapping ErrInvalidationFailed.
func (s *Service) CreateRule(ctx context.Context, attrs RuleAttributes, createdByID string) (*AccessRule, error) {
	if err := attrs.Validate(); err != nil {
		s.metrics.RecordRuleMutation("create", err)
		return nil, err
	}

	rule := &AccessRule{
		ResourceType: attrs.ResourceType,
		ResourceID:   attrs.ResourceID,
		RuleType:     attrs.RuleType,
		TargetType:   attrs.TargetType,
		TargetID:     attrs.TargetID,
		TargetRole:   attrs.TargetRole,
		ProjectID:    attrs.ProjectID,
		Permissions:  dedupe(attrs.Permissions),
		Inherit:      attrs.Inherit,
		CreatedByID:  createdByID,
	}

	err := s.store.CreateRule(ctx, rule)
	s.metrics.RecordRuleMutation("create", err)
	if err != nil {
		return nil, err
	}

	s.record(ctx, &audit.Event{
		Type:         audit.EventRuleCreate,
		SubjectID:    createdByID,
		ResourceType: string(rule.ResourceType),
		ResourceID:   rule.ResourceID,
		RuleID:       rule.ID,
		Metadata: map[string]interface{}{
			"rule_type":   string(rule.RuleType),
			"target_type": string(rule.TargetType),
			"permissions": rule.Permissions,
			"inherit":     rule.Inherit,
		},
	})

	if err := s.invalidate(ctx, ResourcePattern(rule.ResourceType, rule.ResourceID)); err != nil {
		return rule, fmt.Errorf("rule %s created: %w", rule.ID, err)
	}
	return rule, nil
}

// RemoveRule deletes a rule and drops the cached decisions about its resource
func (s *Service) RemoveRule(ctx context.Context, ruleID string) error {
	rule, err := s.store.DeleteRule(ctx, ruleID)
	s.metrics.RecordRuleMutation("remove", err)
	if err != nil {
		return err
	}

	s.record(ctx, &audit.Event{
		Type:         audit.EventRuleDelete,
		SubjectID:    observability.GetSubjectID(ctx),
		ResourceType: string(rule.ResourceType),
		ResourceID:   rule.ResourceID,
		RuleID:       rule.ID,
	})

	if err := s.invalidate(ctx, ResourcePattern(rule.ResourceType, rule.ResourceID)); err != nil {
		return fmt.Errorf("rule %s removed: %w", rule.ID, err)
	}
	return nil
}

// ListRules returns every rule on a resource, oldest first
func (s *Service) ListRules(ctx context.Context, resourceType ResourceType, resourceID string) ([]AccessRule, error) {
	return s.store.FindRulesForResource(ctx, resourceType, resourceID)
}

// InvalidateSubject drops every cached decision about a subject. Callers use
// it after changing the subject's system role.
func (s *Service) InvalidateSubject(ctx context.Context, subjectID string) error {
	return s.invalidate(ctx, SubjectPattern(subjectID))
}

// invalidate advances the generation before touching the cache, so an
// evaluation that read the old state can no longer store its decision.
func (s *Service) invalidate(ctx context.Context, pattern KeyPattern) error {
	s.gens.Advance(pattern)
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, pattern); err != nil {
		s.metrics.RecordCacheError("invalidate")
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"subject_id":    pattern.SubjectID,
			"resource_type": string(pattern.ResourceType),
			"resource_id":   pattern.ResourceID,
		}).Error("Decision cache invalidation failed after commit")
		return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, event *audit.Event) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WithError(err).Warnf("Failed to record audit event %s", event.Type)
	}
}

// GetAccessibleResourceIDs filters candidates down to those the subject may
// read. The result matches calling Authorize with "read" on each candidate,
// but rules, owners and ancestors are loaded in batches. Candidates that do
// not exist are left out. The result keeps the candidates' order.
func (s *Service) GetAccessibleResourceIDs(ctx context.Context, subject Subject, resourceType ResourceType, candidateIDs []string) ([]string, error) {
	defer s.metrics.ObserveCheck("batch", time.Now())

	candidates := dedupe(candidateIDs)
	if len(candidates) == 0 {
		return []string{}, nil
	}
	if subject.IsAdmin() {
		return candidates, nil
	}

	hierarchical := isHierarchical(resourceType)

	var (
		owners      map[string]string
		ancestors   map[string][]ResourceRef
		groups      []string
		assignments []ProjectAssignment
	)

	g, gctx := errgroup.WithContext(ctx)
	if hierarchical && s.owners != nil {
		g.Go(func() error {
			found, err := s.owners.OwnersOf(gctx, resourceType, candidates)
			if err != nil {
				return fmt.Errorf("failed to resolve owners: %w", err)
			}
			owners = found
			return nil
		})
	}
	if hierarchical && s.ancestry != nil {
		g.Go(func() error {
			found, err := s.ancestorsOf(gctx, resourceType, candidates)
			if err != nil {
				return fmt.Errorf("failed to resolve ancestors: %w", err)
			}
			ancestors = found
			return nil
		})
	}
	g.Go(func() error {
		found, err := s.members.GroupsOf(gctx, subject.ID)
		if err != nil {
			return fmt.Errorf("failed to load groups of %s: %w", subject.ID, err)
		}
		groups = found
		return nil
	})
	g.Go(func() error {
		found, err := s.members.ProjectAssignmentsOf(gctx, subject.ID)
		if err != nil {
			return fmt.Errorf("failed to load project roles of %s: %w", subject.ID, err)
		}
		assignments = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Candidates that still need rule evaluation, grouped with their ancestors by type
	pending := make([]string, 0, len(candidates))
	allowed := make(map[string]bool, len(candidates))
	idsByType := map[ResourceType][]string{}
	seen := map[ResourceRef]bool{}
	addRef := func(ref ResourceRef) {
		if !seen[ref] {
			seen[ref] = true
			idsByType[ref.Type] = append(idsByType[ref.Type], ref.ID)
		}
	}

	for _, id := range candidates {
		if owners != nil {
			owner, ok := owners[id]
			if !ok {
				continue
			}
			if owner == subject.ID {
				allowed[id] = true
				continue
			}
		}
		pending = append(pending, id)
		addRef(ResourceRef{Type: resourceType, ID: id})
		for _, a := range ancestors[id] {
			addRef(a)
		}
	}

	f := newFacts(subject, groups, assignments)
	rulesByRef, err := s.loadRulesForTargets(ctx, idsByType, f)
	if err != nil {
		return nil, err
	}

	for _, id := range pending {
		ref := ResourceRef{Type: resourceType, ID: id}
		if evaluate(rulesByRef[ref], f, PermissionRead, false).Allowed {
			allowed[id] = true
			continue
		}
		for _, a := range ancestors[id] {
			if evaluate(rulesByRef[a], f, PermissionRead, true).Allowed {
				allowed[id] = true
				break
			}
		}
	}

	result := make([]string, 0, len(allowed))
	for _, id := range candidates {
		if allowed[id] {
			result = append(result, id)
		}
	}
	return result, nil
}

func (s *Service) ancestorsOf(ctx context.Context, resourceType ResourceType, ids []string) (map[string][]ResourceRef, error) {
	if batch, ok := s.ancestry.(BatchAncestry); ok {
		return batch.AncestorsOf(ctx, resourceType, ids)
	}
	result := make(map[string][]ResourceRef, len(ids))
	for _, id := range ids {
		refs, err := s.ancestry.Ancestors(ctx, ResourceRef{Type: resourceType, ID: id})
		if err != nil {
			return nil, err
		}
		result[id] = refs
	}
	return result, nil
}

// loadRulesForTargets issues one rule query per resource type and indexes the
// result by resource
func (s *Service) loadRulesForTargets(ctx context.Context, idsByType map[ResourceType][]string, f *facts) (map[ResourceRef][]AccessRule, error) {
	subjectIDs := []string{f.subject.ID}
	for g := range f.groups {
		subjectIDs = append(subjectIDs, g)
	}
	roleSet := map[string]bool{}
	if f.subject.Role != "" {
		roleSet[string(f.subject.Role)] = true
	}
	for a := range f.assignments {
		roleSet[a.ProjectRole] = true
	}
	roles := make([]string, 0, len(roleSet))
	for r := range roleSet {
		roles = append(roles, r)
	}
	sort.Strings(subjectIDs[1:])
	sort.Strings(roles)

	types := make([]ResourceType, 0, len(idsByType))
	for t := range idsByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	byRef := make(map[ResourceRef][]AccessRule)
	for _, t := range types {
		rules, err := s.store.FindRulesForTargets(ctx, RuleQuery{
			ResourceType: t,
			ResourceIDs:  idsByType[t],
			SubjectIDs:   subjectIDs,
			Roles:        roles,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load rules for %s listing: %w", t, err)
		}
		for _, rule := range rules {
			ref := ResourceRef{Type: rule.ResourceType, ID: rule.ResourceID}
			byRef[ref] = append(byRef[ref], rule)
		}
	}
	return byRef, nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
