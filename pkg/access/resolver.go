package access

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultCacheTTL is how long a decision stays cached when no TTL is configured
const DefaultCacheTTL = 5 * time.Minute

// ResolverConfig tunes a Resolver. Zero values select defaults.
type ResolverConfig struct {
	CacheTTL time.Duration
	// Generations is advanced by every writer that invalidates the cache.
	// Nil creates a private table.
	Generations *Generations
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      trace.Tracer
}

// Resolver decides whether a subject holds a permission on a single resource.
// It never looks at ancestors or ownership; see Enforcer for that.
type Resolver struct {
	rules   RuleStore
	members MembershipResolver
	cache   DecisionCache
	ttl     time.Duration
	gens    *Generations
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	flight  singleflight.Group
}

// NewResolver creates a resolver. A nil cache disables caching.
func NewResolver(rules RuleStore, members MembershipResolver, cache DecisionCache, cfg ResolverConfig) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}
	if cfg.Generations == nil {
		cfg.Generations = NewGenerations(0)
	}
	return &Resolver{
		rules:   rules,
		members: members,
		cache:   cache,
		ttl:     cfg.CacheTTL,
		gens:    cfg.Generations,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}
}

// CheckPermission evaluates every rule on the resource. "No access" is a
// Decision, never an error; errors are store failures only.
func (r *Resolver) CheckPermission(ctx context.Context, subject Subject, resourceType ResourceType, resourceID, permission string) (Decision, error) {
	return r.check(ctx, subject, Key{
		SubjectID:    subject.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Permission:   permission,
	})
}

// CheckInherited evaluates only the rules on the resource marked Inherit.
// The enforcer calls it for each ancestor.
func (r *Resolver) CheckInherited(ctx context.Context, subject Subject, resourceType ResourceType, resourceID, permission string) (Decision, error) {
	return r.check(ctx, subject, Key{
		SubjectID:    subject.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Permission:   permission,
		Inherited:    true,
	})
}

func (r *Resolver) check(ctx context.Context, subject Subject, key Key) (Decision, error) {
	kind := "direct"
	if key.Inherited {
		kind = "inherited"
	}
	defer r.metrics.ObserveCheck(kind, time.Now())

	ctx, span := r.tracer.Start(ctx, "access.Resolver."+kind, trace.WithAttributes(
		attribute.String("gatehouse.subject_id", subject.ID),
		attribute.String("gatehouse.resource_type", string(key.ResourceType)),
		attribute.String("gatehouse.resource_id", key.ResourceID),
		attribute.String("gatehouse.permission", key.Permission),
	))
	defer span.End()

	if subject.IsAdmin() {
		r.metrics.RecordDecision(true, "admin")
		span.SetAttributes(attribute.String("gatehouse.reason", ReasonAdminOverride))
		return Decision{Allowed: true, Reason: ReasonAdminOverride}, nil
	}

	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			r.metrics.RecordCacheError("get")
			r.logger.WithError(err).WithField("resource", key.ResourceID).Warn("Decision cache read failed, evaluating rules")
		case ok:
			r.metrics.RecordCache(true)
			r.metrics.RecordDecision(cached.Allowed, "cache")
			span.SetAttributes(attribute.Bool("gatehouse.cache_hit", true))
			return cached, nil
		default:
			r.metrics.RecordCache(false)
		}
	}

	decision, err := r.evaluateShared(ctx, subject, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}

	r.metrics.RecordDecision(decision.Allowed, "rules")
	span.SetAttributes(attribute.String("gatehouse.reason", decision.Reason))
	return decision, nil
}

// evaluateShared coalesces identical concurrent misses. The shared evaluation
// outlives a cancelled caller so the remaining waiters still get a result.
// The generation is part of the flight key: a check that starts after a
// committed change never joins an evaluation that began before it.
func (r *Resolver) evaluateShared(ctx context.Context, subject Subject, key Key) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	gen := r.gens.Current(key)
	flightKey := fmt.Sprintf("%s|%s|%s|%s|%s|%t|%d", key.SubjectID, subject.Role, key.ResourceType, key.ResourceID, key.Permission, key.Inherited, gen)
	detached := context.WithoutCancel(ctx)

	ch := r.flight.DoChan(flightKey, func() (interface{}, error) {
		return r.evaluateAndStore(detached, subject, key, gen)
	})

	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Decision{}, res.Err
		}
		return res.Val.(Decision), nil
	}
}

func (r *Resolver) evaluateAndStore(ctx context.Context, subject Subject, key Key, gen uint64) (Decision, error) {
	var (
		rules       []AccessRule
		groups      []string
		assignments []ProjectAssignment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := r.rules.FindRulesForResource(gctx, key.ResourceType, key.ResourceID)
		if err != nil {
			return fmt.Errorf("failed to load rules for %s %s: %w", key.ResourceType, key.ResourceID, err)
		}
		rules = found
		return nil
	})
	g.Go(func() error {
		found, err := r.members.GroupsOf(gctx, subject.ID)
		if err != nil {
			return fmt.Errorf("failed to load groups of %s: %w", subject.ID, err)
		}
		groups = found
		return nil
	})
	g.Go(func() error {
		found, err := r.members.ProjectAssignmentsOf(gctx, subject.ID)
		if err != nil {
			return fmt.Errorf("failed to load project roles of %s: %w", subject.ID, err)
		}
		assignments = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return Decision{}, err
	}

	decision := evaluate(rules, newFacts(subject, groups, assignments), key.Permission, key.Inherited)

	if r.cache != nil {
		r.storeDecision(ctx, key, decision, gen)
	}

	return decision, nil
}

// storeDecision caches a decision evaluated at generation gen. A decision that a
// concurrent change made stale is never left in the cache: it is skipped when
// the change is already visible, and removed again when the change raced
// with the write.
func (r *Resolver) storeDecision(ctx context.Context, key Key, decision Decision, gen uint64) {
	log := r.logger.WithFields(map[string]interface{}{
		"subject_id": key.SubjectID,
		"resource":   key.ResourceID,
	})
	if r.gens.Current(key) != gen {
		log.Debug("Rules changed during evaluation, not caching decision")
		return
	}
	if err := r.cache.Set(ctx, key, decision, r.ttl); err != nil {
		r.metrics.RecordCacheError("set")
		log.WithError(err).Warn("Failed to cache decision")
		return
	}
	if r.gens.Current(key) == gen {
		return
	}
	if err := r.cache.Invalidate(ctx, KeyPattern{
		SubjectID:    key.SubjectID,
		ResourceType: key.ResourceType,
		ResourceID:   key.ResourceID,
		Permission:   key.Permission,
	}); err != nil {
		r.metrics.RecordCacheError("invalidate")
		log.WithError(err).Error("Failed to drop decision cached during a concurrent change")
	}
}

// evaluate applies DENY rules before GRANT rules. With inheritableOnly set,
// rules without Inherit are ignored.
func evaluate(rules []AccessRule, f *facts, permission string, inheritableOnly bool) Decision {
	for i := range rules {
		rule := &rules[i]
		if rule.RuleType == RuleDeny && applies(rule, f, permission, inheritableOnly) {
			return denyByRule(rule.ID)
		}
	}
	for i := range rules {
		rule := &rules[i]
		if rule.RuleType == RuleGrant && applies(rule, f, permission, inheritableOnly) {
			return grantByRule(rule.ID)
		}
	}
	return Decision{Allowed: false, Reason: ReasonDefaultDeny}
}

func applies(rule *AccessRule, f *facts, permission string, inheritableOnly bool) bool {
	if inheritableOnly && !rule.Inherit {
		return false
	}
	return rule.Covers(permission) && ruleMatchesSubject(rule, f)
}
