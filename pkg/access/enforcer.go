package access

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// EnforcerConfig wires the optional collaborators of an Enforcer
type EnforcerConfig struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	Audit   audit.Logger
}

// Enforcer layers the admin bypass, the ownership bypass and the ancestor walk
// on top of a Resolver. Ownership and ancestry only apply to folders and
// documents; a nil Ancestry or OwnershipLookup skips that step.
type Enforcer struct {
	resolver *Resolver
	ancestry Ancestry
	owners   OwnershipLookup
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	audit    audit.Logger
}

// NewEnforcer creates an enforcer
func NewEnforcer(resolver *Resolver, ancestry Ancestry, owners OwnershipLookup, cfg EnforcerConfig) *Enforcer {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOp{}
	}
	return &Enforcer{
		resolver: resolver,
		ancestry: ancestry,
		owners:   owners,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		audit:    cfg.Audit,
	}
}

// Enforce returns an error wrapping ErrForbidden when no level grants the
// permission. The returned Decision is the resource-level one in that case.
func (e *Enforcer) Enforce(ctx context.Context, subject Subject, ref ResourceRef, permission string) (Decision, error) {
	decision, err := e.Authorize(ctx, subject, ref, permission)
	if err != nil {
		return Decision{}, err
	}
	if decision.Allowed {
		return decision, nil
	}

	event := &audit.Event{
		Type:         audit.EventAccessDenied,
		SubjectID:    subject.ID,
		ResourceType: string(ref.Type),
		ResourceID:   ref.ID,
		Permission:   permission,
		RuleID:       decision.RuleID,
		Reason:       decision.Reason,
	}
	if auditErr := e.audit.Log(ctx, event); auditErr != nil {
		e.logger.WithError(auditErr).Warn("Failed to record access denial")
	}

	return decision, fmt.Errorf("%w: %s on %s for %s: %s", ErrForbidden, permission, ref, subject.ID, decision.Reason)
}

// Authorize is Enforce without the error on deny
func (e *Enforcer) Authorize(ctx context.Context, subject Subject, ref ResourceRef, permission string) (Decision, error) {
	defer e.metrics.ObserveCheck("enforce", time.Now())

	ctx, span := e.tracer.Start(ctx, "access.Enforcer.Authorize", trace.WithAttributes(
		attribute.String("gatehouse.subject_id", subject.ID),
		attribute.String("gatehouse.resource", ref.String()),
		attribute.String("gatehouse.permission", permission),
	))
	defer span.End()

	if subject.IsAdmin() {
		return Decision{Allowed: true, Reason: ReasonAdminOverride}, nil
	}

	hierarchical := isHierarchical(ref.Type)

	if hierarchical && e.owners != nil {
		owners, err := e.owners.OwnersOf(ctx, ref.Type, []string{ref.ID})
		if err != nil {
			return Decision{}, fmt.Errorf("failed to resolve owner of %s: %w", ref, err)
		}
		owner, ok := owners[ref.ID]
		if !ok {
			return Decision{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		if owner == subject.ID {
			e.metrics.RecordDecision(true, "owner")
			return Decision{Allowed: true, Reason: ReasonOwner}, nil
		}
	}

	direct, err := e.resolver.CheckPermission(ctx, subject, ref.Type, ref.ID, permission)
	if err != nil {
		return Decision{}, err
	}
	if direct.Allowed || !hierarchical || e.ancestry == nil {
		return direct, nil
	}

	ancestors, err := e.ancestry.Ancestors(ctx, ref)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve ancestors of %s: %w", ref, err)
	}

	for _, ancestor := range ancestors {
		inherited, err := e.resolver.CheckInherited(ctx, subject, ancestor.Type, ancestor.ID, permission)
		if err != nil {
			return Decision{}, err
		}
		if inherited.Allowed {
			e.metrics.RecordDecision(true, "inherited")
			return inheritedFrom(ancestor, inherited), nil
		}
	}

	return direct, nil
}

func inheritedFrom(ancestor ResourceRef, d Decision) Decision {
	return Decision{
		Allowed: true,
		Reason:  fmt.Sprintf("inherited from %s: %s", ancestor, d.Reason),
		RuleID:  d.RuleID,
	}
}

func isHierarchical(t ResourceType) bool {
	return t == ResourceFolder || t == ResourceDocument
}
