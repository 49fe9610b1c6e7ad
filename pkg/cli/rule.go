package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func newRuleCommand(r *runner) *Command {
	return group("rule", "Create, remove and list access rules", r.out,
		&Command{Name: "create", Description: "Create a GRANT or DENY rule", Run: r.runRuleCreate},
		&Command{Name: "remove", Description: "Remove a rule by id", Run: r.runRuleRemove},
		&Command{Name: "list", Description: "List the rules on a resource", Run: r.runRuleList},
	)
}

func (r *runner) runRuleCreate(ctx context.Context, args []string) error {
	fs := r.flags("rule create")
	resourceType := fs.String("type", "", "Resource type (FOLDER, DOCUMENT, PROJECT)")
	resourceID := fs.String("id", "", "Resource id")
	ruleType := fs.String("rule-type", string(access.RuleGrant), "GRANT or DENY")
	targetType := fs.String("target-type", "", "USER, GROUP, ROLE or PROJECT_ROLE")
	targetID := fs.String("target-id", "", "User or group id for USER and GROUP targets")
	targetRole := fs.String("target-role", "", "Role for ROLE and PROJECT_ROLE targets")
	projectID := fs.String("project", "", "Project id for PROJECT_ROLE targets")
	permissions := fs.String("permissions", "", "Comma-separated permissions")
	inherit := fs.Bool("inherit", false, "Apply the rule to descendants")
	actor := fs.String("actor", "", "Id of the administrator creating the rule")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "type", "id", "target-type", "permissions", "actor"); err != nil {
		return err
	}

	attrs := access.RuleAttributes{
		ResourceType: access.ResourceType(strings.ToUpper(*resourceType)),
		ResourceID:   *resourceID,
		RuleType:     access.RuleType(strings.ToUpper(*ruleType)),
		TargetType:   access.TargetType(strings.ToUpper(*targetType)),
		TargetID:     optional(*targetID),
		TargetRole:   optional(*targetRole),
		ProjectID:    optional(*projectID),
		Permissions:  splitList(*permissions),
		Inherit:      *inherit,
	}

	ctx = observability.WithSubjectID(ctx, *actor)
	return r.withApp(ctx, func(app *bootstrap.App) error {
		rule, err := app.Service.CreateRule(ctx, attrs, *actor)
		if rule != nil {
			r.printf("Created rule %s\n", rule.ID)
		}
		if errors.Is(err, access.ErrInvalidationFailed) {
			r.printf("Warning: cached decisions may be stale until they expire\n")
		}
		return err
	})
}

func (r *runner) runRuleRemove(ctx context.Context, args []string) error {
	fs := r.flags("rule remove")
	ruleID := fs.String("id", "", "Rule id")
	actor := fs.String("actor", "", "Id of the administrator removing the rule")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "id", "actor"); err != nil {
		return err
	}

	ctx = observability.WithSubjectID(ctx, *actor)
	return r.withApp(ctx, func(app *bootstrap.App) error {
		if err := app.Service.RemoveRule(ctx, *ruleID); err != nil {
			return err
		}
		r.printf("Removed rule %s\n", *ruleID)
		return nil
	})
}

func (r *runner) runRuleList(ctx context.Context, args []string) error {
	fs := r.flags("rule list")
	resourceType := fs.String("type", "", "Resource type (FOLDER, DOCUMENT, PROJECT)")
	resourceID := fs.String("id", "", "Resource id")
	asJSON := fs.Bool("json", false, "Print rules as JSON")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "type", "id"); err != nil {
		return err
	}
	ref, err := parseRef(*resourceType, *resourceID)
	if err != nil {
		return err
	}

	return r.withApp(ctx, func(app *bootstrap.App) error {
		rules, err := app.Service.ListRules(ctx, ref.Type, ref.ID)
		if err != nil {
			return err
		}

		if *asJSON {
			enc := json.NewEncoder(r.out)
			enc.SetIndent("", "  ")
			return enc.Encode(rules)
		}

		tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
		writeRow(tw, "ID", "TYPE", "TARGET", "PERMISSIONS", "INHERIT")
		for _, rule := range rules {
			writeRow(tw, rule.ID, string(rule.RuleType), describeTarget(rule), strings.Join(rule.Permissions, ","), boolString(rule.Inherit))
		}
		return tw.Flush()
	})
}

func writeRow(tw *tabwriter.Writer, cols ...string) {
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
}

func describeTarget(rule access.AccessRule) string {
	switch rule.TargetType {
	case access.TargetUser, access.TargetGroup:
		return string(rule.TargetType) + ":" + deref(rule.TargetID)
	case access.TargetProjectRole:
		return string(rule.TargetType) + ":" + deref(rule.ProjectID) + "/" + deref(rule.TargetRole)
	default:
		return string(rule.TargetType) + ":" + deref(rule.TargetRole)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolString(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
