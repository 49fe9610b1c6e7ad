package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
)

func newCheckCommand(r *runner) *Command {
	return &Command{
		Name:        "check",
		Description: "Explain whether a subject holds a permission",
		Run:         r.runCheck,
	}
}

func (r *runner) runCheck(ctx context.Context, args []string) error {
	fs := r.flags("check")
	subjectID := fs.String("subject", "", "Subject (user) id")
	role := fs.String("role", string(access.RoleUser), "System role of the subject")
	resourceType := fs.String("type", "", "Resource type (FOLDER, DOCUMENT, PROJECT)")
	resourceID := fs.String("id", "", "Resource id")
	permission := fs.String("permission", access.PermissionRead, "Permission to check")
	direct := fs.Bool("direct", false, "Only evaluate rules on the resource itself")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "subject", "type", "id", "permission"); err != nil {
		return err
	}
	subject, err := parseSubject(*subjectID, *role)
	if err != nil {
		return err
	}
	ref, err := parseRef(*resourceType, *resourceID)
	if err != nil {
		return err
	}

	return r.withApp(ctx, func(app *bootstrap.App) error {
		var decision access.Decision
		if *direct {
			decision, err = app.Service.CheckPermission(ctx, subject, ref.Type, ref.ID, *permission)
		} else {
			decision, err = app.Service.Authorize(ctx, subject, ref, *permission)
		}
		if err != nil {
			return err
		}

		verdict := "DENY"
		if decision.Allowed {
			verdict = "ALLOW"
		}
		r.printf("%s\t%s\n", verdict, decision.Reason)
		return nil
	})
}

func newAccessibleCommand(r *runner) *Command {
	return &Command{
		Name:        "accessible",
		Description: "Filter resource ids down to those a subject may read",
		Run: func(ctx context.Context, args []string) error {
			fs := r.flags("accessible")
			subjectID := fs.String("subject", "", "Subject (user) id")
			role := fs.String("role", string(access.RoleUser), "System role of the subject")
			resourceType := fs.String("type", "", "Resource type (FOLDER, DOCUMENT, PROJECT)")
			ids := fs.String("ids", "", "Comma-separated candidate ids")

			if err := fs.Parse(args); err != nil {
				return err
			}
			if err := requireFlags(fs, "subject", "type", "ids"); err != nil {
				return err
			}
			subject, err := parseSubject(*subjectID, *role)
			if err != nil {
				return err
			}
			rt, err := parseResourceType(*resourceType)
			if err != nil {
				return err
			}

			return r.withApp(ctx, func(app *bootstrap.App) error {
				allowed, err := app.Service.GetAccessibleResourceIDs(ctx, subject, rt, splitList(*ids))
				if err != nil {
					return err
				}
				for _, id := range allowed {
					r.printf("%s\n", id)
				}
				return nil
			})
		},
	}
}

func parseSubject(id, role string) (access.Subject, error) {
	subject := access.Subject{ID: id, Role: access.SystemRole(strings.ToUpper(role))}
	if !subject.Role.Valid() {
		return access.Subject{}, fmt.Errorf("unknown role %q (must be VIEWER, USER, SUPERVISOR, or ADMIN)", role)
	}
	return subject, nil
}

func parseResourceType(value string) (access.ResourceType, error) {
	rt := access.ResourceType(strings.ToUpper(value))
	if !rt.Valid() {
		return "", fmt.Errorf("unknown resource type %q (must be FOLDER, DOCUMENT, or PROJECT)", value)
	}
	return rt, nil
}

func parseRef(resourceType, id string) (access.ResourceRef, error) {
	rt, err := parseResourceType(resourceType)
	if err != nil {
		return access.ResourceRef{}, err
	}
	return access.ResourceRef{Type: rt, ID: id}, nil
}
