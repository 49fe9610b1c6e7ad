package cli

import (
	"context"
	"errors"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/membership"
)

func newGroupCommand(r *runner) *Command {
	return group("group", "Manage group membership", r.out,
		&Command{Name: "add", Description: "Add a subject to a group", Run: r.groupMember(true)},
		&Command{Name: "remove", Description: "Remove a subject from a group", Run: r.groupMember(false)},
	)
}

func (r *runner) groupMember(add bool) func(ctx context.Context, args []string) error {
	name := "group remove"
	if add {
		name = "group add"
	}
	return func(ctx context.Context, args []string) error {
		fs := r.flags(name)
		groupID := fs.String("group", "", "Group id")
		subjectID := fs.String("subject", "", "Subject (user) id")

		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := requireFlags(fs, "group", "subject"); err != nil {
			return err
		}

		return r.withApp(ctx, func(app *bootstrap.App) error {
			return r.membershipResult(func(m *membership.Store) error {
				if add {
					return m.AddGroupMember(ctx, *groupID, *subjectID)
				}
				return m.RemoveGroupMember(ctx, *groupID, *subjectID)
			}, app.Members, "%s %s %s group %s\n", pick(add, "Added", "Removed"), *subjectID, pick(add, "to", "from"), *groupID)
		})
	}
}

func newProjectCommand(r *runner) *Command {
	return group("project", "Manage project role assignments", r.out,
		&Command{Name: "assign", Description: "Assign a project role to a subject", Run: r.projectRole(true)},
		&Command{Name: "revoke", Description: "Revoke a project role from a subject", Run: r.projectRole(false)},
	)
}

func (r *runner) projectRole(assign bool) func(ctx context.Context, args []string) error {
	name := "project revoke"
	if assign {
		name = "project assign"
	}
	return func(ctx context.Context, args []string) error {
		fs := r.flags(name)
		projectID := fs.String("project", "", "Project id")
		subjectID := fs.String("subject", "", "Subject (user) id")
		role := fs.String("role", "", "Project role")

		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := requireFlags(fs, "project", "subject", "role"); err != nil {
			return err
		}

		return r.withApp(ctx, func(app *bootstrap.App) error {
			return r.membershipResult(func(m *membership.Store) error {
				if assign {
					return m.AssignProjectRole(ctx, *projectID, *subjectID, *role)
				}
				return m.RevokeProjectRole(ctx, *projectID, *subjectID, *role)
			}, app.Members, "%s %s role %s in project %s\n", pick(assign, "Assigned", "Revoked"), *subjectID, *role, *projectID)
		})
	}
}

// membershipResult prints the confirmation once the change is committed, even
// when the follow-up cache invalidation failed.
func (r *runner) membershipResult(change func(*membership.Store) error, m *membership.Store, format string, args ...interface{}) error {
	err := change(m)
	if err != nil && !errors.Is(err, access.ErrInvalidationFailed) {
		return err
	}
	r.printf(format, args...)
	if err != nil {
		r.printf("Warning: cached decisions may be stale until they expire\n")
	}
	return err
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
