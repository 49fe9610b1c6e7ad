package cli

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
)

func newMigrateCommand(r *runner) *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations",
		Run: func(ctx context.Context, args []string) error {
			if err := r.flags("migrate").Parse(args); err != nil {
				return err
			}
			return r.withApp(ctx, func(app *bootstrap.App) error {
				if err := access.RunMigrations(ctx, app.DB); err != nil {
					return err
				}
				r.printf("Schema is at version %d\n", len(access.GetMigrations()))
				return nil
			})
		},
	}
}
