package cli

import (
	"context"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
)

func newAuditCommand(r *runner) *Command {
	return &Command{
		Name:        "audit",
		Description: "Show recent audit events for a subject",
		Run: func(ctx context.Context, args []string) error {
			fs := r.flags("audit")
			subjectID := fs.String("subject", "", "Subject id")
			limit := fs.Int("limit", 20, "Maximum number of events")

			if err := fs.Parse(args); err != nil {
				return err
			}
			if err := requireFlags(fs, "subject"); err != nil {
				return err
			}

			return r.withApp(ctx, func(app *bootstrap.App) error {
				events, err := app.AuditLog.Recent(ctx, *subjectID, *limit)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
				writeRow(tw, "TIME", "EVENT", "RESOURCE", "PERMISSION", "REASON")
				for _, e := range events {
					resource := ""
					if e.ResourceType != "" {
						resource = e.ResourceType + ":" + e.ResourceID
					}
					writeRow(tw, e.Timestamp.UTC().Format(time.RFC3339), string(e.Type), resource, e.Permission, strings.TrimSpace(e.Reason))
				}
				return tw.Flush()
			})
		},
	}
}
