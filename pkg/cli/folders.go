package cli

import (
	"context"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/hierarchy"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func newFolderCommand(r *runner) *Command {
	return group("folder", "Manage the folder tree", r.out,
		&Command{Name: "create", Description: "Create a folder", Run: r.runFolderCreate},
		&Command{Name: "move", Description: "Move a folder under a new parent", Run: r.runFolderMove},
		&Command{Name: "delete", Description: "Soft-delete a folder and its subtree", Run: r.folderByID("folder delete", "Deleted", (*hierarchy.Walker).Delete)},
		&Command{Name: "restore", Description: "Restore a soft-deleted folder and its subtree", Run: r.folderByID("folder restore", "Restored", (*hierarchy.Walker).Restore)},
		&Command{Name: "ancestors", Description: "Print a folder's ancestor chain", Run: r.runFolderAncestors},
		&Command{Name: "verify", Description: "Rebuild materialized paths that drifted", Run: r.runFolderVerify},
	)
}

func (r *runner) runFolderCreate(ctx context.Context, args []string) error {
	fs := r.flags("folder create")
	id := fs.String("id", "", "Folder id (generated when empty)")
	parent := fs.String("parent", "", "Parent folder id (root when empty)")
	owner := fs.String("owner", "", "Owner subject id")
	name := fs.String("name", "", "Display name")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "owner", "name"); err != nil {
		return err
	}

	return r.withApp(ctx, func(app *bootstrap.App) error {
		folder := &hierarchy.Folder{ID: *id, ParentID: optional(*parent), OwnerID: *owner, Name: *name}
		if err := app.Folders.CreateFolder(ctx, folder); err != nil {
			return err
		}
		r.printf("Created folder %s at %s\n", folder.ID, folder.Path)
		return nil
	})
}

func (r *runner) runFolderMove(ctx context.Context, args []string) error {
	fs := r.flags("folder move")
	id := fs.String("id", "", "Folder id")
	parent := fs.String("parent", "", "New parent folder id (root when empty)")
	actor := fs.String("actor", "", "Id of the subject performing the move")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "id"); err != nil {
		return err
	}

	if *actor != "" {
		ctx = observability.WithSubjectID(ctx, *actor)
	}
	return r.withApp(ctx, func(app *bootstrap.App) error {
		if err := app.Folders.Move(ctx, *id, optional(*parent)); err != nil {
			return err
		}
		target := *parent
		if target == "" {
			target = "root"
		}
		r.printf("Moved folder %s under %s\n", *id, target)
		return nil
	})
}

func (r *runner) folderByID(name, verb string, op func(*hierarchy.Walker, context.Context, string) error) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		fs := r.flags(name)
		id := fs.String("id", "", "Folder id")

		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}

		return r.withApp(ctx, func(app *bootstrap.App) error {
			if err := op(app.Folders, ctx, *id); err != nil {
				return err
			}
			r.printf("%s folder %s\n", verb, *id)
			return nil
		})
	}
}

func (r *runner) runFolderAncestors(ctx context.Context, args []string) error {
	fs := r.flags("folder ancestors")
	resourceType := fs.String("type", string(access.ResourceFolder), "FOLDER or DOCUMENT")
	id := fs.String("id", "", "Resource id")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "id"); err != nil {
		return err
	}
	ref, err := parseRef(*resourceType, *id)
	if err != nil {
		return err
	}

	return r.withApp(ctx, func(app *bootstrap.App) error {
		ancestors, err := app.Folders.Ancestors(ctx, ref)
		if err != nil {
			return err
		}
		ids := make([]string, len(ancestors))
		for i, a := range ancestors {
			ids[i] = a.ID
		}
		r.printf("%s\n", strings.Join(ids, " -> "))
		return nil
	})
}

func (r *runner) runFolderVerify(ctx context.Context, args []string) error {
	if err := r.flags("folder verify").Parse(args); err != nil {
		return err
	}

	return r.withApp(ctx, func(app *bootstrap.App) error {
		repaired, err := app.Folders.VerifyPaths(ctx)
		if err != nil {
			return err
		}
		r.printf("Repaired %d folder paths\n", repaired)
		return nil
	})
}

func newDocumentCommand(r *runner) *Command {
	return group("document", "Manage documents", r.out,
		&Command{Name: "create", Description: "Create a document in a folder", Run: r.runDocumentCreate},
	)
}

func (r *runner) runDocumentCreate(ctx context.Context, args []string) error {
	fs := r.flags("document create")
	id := fs.String("id", "", "Document id (generated when empty)")
	folder := fs.String("folder", "", "Containing folder id")
	owner := fs.String("owner", "", "Owner subject id")
	name := fs.String("name", "", "Display name")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "folder", "owner", "name"); err != nil {
		return err
	}

	return r.withApp(ctx, func(app *bootstrap.App) error {
		doc := &hierarchy.Document{ID: *id, FolderID: optional(*folder), OwnerID: *owner, Name: *name}
		if err := app.Folders.CreateDocument(ctx, doc); err != nil {
			return err
		}
		r.printf("Created document %s in folder %s\n", doc.ID, *folder)
		return nil
	})
}
