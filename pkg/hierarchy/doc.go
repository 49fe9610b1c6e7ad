// Package hierarchy stores the folder tree and answers ancestry and ownership
// questions for the access enforcer.
//
// Every folder carries a materialized path: the ids from the root down to the
// folder itself joined with "/". The path is rewritten whenever the parent
// pointer changes (create, move, restore), so ancestor lookups are a single
// row read instead of a walk up the tree.
//
// # Moving folders
//
// Move rejects a new parent that lies inside the moved folder's subtree
// before anything is written. The folder and all of its descendants are then
// re-pathed in one transaction.
//
//	w := hierarchy.NewWalker(hierarchy.NewSQLFolderStore(db), hierarchy.WalkerConfig{})
//	if err := w.Move(ctx, "leaf", &newParent); errors.Is(err, hierarchy.ErrCycle) {
//		// rejected, nothing changed
//	}
//
// # Repair
//
// VerifyPaths recomputes every path from the parent pointers and rewrites the
// ones that drifted. gatehouse-maintenance runs it on a schedule.
package hierarchy
