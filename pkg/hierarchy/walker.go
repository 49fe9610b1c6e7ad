package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultMaxDepth bounds folder chains when no limit is configured
const DefaultMaxDepth = 64

// WalkerConfig wires the optional collaborators of a Walker
type WalkerConfig struct {
	MaxDepth int
	Logger   *logrus.Logger
	Metrics  *observability.Metrics
	Audit    audit.Logger
}

// Walker maintains materialized folder paths and resolves ancestry.
// It implements access.Ancestry, access.BatchAncestry and access.OwnershipLookup.
type Walker struct {
	store    *SQLFolderStore
	maxDepth int
	log      *logrus.Logger
	metrics  *observability.Metrics
	audit    audit.Logger
}

// NewWalker creates a walker over store
func NewWalker(store *SQLFolderStore, cfg WalkerConfig) *Walker {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOp{}
	}
	return &Walker{
		store:    store,
		maxDepth: cfg.MaxDepth,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
	}
}

// CreateFolder inserts a folder under its ParentID, or as a root when nil.
// An empty ID is filled with a new uuid.
func (w *Walker) CreateFolder(ctx context.Context, f *Folder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if strings.Contains(f.ID, PathSeparator) {
		return fmt.Errorf("folder id %q must not contain %q", f.ID, PathSeparator)
	}

	parentPath := ""
	if f.ParentID != nil {
		parent, err := w.store.GetFolder(ctx, *f.ParentID)
		if err != nil {
			return err
		}
		if parent.IsDeleted() {
			return fmt.Errorf("%w: %s is deleted", ErrFolderNotFound, parent.ID)
		}
		parentPath = parent.Path
	}

	f.Path = childPath(parentPath, f.ID)
	if err := w.checkDepth(f.Path); err != nil {
		return err
	}
	f.CreatedAt = time.Now().UTC()

	if err := w.store.CreateFolder(ctx, f); err != nil {
		return err
	}
	w.metrics.RecordPathRebuilds(1)
	return nil
}

// CreateDocument inserts a document into its FolderID, which must exist when set.
// An empty ID is filled with a new uuid.
func (w *Walker) CreateDocument(ctx context.Context, d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.FolderID != nil {
		folder, err := w.store.GetFolder(ctx, *d.FolderID)
		if err != nil {
			return err
		}
		if folder.IsDeleted() {
			return fmt.Errorf("%w: %s is deleted", ErrFolderNotFound, folder.ID)
		}
	}
	d.CreatedAt = time.Now().UTC()
	return w.store.CreateDocument(ctx, d)
}

// AncestorChain returns the folder ids from the root down to folderID itself
func (w *Walker) AncestorChain(ctx context.Context, folderID string) ([]string, error) {
	f, err := w.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return ParsePath(f.Path), nil
}

// Ancestors implements access.Ancestry. A document's ancestors are its folder
// followed by that folder's ancestors. Projects have none.
func (w *Walker) Ancestors(ctx context.Context, ref access.ResourceRef) ([]access.ResourceRef, error) {
	switch ref.Type {
	case access.ResourceFolder:
		chain, err := w.AncestorChain(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return nearestFirst(withoutLast(chain)), nil

	case access.ResourceDocument:
		doc, err := w.store.GetDocument(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if doc.FolderID == nil {
			return []access.ResourceRef{}, nil
		}
		chain, err := w.AncestorChain(ctx, *doc.FolderID)
		if errors.Is(err, ErrFolderNotFound) {
			w.log.Warnf("Document %s points at missing folder %s", doc.ID, *doc.FolderID)
			return []access.ResourceRef{}, nil
		}
		if err != nil {
			return nil, err
		}
		return nearestFirst(chain), nil
	}
	return []access.ResourceRef{}, nil
}

// AncestorsOf implements access.BatchAncestry with at most two queries.
// Ids that do not exist are left out of the result.
func (w *Walker) AncestorsOf(ctx context.Context, resourceType access.ResourceType, ids []string) (map[string][]access.ResourceRef, error) {
	result := make(map[string][]access.ResourceRef, len(ids))

	switch resourceType {
	case access.ResourceFolder:
		paths, err := w.store.PathsOf(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, path := range paths {
			result[id] = nearestFirst(withoutLast(ParsePath(path)))
		}

	case access.ResourceDocument:
		folders, err := w.store.DocumentFolders(ctx, ids)
		if err != nil {
			return nil, err
		}
		var folderIDs []string
		for _, folderID := range folders {
			if folderID != nil {
				folderIDs = append(folderIDs, *folderID)
			}
		}
		paths, err := w.store.PathsOf(ctx, folderIDs)
		if err != nil {
			return nil, err
		}
		for docID, folderID := range folders {
			result[docID] = []access.ResourceRef{}
			if folderID == nil {
				continue
			}
			if path, ok := paths[*folderID]; ok {
				result[docID] = nearestFirst(ParsePath(path))
			}
		}
	}
	return result, nil
}

// OwnersOf implements access.OwnershipLookup
func (w *Walker) OwnersOf(ctx context.Context, resourceType access.ResourceType, ids []string) (map[string]string, error) {
	return w.store.OwnersOf(ctx, resourceType, ids)
}

// BuildPath recomputes a folder's path by following parent pointers and stores it
func (w *Walker) BuildPath(ctx context.Context, folderID string) (string, error) {
	chain, err := w.walkUp(folderID, func(id string) (*string, error) {
		return w.store.ParentOf(ctx, id)
	})
	if err != nil {
		return "", err
	}

	path := FormatPath(chain)
	if err := w.store.SetPath(ctx, folderID, path); err != nil {
		return "", err
	}
	w.metrics.RecordPathRebuilds(1)
	return path, nil
}

// Move re-parents a folder, or makes it a root when newParentID is nil. The
// folder's path and the paths of its whole subtree are rewritten in one
// transaction. A parent inside the folder's own subtree is rejected with
// ErrCycle before anything is written.
func (w *Walker) Move(ctx context.Context, folderID string, newParentID *string) error {
	var (
		oldParent *string
		rebuilt   int
	)

	err := w.store.InTx(ctx, func(tx *SQLFolderStore) error {
		folder, err := tx.GetFolder(ctx, folderID)
		if err != nil {
			return err
		}
		if folder.IsDeleted() {
			return fmt.Errorf("%w: %s is deleted", ErrFolderNotFound, folderID)
		}
		oldParent = folder.ParentID

		parentPath := ""
		if newParentID != nil {
			if *newParentID == folderID {
				return fmt.Errorf("%w: %s", ErrCycle, folderID)
			}
			parent, err := tx.GetFolder(ctx, *newParentID)
			if err != nil {
				return err
			}
			if parent.IsDeleted() {
				return fmt.Errorf("%w: %s is deleted", ErrFolderNotFound, parent.ID)
			}
			if slices.Contains(ParsePath(parent.Path), folderID) {
				return fmt.Errorf("%w: %s is below %s", ErrCycle, parent.ID, folderID)
			}
			parentPath = parent.Path
		}

		n, err := w.repath(ctx, tx, folder, newParentID, childPath(parentPath, folderID))
		rebuilt = n
		return err
	})
	if err != nil {
		return err
	}

	w.metrics.RecordPathRebuilds(rebuilt)
	w.log.WithFields(logrus.Fields{
		"folder_id":  folderID,
		"old_parent": deref(oldParent),
		"new_parent": deref(newParentID),
		"rebuilt":    rebuilt,
	}).Info("Moved folder")
	w.record(ctx, folderID, oldParent, newParentID, "move")
	return nil
}

// Delete soft-deletes a folder and its subtree
func (w *Walker) Delete(ctx context.Context, folderID string) error {
	return w.store.InTx(ctx, func(tx *SQLFolderStore) error {
		folder, err := tx.GetFolder(ctx, folderID)
		if err != nil {
			return err
		}
		if folder.IsDeleted() {
			return nil
		}
		descendants, err := tx.Descendants(ctx, folder.Path)
		if err != nil {
			return err
		}
		// descendants deleted earlier keep their own timestamp and stay
		// deleted when this folder is restored
		ids := []string{folderID}
		for _, d := range descendants {
			if !d.IsDeleted() {
				ids = append(ids, d.ID)
			}
		}
		now := time.Now().UTC()
		return tx.SetDeleted(ctx, ids, &now)
	})
}

// Restore undeletes a folder and the descendants deleted together with it.
// Descendants deleted on their own beforehand stay deleted. When the old
// parent is gone or still deleted, the folder becomes a root.
func (w *Walker) Restore(ctx context.Context, folderID string) error {
	var (
		oldParent *string
		newParent *string
		rebuilt   int
	)

	err := w.store.InTx(ctx, func(tx *SQLFolderStore) error {
		folder, err := tx.GetFolder(ctx, folderID)
		if err != nil {
			return err
		}
		if !folder.IsDeleted() {
			return fmt.Errorf("%w: %s", ErrNotDeleted, folderID)
		}
		oldParent = folder.ParentID
		newParent = folder.ParentID

		parentPath := ""
		if folder.ParentID != nil {
			parent, err := tx.GetFolder(ctx, *folder.ParentID)
			switch {
			case errors.Is(err, ErrFolderNotFound):
				newParent = nil
			case err != nil:
				return err
			case parent.IsDeleted():
				newParent = nil
			default:
				parentPath = parent.Path
			}
		}

		descendants, err := tx.Descendants(ctx, folder.Path)
		if err != nil {
			return err
		}
		ids := []string{folderID}
		for _, d := range descendants {
			if d.DeletedAt != nil && d.DeletedAt.Equal(*folder.DeletedAt) {
				ids = append(ids, d.ID)
			}
		}
		if err := tx.SetDeleted(ctx, ids, nil); err != nil {
			return err
		}

		n, err := w.repath(ctx, tx, folder, newParent, childPath(parentPath, folderID))
		rebuilt = n
		return err
	})
	if err != nil {
		return err
	}

	w.metrics.RecordPathRebuilds(rebuilt)
	if deref(oldParent) != deref(newParent) {
		w.log.WithFields(logrus.Fields{
			"folder_id":  folderID,
			"old_parent": deref(oldParent),
		}).Warn("Restored folder as a root, its parent is gone")
	}
	w.record(ctx, folderID, oldParent, newParent, "restore")
	return nil
}

// VerifyPaths recomputes every folder path from the parent pointers and
// rewrites the ones that drifted. It returns how many were repaired.
func (w *Walker) VerifyPaths(ctx context.Context) (int, error) {
	folders, err := w.store.ListFolders(ctx)
	if err != nil {
		return 0, err
	}

	parents := make(map[string]*string, len(folders))
	for _, f := range folders {
		parents[f.ID] = f.ParentID
	}
	parentOf := func(id string) (*string, error) {
		parent, ok := parents[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, id)
		}
		return parent, nil
	}

	repaired, skipped := 0, 0
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}

		chain, err := w.walkUp(f.ID, parentOf)
		if err != nil {
			w.log.WithError(err).WithField("folder_id", f.ID).Error("Cannot rebuild folder path")
			skipped++
			continue
		}
		want := FormatPath(chain)
		if want == f.Path {
			continue
		}
		if err := w.store.SetPath(ctx, f.ID, want); err != nil {
			return repaired, err
		}
		w.log.WithFields(logrus.Fields{
			"folder_id": f.ID,
			"stored":    f.Path,
			"rebuilt":   want,
		}).Warn("Repaired folder path")
		repaired++
	}

	w.metrics.RecordPathRebuilds(repaired)
	w.log.Infof("Verified %d folder paths: %d repaired, %d skipped", len(folders), repaired, skipped)
	return repaired, nil
}

// repath points folder at parentID with newPath and rebases its descendants.
// It returns the number of paths written.
func (w *Walker) repath(ctx context.Context, tx *SQLFolderStore, folder *Folder, parentID *string, newPath string) (int, error) {
	descendants, err := tx.Descendants(ctx, folder.Path)
	if err != nil {
		return 0, err
	}

	if err := w.checkDepth(newPath); err != nil {
		return 0, err
	}
	rebased := make([]string, len(descendants))
	for i, d := range descendants {
		rebased[i] = rebase(d.Path, folder.Path, newPath)
		if err := w.checkDepth(rebased[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.MoveFolder(ctx, folder.ID, parentID, newPath); err != nil {
		return 0, err
	}
	for i, d := range descendants {
		if err := tx.SetPath(ctx, d.ID, rebased[i]); err != nil {
			return 0, err
		}
	}
	return 1 + len(descendants), nil
}

// walkUp follows parent pointers from id and returns the chain root first.
// A parent pointer to a missing folder ends the chain there.
func (w *Walker) walkUp(id string, parentOf func(string) (*string, error)) ([]string, error) {
	chain := []string{id}
	seen := map[string]bool{id: true}

	for current := id; ; {
		parent, err := parentOf(current)
		if err != nil {
			if current != id && errors.Is(err, ErrFolderNotFound) {
				w.log.Warnf("Folder %s has a dangling parent %s", chain[len(chain)-2], current)
				chain = chain[:len(chain)-1]
				break
			}
			return nil, err
		}
		if parent == nil {
			break
		}
		if seen[*parent] {
			return nil, fmt.Errorf("%w: %s is its own ancestor", ErrCycle, *parent)
		}
		if len(chain) >= w.maxDepth {
			return nil, fmt.Errorf("%w: more than %d levels above %s", ErrDepthExceeded, w.maxDepth, id)
		}
		seen[*parent] = true
		chain = append(chain, *parent)
		current = *parent
	}

	slices.Reverse(chain)
	return chain, nil
}

func (w *Walker) checkDepth(path string) error {
	if depth := len(ParsePath(path)); depth > w.maxDepth {
		return fmt.Errorf("%w: %d levels, limit %d", ErrDepthExceeded, depth, w.maxDepth)
	}
	return nil
}

func (w *Walker) record(ctx context.Context, folderID string, from, to *string, action string) {
	err := w.audit.Log(ctx, &audit.Event{
		Type:         audit.EventFolderMove,
		SubjectID:    observability.GetSubjectID(ctx),
		ResourceType: string(access.ResourceFolder),
		ResourceID:   folderID,
		Metadata: map[string]interface{}{
			"action":     action,
			"old_parent": deref(from),
			"new_parent": deref(to),
		},
	})
	if err != nil {
		w.log.WithError(err).Warn("Failed to record folder move")
	}
}

// nearestFirst turns a root-first id chain into folder refs, nearest first
func nearestFirst(chain []string) []access.ResourceRef {
	refs := make([]access.ResourceRef, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		refs = append(refs, access.ResourceRef{Type: access.ResourceFolder, ID: chain[i]})
	}
	return refs
}

func withoutLast(chain []string) []string {
	if len(chain) == 0 {
		return chain
	}
	return chain[:len(chain)-1]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
