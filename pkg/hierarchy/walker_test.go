package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, access.RunMigrations(context.Background(), db))
	return db
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func strPtr(s string) *string { return &s }

// newTestTree creates root -> mid -> leaf with doc inside leaf
func newTestTree(t *testing.T, db *sql.DB, cfg WalkerConfig) *Walker {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	w := NewWalker(NewSQLFolderStore(db), cfg)
	ctx := context.Background()

	require.NoError(t, w.CreateFolder(ctx, &Folder{ID: "root", OwnerID: "owner-root"}))
	require.NoError(t, w.CreateFolder(ctx, &Folder{ID: "mid", ParentID: strPtr("root"), OwnerID: "owner-mid"}))
	require.NoError(t, w.CreateFolder(ctx, &Folder{ID: "leaf", ParentID: strPtr("mid"), OwnerID: "owner-leaf"}))
	require.NoError(t, w.CreateDocument(ctx, &Document{ID: "doc", FolderID: strPtr("leaf"), OwnerID: "owner-doc"}))
	return w
}

func pathOf(t *testing.T, db *sql.DB, id string) string {
	t.Helper()
	var path string
	require.NoError(t, db.QueryRow(`SELECT path FROM folders WHERE id = $1`, id).Scan(&path))
	return path
}

func folderRefs(ids ...string) []access.ResourceRef {
	refs := make([]access.ResourceRef, len(ids))
	for i, id := range ids {
		refs[i] = access.ResourceRef{Type: access.ResourceFolder, ID: id}
	}
	return refs
}

func TestCreateFolderPaths(t *testing.T) {
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	assert.Equal(t, "root", pathOf(t, db, "root"))
	assert.Equal(t, "root/mid/leaf", pathOf(t, db, "leaf"))

	chain, err := w.AncestorChain(context.Background(), "leaf")
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "mid", "leaf"}, chain)

	generated := &Folder{ParentID: strPtr("leaf"), OwnerID: "u1"}
	require.NoError(t, w.CreateFolder(context.Background(), generated))
	assert.NotEmpty(t, generated.ID)
	assert.Equal(t, "root/mid/leaf/"+generated.ID, generated.Path)
}

func TestCreateFolderRejects(t *testing.T) {
	ctx := context.Background()
	w := newTestTree(t, setupTestDB(t), WalkerConfig{MaxDepth: 3})

	err := w.CreateFolder(ctx, &Folder{ID: "x", ParentID: strPtr("ghost"), OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrFolderNotFound)
	assert.ErrorIs(t, err, access.ErrNotFound)

	err = w.CreateFolder(ctx, &Folder{ID: "deep", ParentID: strPtr("leaf"), OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrDepthExceeded)

	err = w.CreateFolder(ctx, &Folder{ID: "a/b", OwnerID: "u1"})
	assert.Error(t, err)

	err = w.CreateDocument(ctx, &Document{ID: "d2", FolderID: strPtr("ghost"), OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestAncestors(t *testing.T) {
	ctx := context.Background()
	w := newTestTree(t, setupTestDB(t), WalkerConfig{})

	tests := []struct {
		name string
		ref  access.ResourceRef
		want []access.ResourceRef
	}{
		{"root has none", access.ResourceRef{Type: access.ResourceFolder, ID: "root"}, folderRefs()},
		{"leaf nearest first", access.ResourceRef{Type: access.ResourceFolder, ID: "leaf"}, folderRefs("mid", "root")},
		{"document starts at its folder", access.ResourceRef{Type: access.ResourceDocument, ID: "doc"}, folderRefs("leaf", "mid", "root")},
		{"projects are flat", access.ResourceRef{Type: access.ResourceProject, ID: "p1"}, []access.ResourceRef{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.Ancestors(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := w.Ancestors(ctx, access.ResourceRef{Type: access.ResourceFolder, ID: "ghost"})
	assert.ErrorIs(t, err, access.ErrNotFound)
	_, err = w.Ancestors(ctx, access.ResourceRef{Type: access.ResourceDocument, ID: "ghost"})
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func TestAncestorsOfMatchesAncestors(t *testing.T) {
	ctx := context.Background()
	w := newTestTree(t, setupTestDB(t), WalkerConfig{})
	require.NoError(t, w.CreateDocument(ctx, &Document{ID: "loose", OwnerID: "u1"}))

	for resourceType, ids := range map[access.ResourceType][]string{
		access.ResourceFolder:   {"root", "mid", "leaf", "ghost"},
		access.ResourceDocument: {"doc", "loose", "ghost"},
	} {
		batch, err := w.AncestorsOf(ctx, resourceType, ids)
		require.NoError(t, err)
		assert.NotContains(t, batch, "ghost")

		for _, id := range ids {
			if id == "ghost" {
				continue
			}
			single, err := w.Ancestors(ctx, access.ResourceRef{Type: resourceType, ID: id})
			require.NoError(t, err)
			assert.Equal(t, single, batch[id], "%s %s", resourceType, id)
		}
	}
}

func TestOwnersOf(t *testing.T) {
	ctx := context.Background()
	w := newTestTree(t, setupTestDB(t), WalkerConfig{})

	owners, err := w.OwnersOf(ctx, access.ResourceFolder, []string{"root", "leaf", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"root": "owner-root", "leaf": "owner-leaf"}, owners)

	owners, err = w.OwnersOf(ctx, access.ResourceDocument, []string{"doc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"doc": "owner-doc"}, owners)

	owners, err = w.OwnersOf(ctx, access.ResourceProject, []string{"p1"})
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestBatchLookupsSpanChunks(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})
	store := NewSQLFolderStore(db)

	ids := make([]string, 0, 2*access.MaxQueryParams+2)
	ids = append(ids, "root")
	for i := 0; i < 2*access.MaxQueryParams; i++ {
		ids = append(ids, fmt.Sprintf("missing-%d", i))
	}
	ids = append(ids, "leaf")

	owners, err := w.OwnersOf(ctx, access.ResourceFolder, ids)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"root": "owner-root", "leaf": "owner-leaf"}, owners)

	paths, err := store.PathsOf(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"root": "root", "leaf": "root/mid/leaf"}, paths)

	now := time.Now().UTC()
	require.NoError(t, store.SetDeleted(ctx, ids, &now))
	owners, err = w.OwnersOf(ctx, access.ResourceFolder, []string{"root", "mid", "leaf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mid": "owner-mid"}, owners)
}

func TestMoveRebasesSubtree(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	w := newTestTree(t, db, WalkerConfig{Metrics: metrics})
	require.NoError(t, w.CreateFolder(ctx, &Folder{ID: "other", OwnerID: "u1"}))
	before := testutil.ToFloat64(metrics.PathRebuildsTotal)

	require.NoError(t, w.Move(ctx, "mid", strPtr("other")))

	assert.Equal(t, "other/mid", pathOf(t, db, "mid"))
	assert.Equal(t, "other/mid/leaf", pathOf(t, db, "leaf"))
	assert.Equal(t, "root", pathOf(t, db, "root"))
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.PathRebuildsTotal))

	got, err := w.Ancestors(ctx, access.ResourceRef{Type: access.ResourceDocument, ID: "doc"})
	require.NoError(t, err)
	assert.Equal(t, folderRefs("leaf", "mid", "other"), got)

	require.NoError(t, w.Move(ctx, "leaf", nil))
	assert.Equal(t, "leaf", pathOf(t, db, "leaf"))

	f, err := NewSQLFolderStore(db).GetFolder(ctx, "leaf")
	require.NoError(t, err)
	assert.True(t, f.IsRoot())
}

func TestMoveRejectsCycleWithoutChanges(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	err := w.Move(ctx, "root", strPtr("leaf"))
	assert.ErrorIs(t, err, ErrCycle)
	err = w.Move(ctx, "mid", strPtr("mid"))
	assert.ErrorIs(t, err, ErrCycle)

	assert.Equal(t, "root", pathOf(t, db, "root"))
	assert.Equal(t, "root/mid", pathOf(t, db, "mid"))
	assert.Equal(t, "root/mid/leaf", pathOf(t, db, "leaf"))

	f, err := NewSQLFolderStore(db).GetFolder(ctx, "root")
	require.NoError(t, err)
	assert.Nil(t, f.ParentID)
}

func TestMoveCycleCheckHappensBeforeWrites(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	columns := []string{"id", "parent_id", "owner_id", "name", "path", "deleted_at", "created_at"}
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM folders WHERE id = \\$1").
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("root", nil, "o", "", "root", nil, time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM folders WHERE id = \\$1").
		WithArgs("leaf").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("leaf", "mid", "o", "", "root/mid/leaf", nil, time.Now()))
	mock.ExpectRollback()

	w := NewWalker(NewSQLFolderStore(db), WalkerConfig{Logger: quietLogger()})
	err = w.Move(context.Background(), "root", strPtr("leaf"))
	assert.ErrorIs(t, err, ErrCycle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveDepthExceeded(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{MaxDepth: 3})
	require.NoError(t, w.CreateFolder(ctx, &Folder{ID: "x", OwnerID: "u1"}))
	require.NoError(t, w.CreateFolder(ctx, &Folder{ID: "y", ParentID: strPtr("x"), OwnerID: "u1"}))

	err := w.Move(ctx, "mid", strPtr("y"))
	assert.ErrorIs(t, err, ErrDepthExceeded)
	assert.Equal(t, "root/mid", pathOf(t, db, "mid"))
	assert.Equal(t, "root/mid/leaf", pathOf(t, db, "leaf"))
}

func TestDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	require.NoError(t, w.Delete(ctx, "mid"))
	owners, err := w.OwnersOf(ctx, access.ResourceFolder, []string{"root", "mid", "leaf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"root": "owner-root"}, owners)

	err = w.Move(ctx, "leaf", strPtr("root"))
	assert.ErrorIs(t, err, ErrFolderNotFound)

	require.NoError(t, w.Restore(ctx, "mid"))
	owners, err = w.OwnersOf(ctx, access.ResourceFolder, []string{"root", "mid", "leaf"})
	require.NoError(t, err)
	assert.Len(t, owners, 3)
	assert.Equal(t, "root/mid/leaf", pathOf(t, db, "leaf"))
}

func TestRestoreUnderDeletedParentBecomesRoot(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	require.NoError(t, w.Delete(ctx, "root"))
	require.NoError(t, w.Restore(ctx, "mid"))

	assert.Equal(t, "mid", pathOf(t, db, "mid"))
	assert.Equal(t, "mid/leaf", pathOf(t, db, "leaf"))

	f, err := NewSQLFolderStore(db).GetFolder(ctx, "mid")
	require.NoError(t, err)
	assert.True(t, f.IsRoot())
	assert.False(t, f.IsDeleted())

	owners, err := w.OwnersOf(ctx, access.ResourceFolder, []string{"root", "mid", "leaf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mid": "owner-mid", "leaf": "owner-leaf"}, owners)
}

func TestRestoreKeepsSeparatelyDeletedDescendants(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	require.NoError(t, w.Delete(ctx, "leaf"))
	require.NoError(t, w.Delete(ctx, "mid"))
	require.NoError(t, w.Restore(ctx, "mid"))

	owners, err := w.OwnersOf(ctx, access.ResourceFolder, []string{"root", "mid", "leaf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"root": "owner-root", "mid": "owner-mid"}, owners)

	require.NoError(t, w.Restore(ctx, "leaf"))
	owners, err = w.OwnersOf(ctx, access.ResourceFolder, []string{"leaf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"leaf": "owner-leaf"}, owners)
}

func TestRestoreLiveFolder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	err := w.Restore(ctx, "mid")
	assert.ErrorIs(t, err, ErrNotDeleted)
	assert.Equal(t, "root/mid", pathOf(t, db, "mid"))

	err = w.Restore(ctx, "ghost")
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestBuildPathRepairsOneFolder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	_, err := db.Exec(`UPDATE folders SET path = 'stale' WHERE id = 'leaf'`)
	require.NoError(t, err)

	path, err := w.BuildPath(ctx, "leaf")
	require.NoError(t, err)
	assert.Equal(t, "root/mid/leaf", path)
	assert.Equal(t, path, pathOf(t, db, "leaf"))

	_, err = w.BuildPath(ctx, "ghost")
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestVerifyPaths(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	_, err := db.Exec(`UPDATE folders SET path = 'wrong' WHERE id IN ('mid', 'leaf')`)
	require.NoError(t, err)

	repaired, err := w.VerifyPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.Equal(t, "root/mid", pathOf(t, db, "mid"))
	assert.Equal(t, "root/mid/leaf", pathOf(t, db, "leaf"))

	repaired, err = w.VerifyPaths(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestVerifyPathsSkipsCycles(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	logger, hook := test.NewNullLogger()
	w := newTestTree(t, db, WalkerConfig{Logger: logger})

	_, err := db.Exec(`UPDATE folders SET parent_id = 'leaf' WHERE id = 'root'`)
	require.NoError(t, err)

	repaired, err := w.VerifyPaths(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
	assert.Equal(t, "root/mid/leaf", pathOf(t, db, "leaf"))

	var cycleErrors int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			cycleErrors++
		}
	}
	assert.Equal(t, 3, cycleErrors)
}

func TestVerifyPathsDanglingParent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	w := newTestTree(t, db, WalkerConfig{})

	_, err := db.Exec(`DELETE FROM folders WHERE id = 'root'`)
	require.NoError(t, err)

	repaired, err := w.VerifyPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.Equal(t, "mid", pathOf(t, db, "mid"))
	assert.Equal(t, "mid/leaf", pathOf(t, db, "leaf"))
}
