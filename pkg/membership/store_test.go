package membership

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/decisioncache"
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

type recordingCache struct {
	access.DecisionCache
	patterns []access.KeyPattern
	err      error
}

func (c *recordingCache) Invalidate(ctx context.Context, p access.KeyPattern) error {
	c.patterns = append(c.patterns, p)
	if c.err != nil {
		return c.err
	}
	return c.DecisionCache.Invalidate(ctx, p)
}

func TestEmptyMemberships(t *testing.T) {
	s := NewStore(setupTestDB(t), Config{})

	groups, err := s.GroupsOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)

	assignments, err := s.ProjectAssignmentsOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, assignments)
	assert.Empty(t, assignments)
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{DecisionCache: decisioncache.NewMemoryCache(10, time.Minute)}
	s := NewStore(setupTestDB(t), Config{Cache: cache})

	require.NoError(t, s.AddGroupMember(ctx, "g2", "u1"))
	require.NoError(t, s.AddGroupMember(ctx, "g1", "u1"))
	require.NoError(t, s.AddGroupMember(ctx, "g1", "u1"))
	require.NoError(t, s.AddGroupMember(ctx, "g1", "u2"))

	groups, err := s.GroupsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, groups)

	require.NoError(t, s.RemoveGroupMember(ctx, "g2", "u1"))
	require.NoError(t, s.RemoveGroupMember(ctx, "g2", "u1"))

	groups, err = s.GroupsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, groups)

	// duplicate add and repeated remove changed nothing and invalidated nothing
	assert.Equal(t, []access.KeyPattern{
		access.SubjectPattern("u1"),
		access.SubjectPattern("u1"),
		access.SubjectPattern("u2"),
		access.SubjectPattern("u1"),
	}, cache.patterns)
}

func TestMembershipChangeAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	gens := access.NewGenerations(0)
	s := NewStore(setupTestDB(t), Config{Generations: gens})
	u1 := access.Key{SubjectID: "u1", ResourceType: access.ResourceFolder, ResourceID: "f1", Permission: "read"}
	u2 := access.Key{SubjectID: "u2", ResourceType: access.ResourceFolder, ResourceID: "f1", Permission: "read"}

	require.NoError(t, s.AddGroupMember(ctx, "g1", "u1"))
	added := gens.Current(u1)
	assert.NotZero(t, added)
	assert.Zero(t, gens.Current(u2))

	require.NoError(t, s.AddGroupMember(ctx, "g1", "u1"))
	assert.Equal(t, added, gens.Current(u1), "a no-op change leaves the generation alone")

	require.NoError(t, s.AssignProjectRole(ctx, "p1", "u1", "editor"))
	assert.Greater(t, gens.Current(u1), added)
}

func TestProjectAssignments(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t), Config{})

	require.NoError(t, s.AssignProjectRole(ctx, "p1", "u1", "editor"))
	require.NoError(t, s.AssignProjectRole(ctx, "p1", "u1", "reviewer"))
	require.NoError(t, s.AssignProjectRole(ctx, "p2", "u1", "viewer"))

	assignments, err := s.ProjectAssignmentsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []access.ProjectAssignment{
		{ProjectID: "p1", ProjectRole: "editor"},
		{ProjectID: "p1", ProjectRole: "reviewer"},
		{ProjectID: "p2", ProjectRole: "viewer"},
	}, assignments)

	require.NoError(t, s.RevokeProjectRole(ctx, "p1", "u1", "reviewer"))
	assignments, err = s.ProjectAssignmentsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, assignments, 2)
}

func TestMembershipChangeTakesEffectImmediately(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	cache := decisioncache.NewMemoryCache(100, time.Minute)
	members := NewStore(db, Config{Cache: cache})
	svc := access.NewService(access.NewSQLRuleStore(db), members, access.ServiceConfig{Cache: cache})

	_, err := svc.CreateRule(ctx, access.RuleAttributes{
		ResourceType: access.ResourceProject,
		ResourceID:   "p1",
		RuleType:     access.RuleGrant,
		TargetType:   access.TargetProjectRole,
		TargetRole:   strPtr("editor"),
		ProjectID:    strPtr("p1"),
		Permissions:  []string{"write"},
	}, "admin")
	require.NoError(t, err)

	u := access.Subject{ID: "u1", Role: access.RoleUser}
	d, err := svc.CheckPermission(ctx, u, access.ResourceProject, "p1", "write")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, members.AssignProjectRole(ctx, "p1", "u1", "editor"))
	d, err = svc.CheckPermission(ctx, u, access.ResourceProject, "p1", "write")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, members.RevokeProjectRole(ctx, "p1", "u1", "editor"))
	d, err = svc.CheckPermission(ctx, u, access.ResourceProject, "p1", "write")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestInvalidationFailureAfterCommit(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{DecisionCache: decisioncache.Noop{}, err: errors.New("redis down")}
	s := NewStore(setupTestDB(t), Config{Cache: cache})

	err := s.AddGroupMember(ctx, "g1", "u1")
	assert.ErrorIs(t, err, access.ErrInvalidationFailed)

	groups, err := s.GroupsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, groups, "the membership is committed regardless")
}

func TestQueryFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	boom := errors.New("too many connections")

	mock.ExpectQuery("SELECT group_id FROM group_members").WithArgs("u1").WillReturnError(boom)
	mock.ExpectQuery("SELECT project_id, project_role FROM project_members").WithArgs("u1").WillReturnError(boom)
	mock.ExpectExec("INSERT INTO group_members").WillReturnError(boom)

	cache := &recordingCache{DecisionCache: decisioncache.Noop{}}
	s := NewStore(db, Config{Cache: cache})

	_, err = s.GroupsOf(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	_, err = s.ProjectAssignmentsOf(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	err = s.AddGroupMember(context.Background(), "g1", "u1")
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, cache.patterns, "failed writes must not invalidate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }

var _ access.MembershipResolver = (*Store)(nil)
