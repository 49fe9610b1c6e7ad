package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/hierarchy"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

type harness struct {
	t      *testing.T
	open   Opener
	opened int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	h := &harness{t: t}
	h.open = func(ctx context.Context) (*bootstrap.App, error) {
		h.opened++
		return bootstrap.Build(ctx, db, config.Default(), observability.NewNopLogger())
	}
	return h
}

func (h *harness) run(args ...string) (string, error) {
	var out bytes.Buffer
	err := NewRootCommand(h.open, &out).Execute(context.Background(), args)
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "gatehouse %s\n%s", strings.Join(args, " "), out)
	return out
}

func TestUsage(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun()
	assert.Contains(t, out, "Usage: gatehouse <command> [args]")
	for _, name := range []string{"migrate", "check", "accessible", "rule", "group", "project", "folder", "document", "audit"} {
		assert.Contains(t, out, "  "+name)
	}

	out = h.mustRun("rule", "help")
	assert.Contains(t, out, "Usage: rule <command> [args]")
	assert.Contains(t, out, "create")
	assert.Zero(t, h.opened, "usage never opens the database")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("bogus")
	assert.EqualError(t, err, "unknown command: bogus")

	_, err = h.run("rule", "bogus")
	assert.EqualError(t, err, "unknown command: rule bogus")
}

func TestMissingFlags(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("check", "-subject", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required flags -type, -id")

	_, err = h.run("check", "-subject", "u1", "-type", "folder", "-id", "f1", "-role", "owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown role "owner"`)

	_, err = h.run("accessible", "-subject", "u1", "-type", "drive", "-ids", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown resource type "drive"`)
	assert.Zero(t, h.opened)
}

func TestOpenerFailure(t *testing.T) {
	boom := errors.New("database unreachable")
	cmd := NewRootCommand(func(context.Context) (*bootstrap.App, error) { return nil, boom }, &bytes.Buffer{})

	err := cmd.Execute(context.Background(), []string{"migrate"})
	assert.ErrorIs(t, err, boom)
}

func TestMigrate(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("migrate")
	assert.Contains(t, out, "Schema is at version")
}

func TestAdministrationRoundTrip(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "Created folder root at root\n", h.mustRun("folder", "create", "-id", "root", "-owner", "o1", "-name", "Root"))
	assert.Equal(t, "Created folder leaf at root/leaf\n", h.mustRun("folder", "create", "-id", "leaf", "-parent", "root", "-owner", "o2", "-name", "Leaf"))
	assert.Equal(t, "Created document doc in folder leaf\n", h.mustRun("document", "create", "-id", "doc", "-folder", "leaf", "-owner", "o3", "-name", "Doc"))
	assert.Equal(t, "Added u1 to group g1\n", h.mustRun("group", "add", "-group", "g1", "-subject", "u1"))

	out := h.mustRun("rule", "create", "-type", "folder", "-id", "root", "-target-type", "group", "-target-id", "g1", "-permissions", "read,write", "-inherit", "-actor", "admin-1")
	require.True(t, strings.HasPrefix(out, "Created rule "))
	ruleID := strings.TrimSpace(strings.TrimPrefix(out, "Created rule "))

	out = h.mustRun("check", "-subject", "u1", "-type", "document", "-id", "doc")
	assert.Equal(t, "ALLOW\tinherited from FOLDER root: grant rule: "+ruleID+"\n", out)

	out = h.mustRun("check", "-subject", "u1", "-type", "folder", "-id", "leaf", "-direct")
	assert.Equal(t, "DENY\t"+access.ReasonDefaultDeny+"\n", out)

	out = h.mustRun("check", "-subject", "o2", "-role", "viewer", "-type", "folder", "-id", "leaf", "-permission", "delete")
	assert.Equal(t, "ALLOW\t"+access.ReasonOwner+"\n", out)

	out = h.mustRun("accessible", "-subject", "u1", "-type", "folder", "-ids", "root,leaf,ghost")
	assert.Equal(t, "root\nleaf\n", out)

	out = h.mustRun("rule", "list", "-type", "folder", "-id", "root", "-json")
	var rules []access.AccessRule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, []string{"read", "write"}, rules[0].Permissions)
	assert.True(t, rules[0].Inherit)

	out = h.mustRun("rule", "list", "-type", "folder", "-id", "root")
	assert.Contains(t, out, "GROUP:g1")
	assert.Contains(t, out, "read,write")

	assert.Equal(t, "root\n", h.mustRun("folder", "ancestors", "-id", "leaf"))
	assert.Equal(t, "leaf -> root\n", h.mustRun("folder", "ancestors", "-type", "document", "-id", "doc"))

	assert.Equal(t, "Moved folder leaf under root\n", h.mustRun("folder", "move", "-id", "leaf", "-actor", "admin-1"))
	out = h.mustRun("check", "-subject", "u1", "-type", "document", "-id", "doc")
	assert.Equal(t, "DENY\t"+access.ReasonDefaultDeny+"\n", out)

	assert.Equal(t, "Removed u1 from group g1\n", h.mustRun("group", "remove", "-group", "g1", "-subject", "u1"))
	assert.Equal(t, "Removed rule "+ruleID+"\n", h.mustRun("rule", "remove", "-id", ruleID, "-actor", "admin-1"))

	out = h.mustRun("audit", "-subject", "admin-1")
	assert.Contains(t, out, "authz.rule_create")
	assert.Contains(t, out, "authz.rule_delete")
	assert.Contains(t, out, "authz.folder_move")

	_, err := h.run("rule", "remove", "-id", ruleID, "-actor", "admin-1")
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func TestProjectRoles(t *testing.T) {
	h := newHarness(t)

	h.mustRun("folder", "create", "-id", "f1", "-owner", "o1", "-name", "Shared")
	assert.Equal(t, "Assigned u1 role editor in project p1\n", h.mustRun("project", "assign", "-project", "p1", "-subject", "u1", "-role", "editor"))
	h.mustRun("rule", "create", "-type", "folder", "-id", "f1", "-target-type", "project_role", "-target-role", "editor", "-project", "p1", "-permissions", "read", "-actor", "admin-1")

	assert.True(t, strings.HasPrefix(h.mustRun("check", "-subject", "u1", "-type", "folder", "-id", "f1"), "ALLOW\tgrant rule: "))

	assert.Equal(t, "Revoked u1 role editor in project p1\n", h.mustRun("project", "revoke", "-project", "p1", "-subject", "u1", "-role", "editor"))
	assert.Equal(t, "DENY\t"+access.ReasonDefaultDeny+"\n", h.mustRun("check", "-subject", "u1", "-type", "folder", "-id", "f1"))
}

func TestFolderLifecycle(t *testing.T) {
	h := newHarness(t)

	h.mustRun("folder", "create", "-id", "a", "-owner", "o1", "-name", "A")
	h.mustRun("folder", "create", "-id", "b", "-parent", "a", "-owner", "o1", "-name", "B")

	_, err := h.run("folder", "move", "-id", "a", "-parent", "b")
	assert.ErrorIs(t, err, hierarchy.ErrCycle)

	assert.Equal(t, "Deleted folder a\n", h.mustRun("folder", "delete", "-id", "a"))
	_, err = h.run("check", "-subject", "o1", "-type", "folder", "-id", "b")
	assert.ErrorIs(t, err, access.ErrNotFound)

	assert.Equal(t, "Restored folder a\n", h.mustRun("folder", "restore", "-id", "a"))
	assert.Equal(t, "ALLOW\t"+access.ReasonOwner+"\n", h.mustRun("check", "-subject", "o1", "-type", "folder", "-id", "b"))

	assert.Equal(t, "Repaired 0 folder paths\n", h.mustRun("folder", "verify"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
	assert.Nil(t, optional(""))
	assert.Equal(t, "x", *optional("x"))
}
