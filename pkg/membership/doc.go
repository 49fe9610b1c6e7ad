// Package membership resolves the group memberships and project-role
// assignments the access engine matches GROUP and PROJECT_ROLE rules against.
//
// Store reads the group_members and project_members tables and also offers the
// administrative writes. Each committed write drops the cached decisions of
// the affected subject.
package membership
