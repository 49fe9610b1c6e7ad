// Package access is the access-control resolution engine of the portal.
//
// # Overview
//
// The engine decides whether a subject (a user with a system role) holds a
// permission on a resource (folder, document or project). Decisions combine
// direct rules, group membership, project-role membership, folder hierarchy
// inheritance and the ownership and admin bypasses.
//
// # Rules
//
// An AccessRule is a GRANT or DENY statement on one resource. Its target is
// one of:
//
//	USER          - one user, by id
//	GROUP         - every member of a group
//	ROLE          - every user holding a system role
//	PROJECT_ROLE  - users holding a role within one project
//
// Rules are created and removed, never edited. Rules marked Inherit also apply
// to descendants of the resource.
//
// # Evaluation
//
// Resolver.CheckPermission applies a fixed precedence:
//
//  1. ADMIN subjects are allowed ("admin override"), before the cache
//  2. a cached decision is returned as is
//  3. a matching DENY rule denies ("deny rule: <id>")
//  4. a matching GRANT rule allows ("grant rule: <id>")
//  5. otherwise "default deny"
//
// Enforcer adds the owner bypass and walks ancestors nearest first, using
// only inheritable rules, until one grants:
//
//	svc := access.NewService(store, members, access.ServiceConfig{
//		Cache:    cache,
//		Ancestry: walker,
//		Owners:   walker,
//	})
//	decision, err := svc.Enforce(ctx, subject, access.ResourceRef{Type: access.ResourceFolder, ID: id}, access.PermissionRead)
//	if errors.Is(err, access.ErrForbidden) {
//		// no level granted
//	}
//
// # Caching
//
// Decisions are cached per (subject, resource, permission) through the
// DecisionCache interface. Rule changes commit first and then invalidate every
// cached decision about the resource, so a new DENY applies to the next check.
// Every writer also advances a Generations table before invalidating. A check
// only shares an in-flight evaluation started at the same generation, and an
// evaluation that straddles a change is not cached. Share one Generations
// between the Service and the membership store.
//
// # Related Packages
//
//   - pkg/decisioncache: DecisionCache implementations
//   - pkg/membership: MembershipResolver over the membership tables
//   - pkg/hierarchy: Ancestry and OwnershipLookup over the folder tree
package access
