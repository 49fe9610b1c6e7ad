package membership

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Config wires the optional collaborators of a Store
type Config struct {
	// Cache is invalidated for the affected subject after every committed change
	Cache access.DecisionCache
	// Generations is advanced for the affected subject before the cache is
	// invalidated. Share it with the access service.
	Generations *access.Generations
	Audit       audit.Logger
	Logger      *observability.Logger
}

// Store resolves and administers group memberships and project-role
// assignments. It implements access.MembershipResolver.
type Store struct {
	db     *sql.DB
	cache  access.DecisionCache
	gens   *access.Generations
	audit  audit.Logger
	logger *observability.Logger
}

// NewStore creates a membership store on db
func NewStore(db *sql.DB, cfg Config) *Store {
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOp{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Store{
		db:     db,
		cache:  cfg.Cache,
		gens:   cfg.Generations,
		audit:  cfg.Audit,
		logger: cfg.Logger,
	}
}

// GroupsOf returns the ids of every group the subject belongs to
func (s *Store) GroupsOf(ctx context.Context, subjectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, groupID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// ProjectAssignmentsOf returns every (project, project role) pair the subject holds
func (s *Store) ProjectAssignmentsOf(ctx context.Context, subjectID string) ([]access.ProjectAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, project_role FROM project_members WHERE user_id = $1 ORDER BY project_id, project_role`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query project assignments: %w", err)
	}
	defer rows.Close()

	assignments := []access.ProjectAssignment{}
	for rows.Next() {
		var a access.ProjectAssignment
		if err := rows.Scan(&a.ProjectID, &a.ProjectRole); err != nil {
			return nil, fmt.Errorf("failed to scan project assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project assignments: %w", err)
	}
	return assignments, nil
}

// AddGroupMember adds the subject to a group. Adding an existing member is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, subjectID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, subjectID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return s.changed(ctx, res, subjectID, "group_add", map[string]interface{}{"group_id": groupID})
}

// RemoveGroupMember removes the subject from a group
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, subjectID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, subjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return s.changed(ctx, res, subjectID, "group_remove", map[string]interface{}{"group_id": groupID})
}

// AssignProjectRole grants the subject a role within a project
func (s *Store) AssignProjectRole(ctx context.Context, projectID, subjectID, projectRole string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, project_role, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id, project_role) DO NOTHING
	`, projectID, subjectID, projectRole, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign project role: %w", err)
	}
	return s.changed(ctx, res, subjectID, "project_assign", map[string]interface{}{
		"project_id":   projectID,
		"project_role": projectRole,
	})
}

// RevokeProjectRole removes one role of the subject within a project
func (s *Store) RevokeProjectRole(ctx context.Context, projectID, subjectID, projectRole string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2 AND project_role = $3`,
		projectID, subjectID, projectRole,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke project role: %w", err)
	}
	return s.changed(ctx, res, subjectID, "project_revoke", map[string]interface{}{
		"project_id":   projectID,
		"project_role": projectRole,
	})
}

// changed audits and invalidates after a committed write that touched rows
func (s *Store) changed(ctx context.Context, res sql.Result, subjectID, action string, meta map[string]interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return nil
	}

	meta["action"] = action
	if err := s.audit.Log(ctx, &audit.Event{
		Type:      audit.EventMembershipChange,
		SubjectID: subjectID,
		Metadata:  meta,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to record membership change")
	}

	s.gens.Advance(access.SubjectPattern(subjectID))
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, access.SubjectPattern(subjectID)); err != nil {
		s.logger.WithError(err).WithField("subject_id", subjectID).Error("Decision cache invalidation failed after membership change")
		return fmt.Errorf("%w: %v", access.ErrInvalidationFailed, err)
	}
	return nil
}
