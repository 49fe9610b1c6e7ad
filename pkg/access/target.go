package access

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Target is the subject-matching criterion of a rule. The set of variants is
// closed: UserTarget, GroupTarget, RoleTarget and ProjectRoleTarget.
type Target interface {
	Type() TargetType
	matches(f *facts) bool
}

// UserTarget matches one user
type UserTarget struct {
	UserID string
}

// GroupTarget matches every member of a group
type GroupTarget struct {
	GroupID string
}

// RoleTarget matches every user holding a system role
type RoleTarget struct {
	Role SystemRole
}

// ProjectRoleTarget matches users holding a role within one project
type ProjectRoleTarget struct {
	ProjectID string
	Role      string
}

func (UserTarget) Type() TargetType        { return TargetUser }
func (GroupTarget) Type() TargetType       { return TargetGroup }
func (RoleTarget) Type() TargetType        { return TargetRole }
func (ProjectRoleTarget) Type() TargetType { return TargetProjectRole }

func (t UserTarget) matches(f *facts) bool {
	return t.UserID == f.subject.ID
}

func (t GroupTarget) matches(f *facts) bool {
	_, ok := f.groups[t.GroupID]
	return ok
}

func (t RoleTarget) matches(f *facts) bool {
	return t.Role == f.subject.Role
}

func (t ProjectRoleTarget) matches(f *facts) bool {
	_, ok := f.assignments[ProjectAssignment{ProjectID: t.ProjectID, ProjectRole: t.Role}]
	return ok
}

// Target builds the rule's target variant. It fails with ErrInvalidRule when the
// stored fields do not fit the target type.
func (r *AccessRule) Target() (Target, error) {
	return buildTarget(r.TargetType, r.TargetID, r.TargetRole, r.ProjectID)
}

func buildTarget(targetType TargetType, targetID, targetRole, projectID *string) (Target, error) {
	switch targetType {
	case TargetUser:
		if isBlank(targetID) {
			return nil, fmt.Errorf("%w: USER target requires target id", ErrInvalidRule)
		}
		return UserTarget{UserID: *targetID}, nil
	case TargetGroup:
		if isBlank(targetID) {
			return nil, fmt.Errorf("%w: GROUP target requires target id", ErrInvalidRule)
		}
		return GroupTarget{GroupID: *targetID}, nil
	case TargetRole:
		if isBlank(targetRole) {
			return nil, fmt.Errorf("%w: ROLE target requires target role", ErrInvalidRule)
		}
		role := SystemRole(*targetRole)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: unknown system role %q", ErrInvalidRule, *targetRole)
		}
		return RoleTarget{Role: role}, nil
	case TargetProjectRole:
		if isBlank(targetRole) {
			return nil, fmt.Errorf("%w: PROJECT_ROLE target requires target role", ErrInvalidRule)
		}
		if isBlank(projectID) {
			return nil, fmt.Errorf("%w: PROJECT_ROLE target requires project id", ErrInvalidRule)
		}
		return ProjectRoleTarget{ProjectID: *projectID, Role: *targetRole}, nil
	default:
		return nil, fmt.Errorf("%w: unknown target type %q", ErrInvalidRule, targetType)
	}
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// facts are the subject's identity plus its resolved memberships
type facts struct {
	subject     Subject
	groups      map[string]struct{}
	assignments map[ProjectAssignment]struct{}
}

func newFacts(subject Subject, groups []string, assignments []ProjectAssignment) *facts {
	f := &facts{
		subject:     subject,
		groups:      make(map[string]struct{}, len(groups)),
		assignments: make(map[ProjectAssignment]struct{}, len(assignments)),
	}
	for _, g := range groups {
		f.groups[g] = struct{}{}
	}
	for _, a := range assignments {
		f.assignments[a] = struct{}{}
	}
	return f
}

// ruleMatchesSubject reports whether the rule's target matches. Rules whose
// target cannot be built never match.
func ruleMatchesSubject(rule *AccessRule, f *facts) bool {
	target, err := rule.Target()
	if err != nil {
		return false
	}
	return target.matches(f)
}

var validate = validator.New()

// Validate checks field-level constraints and the target shape
func (a *RuleAttributes) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if _, err := buildTarget(a.TargetType, a.TargetID, a.TargetRole, a.ProjectID); err != nil {
		return err
	}
	return nil
}
