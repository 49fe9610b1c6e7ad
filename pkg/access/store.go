package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ruleColumns = `id, resource_type, resource_id, rule_type, target_type, target_id, target_role, project_id, permissions, inherit, created_by_id, created_at`

// SQLRuleStore persists access rules in the access_rules table
type SQLRuleStore struct {
	db *sql.DB
}

// NewSQLRuleStore creates a rule store on db
func NewSQLRuleStore(db *sql.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db}
}

// CreateRule inserts the rule, assigning an ID and CreatedAt when unset
func (s *SQLRuleStore) CreateRule(ctx context.Context, rule *AccessRule) error {
	permissionsJSON, err := json.Marshal(rule.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO access_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		rule.ID,
		string(rule.ResourceType),
		rule.ResourceID,
		string(rule.RuleType),
		string(rule.TargetType),
		nullString(rule.TargetID),
		nullString(rule.TargetRole),
		nullString(rule.ProjectID),
		string(permissionsJSON),
		rule.Inherit,
		rule.CreatedByID,
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

// GetRule retrieves a rule by ID
func (s *SQLRuleStore) GetRule(ctx context.Context, id string) (*AccessRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM access_rules WHERE id = $1`

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule and returns the deleted row
func (s *SQLRuleStore) DeleteRule(ctx context.Context, id string) (*AccessRule, error) {
	query := `DELETE FROM access_rules WHERE id = $1 RETURNING ` + ruleColumns

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete rule: %w", err)
	}
	return rule, nil
}

// FindRulesForResource returns every rule on one resource, oldest first
func (s *SQLRuleStore) FindRulesForResource(ctx context.Context, resourceType ResourceType, resourceID string) ([]AccessRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM access_rules
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, string(resourceType), resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	return collectRules(rows)
}

// ListRules is the administrative listing of a resource's rules
func (s *SQLRuleStore) ListRules(ctx context.Context, resourceType ResourceType, resourceID string) ([]AccessRule, error) {
	return s.FindRulesForResource(ctx, resourceType, resourceID)
}

// FindRulesForTargets loads the rules over a set of resources whose target
// could match the subject. Resource ids are queried in chunks of
// MaxQueryParams so large batches stay under driver parameter limits. Exact
// target matching still happens in memory; the query only narrows the
// candidates.
func (s *SQLRuleStore) FindRulesForTargets(ctx context.Context, q RuleQuery) ([]AccessRule, error) {
	if len(q.ResourceIDs) == 0 || (len(q.SubjectIDs) == 0 && len(q.Roles) == 0) {
		return nil, nil
	}

	var rules []AccessRule
	for _, ids := range Chunk(q.ResourceIDs, MaxQueryParams) {
		chunk, err := s.findRulesForTargets(ctx, q, ids)
		if err != nil {
			return nil, err
		}
		rules = append(rules, chunk...)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (s *SQLRuleStore) findRulesForTargets(ctx context.Context, q RuleQuery, resourceIDs []string) ([]AccessRule, error) {
	args := []interface{}{string(q.ResourceType)}
	var b strings.Builder
	b.WriteString(`SELECT ` + ruleColumns + ` FROM access_rules WHERE resource_type = $1 AND resource_id IN (`)
	args = appendPlaceholders(&b, args, resourceIDs)
	b.WriteString(`) AND (`)

	var clauses []string
	if len(q.SubjectIDs) > 0 {
		var c strings.Builder
		c.WriteString(`(target_type IN ('USER', 'GROUP') AND target_id IN (`)
		args = appendPlaceholders(&c, args, q.SubjectIDs)
		c.WriteString(`))`)
		clauses = append(clauses, c.String())
	}
	if len(q.Roles) > 0 {
		var c strings.Builder
		c.WriteString(`(target_type IN ('ROLE', 'PROJECT_ROLE') AND target_role IN (`)
		args = appendPlaceholders(&c, args, q.Roles)
		c.WriteString(`))`)
		clauses = append(clauses, c.String())
	}
	b.WriteString(strings.Join(clauses, " OR "))
	b.WriteString(`) ORDER BY created_at, id`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for targets: %w", err)
	}
	return collectRules(rows)
}

// MaxQueryParams bounds the ids bound into one IN list. SQLite allows 32766
// parameters per statement and Postgres 65535.
const MaxQueryParams = 500

// Chunk splits ids into consecutive slices of at most size elements
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxQueryParams
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		chunks = append(chunks, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// appendPlaceholders writes "$n, $n+1, ..." for values, numbering after the
// args already collected.
func appendPlaceholders(b *strings.Builder, args []interface{}, values []string) []interface{} {
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		args = append(args, v)
		b.WriteString("$" + strconv.Itoa(len(args)))
	}
	return args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*AccessRule, error) {
	var (
		rule                            AccessRule
		resourceType, ruleType, tgtType string
		targetID, targetRole, projectID sql.NullString
		permissionsJSON                 string
	)

	err := row.Scan(
		&rule.ID,
		&resourceType,
		&rule.ResourceID,
		&ruleType,
		&tgtType,
		&targetID,
		&targetRole,
		&projectID,
		&permissionsJSON,
		&rule.Inherit,
		&rule.CreatedByID,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &rule.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions of rule %s: %w", rule.ID, err)
	}

	rule.ResourceType = ResourceType(resourceType)
	rule.RuleType = RuleType(ruleType)
	rule.TargetType = TargetType(tgtType)
	rule.TargetID = stringPtr(targetID)
	rule.TargetRole = stringPtr(targetRole)
	rule.ProjectID = stringPtr(projectID)

	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]AccessRule, error) {
	defer rows.Close()

	var rules []AccessRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
