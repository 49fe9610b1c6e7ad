package access

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema of the engine. The DDL sticks to types
// both PostgreSQL and SQLite accept so the same migrations back the tests.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create access_rules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_rules (
					id VARCHAR(36) PRIMARY KEY,
					resource_type VARCHAR(32) NOT NULL,
					resource_id VARCHAR(255) NOT NULL,
					rule_type VARCHAR(16) NOT NULL,
					target_type VARCHAR(32) NOT NULL,
					target_id VARCHAR(255),
					target_role VARCHAR(64),
					project_id VARCHAR(255),
					permissions TEXT NOT NULL DEFAULT '[]',
					inherit BOOLEAN NOT NULL DEFAULT FALSE,
					created_by_id VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_access_rules_resource ON access_rules(resource_type, resource_id);
				CREATE INDEX IF NOT EXISTS idx_access_rules_target_id ON access_rules(target_type, target_id);
				CREATE INDEX IF NOT EXISTS idx_access_rules_target_role ON access_rules(target_type, target_role);
			`,
		},
		{
			Version:     2,
			Description: "Create membership tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_members (
					group_id VARCHAR(255) NOT NULL,
					user_id VARCHAR(255) NOT NULL,
					added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (group_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

				CREATE TABLE IF NOT EXISTS project_members (
					project_id VARCHAR(255) NOT NULL,
					user_id VARCHAR(255) NOT NULL,
					project_role VARCHAR(64) NOT NULL,
					assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (project_id, user_id, project_role)
				);

				CREATE INDEX IF NOT EXISTS idx_project_members_user ON project_members(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create folders and documents tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS folders (
					id VARCHAR(36) PRIMARY KEY,
					parent_id VARCHAR(36),
					owner_id VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					path TEXT NOT NULL,
					deleted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);
				CREATE INDEX IF NOT EXISTS idx_folders_path ON folders(path);

				CREATE TABLE IF NOT EXISTS documents (
					id VARCHAR(36) PRIMARY KEY,
					folder_id VARCHAR(36),
					owner_id VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder_id);
			`,
		},
		{
			Version:     4,
			Description: "Create access_audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_audit_log (
					id VARCHAR(36) PRIMARY KEY,
					event_type VARCHAR(64) NOT NULL,
					subject_id VARCHAR(255),
					resource_type VARCHAR(32),
					resource_id VARCHAR(255),
					permission VARCHAR(64),
					rule_id VARCHAR(36),
					reason TEXT,
					metadata TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_access_audit_log_subject ON access_audit_log(subject_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_access_audit_log_resource ON access_audit_log(resource_type, resource_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// gatehouse_migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatehouse_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM gatehouse_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO gatehouse_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
