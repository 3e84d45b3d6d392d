package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgDuplicateColumn is the postgres SQLSTATE for an existing column.
const pgDuplicateColumn = "42701"

// migrate creates every table idempotently.
func (r *Repository) migrate(ctx context.Context) error {
	floatCol := r.dialect.floatType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			identifier TEXT NOT NULL DEFAULT '',
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS states (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			state_group TEXT NOT NULL,
			sequence ` + floatCol + ` NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			sort_order ` + floatCol + ` NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT NOT NULL,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			display_name TEXT NOT NULL,
			PRIMARY KEY (project_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			start_date TEXT,
			end_date TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS modules (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saved_views (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			filters_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			sequence_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			state_id TEXT NOT NULL DEFAULT '',
			state_group TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'none',
			label_ids_json TEXT NOT NULL DEFAULT '[]',
			assignee_ids_json TEXT NOT NULL DEFAULT '[]',
			created_by TEXT NOT NULL DEFAULT '',
			start_date TEXT,
			target_date TEXT,
			sort_order ` + floatCol + ` NOT NULL DEFAULT 0,
			cycle_id TEXT NOT NULL DEFAULT '',
			module_ids_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id ` + r.dialect.serialPrimaryKey() + `,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			issue_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS view_states (
			scope_key TEXT PRIMARY KEY,
			scope_kind TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			filters_json TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_states_project ON states(project_id, sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_labels_project ON labels(project_id, sort_order)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_project_sort ON issues(project_id, sort_order, id)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_cycle ON issues(project_id, cycle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_project_created_at ON change_events(project_id, created_at DESC, id DESC)`,
	}
	if r.dialect == SQLite {
		stmts = append([]string{`PRAGMA foreign_keys = ON`}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", r.dialect, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE projects ADD COLUMN identifier TEXT NOT NULL DEFAULT ''`); err != nil && !isDuplicateColumnErr(err) {
		return fmt.Errorf("migrate %s add projects.identifier: %w", r.dialect, err)
	}
	return nil
}

// isDuplicateColumnErr reports whether err is the driver's "column exists"
// failure for an ALTER TABLE ADD COLUMN.
func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDuplicateColumn
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
