package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

// Repository implements app.Repository and app.ViewStateStore.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// New migrates db and wraps it. The caller keeps ownership of driver
// registration and connection tuning; Close closes db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Repository, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	repo := &Repository{db: db, dialect: dialect}
	if err := repo.migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Dialect returns the SQL flavor in use.
func (r *Repository) Dialect() Dialect {
	return r.dialect
}

func (r *Repository) q(query string) string {
	return r.dialect.rebind(query)
}

// CreateProject creates project.
func (r *Repository) CreateProject(ctx context.Context, p domain.Project) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO projects(id, identifier, slug, name, description, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.Identifier, p.Slug, p.Name, p.Description, ts(p.CreatedAt), ts(p.UpdatedAt), nullableTS(p.ArchivedAt))
	return err
}

// UpdateProject updates state for the requested operation.
func (r *Repository) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE projects
		SET identifier = ?, slug = ?, name = ?, description = ?, updated_at = ?, archived_at = ?
		WHERE id = ?
	`), p.Identifier, p.Slug, p.Name, p.Description, ts(p.UpdatedAt), nullableTS(p.ArchivedAt), p.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetProject returns project.
func (r *Repository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, identifier, slug, name, description, created_at, updated_at, archived_at
		FROM projects
		WHERE id = ?
	`), id)
	return scanProject(row)
}

// ListProjects lists projects.
func (r *Repository) ListProjects(ctx context.Context, includeArchived bool) ([]domain.Project, error) {
	query := `
		SELECT id, identifier, slug, name, description, created_at, updated_at, archived_at
		FROM projects
	`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertState creates or replaces a workflow state.
func (r *Repository) UpsertState(ctx context.Context, s domain.State) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO states(id, project_id, name, state_group, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, state_group = excluded.state_group, sequence = excluded.sequence
	`), s.ID, s.ProjectID, s.Name, string(s.Group), s.Sequence, ts(s.CreatedAt))
	return err
}

// ListStates lists the states of a project.
func (r *Repository) ListStates(ctx context.Context, projectID string) ([]domain.State, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, name, state_group, sequence, created_at
		FROM states
		WHERE project_id = ?
		ORDER BY sequence ASC, id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.State{}
	for rows.Next() {
		var (
			s          domain.State
			group      string
			createdRaw string
		)
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &group, &s.Sequence, &createdRaw); err != nil {
			return nil, err
		}
		s.Group = domain.NormalizeStateGroup(domain.StateGroup(group))
		s.CreatedAt = parseTS(createdRaw)
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertLabel creates or replaces a label.
func (r *Repository) UpsertLabel(ctx context.Context, l domain.Label) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO labels(id, project_id, name, sort_order)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, sort_order = excluded.sort_order
	`), l.ID, l.ProjectID, l.Name, l.SortOrder)
	return err
}

// ListLabels lists the labels of a project.
func (r *Repository) ListLabels(ctx context.Context, projectID string) ([]domain.Label, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, name, sort_order
		FROM labels
		WHERE project_id = ?
		ORDER BY sort_order ASC, id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Label{}
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertMember creates or renames a project member.
func (r *Repository) UpsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO members(id, project_id, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET display_name = excluded.display_name
	`), m.ID, m.ProjectID, m.DisplayName)
	return err
}

// ListMembers lists the members of a project.
func (r *Repository) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, display_name
		FROM members
		WHERE project_id = ?
		ORDER BY id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Member{}
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertCycle creates or replaces a cycle.
func (r *Repository) UpsertCycle(ctx context.Context, c domain.Cycle) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO cycles(id, project_id, name, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, start_date = excluded.start_date, end_date = excluded.end_date
	`), c.ID, c.ProjectID, c.Name, nullableDate(c.StartDate), nullableDate(c.EndDate))
	return err
}

// GetCycle returns cycle.
func (r *Repository) GetCycle(ctx context.Context, id string) (domain.Cycle, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, project_id, name, start_date, end_date
		FROM cycles
		WHERE id = ?
	`), id)
	return scanCycle(row)
}

// ListCycles lists the cycles of a project.
func (r *Repository) ListCycles(ctx context.Context, projectID string) ([]domain.Cycle, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, name, start_date, end_date
		FROM cycles
		WHERE project_id = ?
		ORDER BY id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Cycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertModule creates or replaces a module.
func (r *Repository) UpsertModule(ctx context.Context, m domain.Module) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO modules(id, project_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`), m.ID, m.ProjectID, m.Name)
	return err
}

// GetModule returns module.
func (r *Repository) GetModule(ctx context.Context, id string) (domain.Module, error) {
	var m domain.Module
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, project_id, name
		FROM modules
		WHERE id = ?
	`), id).Scan(&m.ID, &m.ProjectID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Module{}, app.ErrNotFound
	}
	return m, err
}

// ListModules lists the modules of a project.
func (r *Repository) ListModules(ctx context.Context, projectID string) ([]domain.Module, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, name
		FROM modules
		WHERE project_id = ?
		ORDER BY id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Module{}
	for rows.Next() {
		var m domain.Module
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertView creates or replaces a saved view.
func (r *Repository) UpsertView(ctx context.Context, v domain.SavedView) error {
	filtersJSON, err := json.Marshal(v.Filters)
	if err != nil {
		return fmt.Errorf("encode view filters: %w", err)
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO saved_views(id, project_id, name, filters_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, filters_json = excluded.filters_json, updated_at = excluded.updated_at
	`), v.ID, v.ProjectID, v.Name, string(filtersJSON), ts(v.CreatedAt), ts(v.UpdatedAt))
	return err
}

// GetView returns a saved view.
func (r *Repository) GetView(ctx context.Context, id string) (domain.SavedView, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, project_id, name, filters_json, created_at, updated_at
		FROM saved_views
		WHERE id = ?
	`), id)
	return scanView(row)
}

// ListViews lists the saved views of a project.
func (r *Repository) ListViews(ctx context.Context, projectID string) ([]domain.SavedView, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, name, filters_json, created_at, updated_at
		FROM saved_views
		WHERE project_id = ?
		ORDER BY created_at ASC, id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SavedView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanProject handles scan project.
func scanProject(s scanner) (domain.Project, error) {
	var (
		p          domain.Project
		createdRaw string
		updatedRaw string
		archived   sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Identifier, &p.Slug, &p.Name, &p.Description, &createdRaw, &updatedRaw, &archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Project{}, app.ErrNotFound
		}
		return domain.Project{}, err
	}
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	p.ArchivedAt = parseNullTS(archived)
	return p, nil
}

func scanCycle(s scanner) (domain.Cycle, error) {
	var (
		c          domain.Cycle
		start, end sql.NullString
	)
	if err := s.Scan(&c.ID, &c.ProjectID, &c.Name, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cycle{}, app.ErrNotFound
		}
		return domain.Cycle{}, err
	}
	c.StartDate = parseNullDate(start)
	c.EndDate = parseNullDate(end)
	return c, nil
}

func scanView(s scanner) (domain.SavedView, error) {
	var (
		v          domain.SavedView
		filtersRaw string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&v.ID, &v.ProjectID, &v.Name, &filtersRaw, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SavedView{}, app.ErrNotFound
		}
		return domain.SavedView{}, err
	}
	if strings.TrimSpace(filtersRaw) == "" {
		filtersRaw = "{}"
	}
	if err := json.Unmarshal([]byte(filtersRaw), &v.Filters); err != nil {
		return domain.SavedView{}, fmt.Errorf("decode saved_views.filters_json: %w", err)
	}
	v.CreatedAt = parseTS(createdRaw)
	v.UpdatedAt = parseTS(updatedRaw)
	return v, nil
}
