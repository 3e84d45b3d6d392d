package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/tavla/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "tavla.snapshot.v1"

// Snapshot represents snapshot data used by this package.
type Snapshot struct {
	Version    string            `json:"version" yaml:"version"`
	ExportedAt time.Time         `json:"exported_at" yaml:"exported_at"`
	Projects   []SnapshotProject `json:"projects" yaml:"projects"`
	States     []SnapshotState   `json:"states" yaml:"states"`
	Labels     []SnapshotLabel   `json:"labels,omitempty" yaml:"labels,omitempty"`
	Members    []SnapshotMember  `json:"members,omitempty" yaml:"members,omitempty"`
	Cycles     []SnapshotCycle   `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Modules    []SnapshotModule  `json:"modules,omitempty" yaml:"modules,omitempty"`
	Views      []SnapshotView    `json:"views,omitempty" yaml:"views,omitempty"`
	Issues     []SnapshotIssue   `json:"issues" yaml:"issues"`
}

// SnapshotProject represents snapshot project data used by this package.
type SnapshotProject struct {
	ID          string     `json:"id" yaml:"id"`
	Identifier  string     `json:"identifier" yaml:"identifier"`
	Slug        string     `json:"slug" yaml:"slug"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty" yaml:"archived_at,omitempty"`
}

// SnapshotState represents snapshot state data used by this package.
type SnapshotState struct {
	ID        string            `json:"id" yaml:"id"`
	ProjectID string            `json:"project_id" yaml:"project_id"`
	Name      string            `json:"name" yaml:"name"`
	Group     domain.StateGroup `json:"group" yaml:"group"`
	Sequence  float64           `json:"sequence" yaml:"sequence"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
}

// SnapshotLabel represents snapshot label data used by this package.
type SnapshotLabel struct {
	ID        string  `json:"id" yaml:"id"`
	ProjectID string  `json:"project_id" yaml:"project_id"`
	Name      string  `json:"name" yaml:"name"`
	SortOrder float64 `json:"sort_order" yaml:"sort_order"`
}

// SnapshotMember represents snapshot member data used by this package.
type SnapshotMember struct {
	ID          string `json:"id" yaml:"id"`
	ProjectID   string `json:"project_id" yaml:"project_id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// SnapshotCycle represents snapshot cycle data used by this package.
type SnapshotCycle struct {
	ID        string     `json:"id" yaml:"id"`
	ProjectID string     `json:"project_id" yaml:"project_id"`
	Name      string     `json:"name" yaml:"name"`
	StartDate *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// SnapshotModule represents snapshot module data used by this package.
type SnapshotModule struct {
	ID        string `json:"id" yaml:"id"`
	ProjectID string `json:"project_id" yaml:"project_id"`
	Name      string `json:"name" yaml:"name"`
}

// SnapshotView represents a saved view in a snapshot.
type SnapshotView struct {
	ID        string             `json:"id" yaml:"id"`
	ProjectID string             `json:"project_id" yaml:"project_id"`
	Name      string             `json:"name" yaml:"name"`
	Filters   domain.FilterState `json:"filters" yaml:"filters"`
	CreatedAt time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" yaml:"updated_at"`
}

// SnapshotIssue represents snapshot issue data used by this package.
type SnapshotIssue struct {
	ID          string            `json:"id" yaml:"id"`
	ProjectID   string            `json:"project_id" yaml:"project_id"`
	SequenceID  int               `json:"sequence_id" yaml:"sequence_id"`
	Name        string            `json:"name" yaml:"name"`
	StateID     string            `json:"state_id" yaml:"state_id"`
	StateGroup  domain.StateGroup `json:"state_group" yaml:"state_group"`
	Priority    domain.Priority   `json:"priority" yaml:"priority"`
	LabelIDs    []string          `json:"label_ids,omitempty" yaml:"label_ids,omitempty"`
	AssigneeIDs []string          `json:"assignee_ids,omitempty" yaml:"assignee_ids,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	StartDate   *time.Time        `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	TargetDate  *time.Time        `json:"target_date,omitempty" yaml:"target_date,omitempty"`
	SortOrder   float64           `json:"sort_order" yaml:"sort_order"`
	CycleID     string            `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`
	ModuleIDs   []string          `json:"module_ids,omitempty" yaml:"module_ids,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at"`
}

// ExportSnapshot collects every project with its catalog and issues.
func (s *Service) ExportSnapshot(ctx context.Context, includeArchived bool) (Snapshot, error) {
	projects, err := s.repo.ListProjects(ctx, includeArchived)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Projects:   make([]SnapshotProject, 0, len(projects)),
		States:     make([]SnapshotState, 0),
		Issues:     make([]SnapshotIssue, 0),
	}
	for _, project := range projects {
		snap.Projects = append(snap.Projects, snapshotProjectFromDomain(project))

		catalog, err := s.Catalog(ctx, project.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, state := range catalog.States {
			snap.States = append(snap.States, SnapshotState{
				ID:        state.ID,
				ProjectID: state.ProjectID,
				Name:      state.Name,
				Group:     state.Group,
				Sequence:  state.Sequence,
				CreatedAt: state.CreatedAt.UTC(),
			})
		}
		for _, label := range catalog.Labels {
			snap.Labels = append(snap.Labels, SnapshotLabel(label))
		}
		for _, member := range catalog.Members {
			snap.Members = append(snap.Members, SnapshotMember(member))
		}

		cycles, err := s.repo.ListCycles(ctx, project.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, cycle := range cycles {
			snap.Cycles = append(snap.Cycles, SnapshotCycle{
				ID:        cycle.ID,
				ProjectID: cycle.ProjectID,
				Name:      cycle.Name,
				StartDate: copyTimePtr(cycle.StartDate),
				EndDate:   copyTimePtr(cycle.EndDate),
			})
		}
		modules, err := s.repo.ListModules(ctx, project.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, module := range modules {
			snap.Modules = append(snap.Modules, SnapshotModule(module))
		}
		views, err := s.repo.ListViews(ctx, project.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, view := range views {
			snap.Views = append(snap.Views, SnapshotView{
				ID:        view.ID,
				ProjectID: view.ProjectID,
				Name:      view.Name,
				Filters:   view.Filters.Clone(),
				CreatedAt: view.CreatedAt.UTC(),
				UpdatedAt: view.UpdatedAt.UTC(),
			})
		}

		issues, err := s.repo.ListIssues(ctx, project.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, issue := range issues {
			snap.Issues = append(snap.Issues, snapshotIssueFromDomain(issue))
		}
	}

	snap.sort()
	return snap, nil
}

// ImportSnapshot upserts every record of snap. Records are written parents
// first so foreign keys hold.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	for _, project := range snap.Projects {
		if err := s.upsertProject(ctx, project.toDomain()); err != nil {
			return fmt.Errorf("import project %q: %w", project.ID, err)
		}
	}
	for _, state := range snap.States {
		if err := s.repo.UpsertState(ctx, domain.State{
			ID:        state.ID,
			ProjectID: state.ProjectID,
			Name:      state.Name,
			Group:     state.Group,
			Sequence:  state.Sequence,
			CreatedAt: state.CreatedAt.UTC(),
		}); err != nil {
			return fmt.Errorf("import state %q: %w", state.ID, err)
		}
	}
	for _, label := range snap.Labels {
		if err := s.repo.UpsertLabel(ctx, domain.Label(label)); err != nil {
			return fmt.Errorf("import label %q: %w", label.ID, err)
		}
	}
	for _, member := range snap.Members {
		if err := s.repo.UpsertMember(ctx, domain.Member(member)); err != nil {
			return fmt.Errorf("import member %q: %w", member.ID, err)
		}
	}
	for _, cycle := range snap.Cycles {
		if err := s.repo.UpsertCycle(ctx, domain.Cycle{
			ID:        cycle.ID,
			ProjectID: cycle.ProjectID,
			Name:      cycle.Name,
			StartDate: domain.NormalizeDate(cycle.StartDate),
			EndDate:   domain.NormalizeDate(cycle.EndDate),
		}); err != nil {
			return fmt.Errorf("import cycle %q: %w", cycle.ID, err)
		}
	}
	for _, module := range snap.Modules {
		if err := s.repo.UpsertModule(ctx, domain.Module(module)); err != nil {
			return fmt.Errorf("import module %q: %w", module.ID, err)
		}
	}
	for _, view := range snap.Views {
		filters, err := view.Filters.Normalize()
		if err != nil {
			return fmt.Errorf("import view %q: %w", view.ID, err)
		}
		if err := s.repo.UpsertView(ctx, domain.SavedView{
			ID:        view.ID,
			ProjectID: view.ProjectID,
			Name:      view.Name,
			Filters:   filters,
			CreatedAt: view.CreatedAt.UTC(),
			UpdatedAt: view.UpdatedAt.UTC(),
		}); err != nil {
			return fmt.Errorf("import view %q: %w", view.ID, err)
		}
	}
	for _, issue := range snap.Issues {
		if err := s.upsertIssue(ctx, issue.toDomain()); err != nil {
			return fmt.Errorf("import issue %q: %w", issue.ID, err)
		}
	}
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	projectIDs := map[string]struct{}{}
	for i, p := range s.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("projects[%d].id is required", i)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("projects[%d].name is required", i)
		}
		if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
			return fmt.Errorf("projects[%d] timestamps are required", i)
		}
		if _, exists := projectIDs[p.ID]; exists {
			return fmt.Errorf("duplicate project id: %q", p.ID)
		}
		projectIDs[p.ID] = struct{}{}
	}
	owned := func(kind string, i int, id, projectID string) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s[%d].id is required", kind, i)
		}
		if _, ok := projectIDs[projectID]; !ok {
			return fmt.Errorf("%s[%d] references unknown project_id %q", kind, i, projectID)
		}
		return nil
	}

	stateIDs := map[string]struct{}{}
	for i, st := range s.States {
		if err := owned("states", i, st.ID, st.ProjectID); err != nil {
			return err
		}
		if !domain.IsValidStateGroup(domain.NormalizeStateGroup(st.Group)) {
			return fmt.Errorf("states[%d].group %q is invalid", i, st.Group)
		}
		stateIDs[st.ID] = struct{}{}
	}
	for i, l := range s.Labels {
		if err := owned("labels", i, l.ID, l.ProjectID); err != nil {
			return err
		}
	}
	for i, m := range s.Members {
		if err := owned("members", i, m.ID, m.ProjectID); err != nil {
			return err
		}
	}
	for i, c := range s.Cycles {
		if err := owned("cycles", i, c.ID, c.ProjectID); err != nil {
			return err
		}
	}
	for i, m := range s.Modules {
		if err := owned("modules", i, m.ID, m.ProjectID); err != nil {
			return err
		}
	}
	for i, v := range s.Views {
		if err := owned("views", i, v.ID, v.ProjectID); err != nil {
			return err
		}
	}

	issueIDs := map[string]struct{}{}
	for i, issue := range s.Issues {
		if err := owned("issues", i, issue.ID, issue.ProjectID); err != nil {
			return err
		}
		if strings.TrimSpace(issue.Name) == "" {
			return fmt.Errorf("issues[%d].name is required", i)
		}
		if _, ok := stateIDs[issue.StateID]; issue.StateID != "" && !ok {
			return fmt.Errorf("issues[%d] references unknown state_id %q", i, issue.StateID)
		}
		if !domain.IsValidPriority(domain.NormalizePriority(issue.Priority)) {
			return fmt.Errorf("issues[%d].priority %q is invalid", i, issue.Priority)
		}
		if _, exists := issueIDs[issue.ID]; exists {
			return fmt.Errorf("duplicate issue id: %q", issue.ID)
		}
		issueIDs[issue.ID] = struct{}{}
	}
	return nil
}

// sort orders every section deterministically.
func (s *Snapshot) sort() {
	sort.Slice(s.Projects, func(i, j int) bool {
		return s.Projects[i].CreatedAt.Before(s.Projects[j].CreatedAt) ||
			(s.Projects[i].CreatedAt.Equal(s.Projects[j].CreatedAt) && s.Projects[i].ID < s.Projects[j].ID)
	})
	sort.Slice(s.States, func(i, j int) bool {
		a, b := s.States[i], s.States[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
	sort.Slice(s.Labels, func(i, j int) bool {
		a, b := s.Labels[i], s.Labels[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
	sort.Slice(s.Members, func(i, j int) bool {
		a, b := s.Members[i], s.Members[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.ID < b.ID
	})
	sort.Slice(s.Cycles, func(i, j int) bool { return s.Cycles[i].ID < s.Cycles[j].ID })
	sort.Slice(s.Modules, func(i, j int) bool { return s.Modules[i].ID < s.Modules[j].ID })
	sort.Slice(s.Views, func(i, j int) bool { return s.Views[i].ID < s.Views[j].ID })
	sort.Slice(s.Issues, func(i, j int) bool {
		a, b := s.Issues[i], s.Issues[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}

func snapshotProjectFromDomain(p domain.Project) SnapshotProject {
	return SnapshotProject{
		ID:          p.ID,
		Identifier:  p.Identifier,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
		ArchivedAt:  copyTimePtr(p.ArchivedAt),
	}
}

func snapshotIssueFromDomain(i domain.Issue) SnapshotIssue {
	return SnapshotIssue{
		ID:          i.ID,
		ProjectID:   i.ProjectID,
		SequenceID:  i.SequenceID,
		Name:        i.Name,
		StateID:     i.StateID,
		StateGroup:  i.StateGroup,
		Priority:    i.Priority,
		LabelIDs:    append([]string(nil), i.LabelIDs...),
		AssigneeIDs: append([]string(nil), i.AssigneeIDs...),
		CreatedBy:   i.CreatedBy,
		StartDate:   copyTimePtr(i.StartDate),
		TargetDate:  copyTimePtr(i.TargetDate),
		SortOrder:   i.SortOrder,
		CycleID:     i.CycleID,
		ModuleIDs:   append([]string(nil), i.ModuleIDs...),
		CreatedAt:   i.CreatedAt.UTC(),
		UpdatedAt:   i.UpdatedAt.UTC(),
	}
}

func (p SnapshotProject) toDomain() domain.Project {
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		slug = fallbackSlug(p.Name)
	}
	return domain.Project{
		ID:          strings.TrimSpace(p.ID),
		Identifier:  strings.ToUpper(strings.TrimSpace(p.Identifier)),
		Slug:        slug,
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
		ArchivedAt:  copyTimePtr(p.ArchivedAt),
	}
}

func (i SnapshotIssue) toDomain() domain.Issue {
	return domain.Issue{
		ID:          strings.TrimSpace(i.ID),
		ProjectID:   strings.TrimSpace(i.ProjectID),
		SequenceID:  i.SequenceID,
		Name:        strings.TrimSpace(i.Name),
		StateID:     strings.TrimSpace(i.StateID),
		StateGroup:  domain.NormalizeStateGroup(i.StateGroup),
		Priority:    domain.NormalizePriority(i.Priority),
		LabelIDs:    domain.NormalizeIDs(i.LabelIDs),
		AssigneeIDs: domain.NormalizeIDs(i.AssigneeIDs),
		CreatedBy:   strings.TrimSpace(i.CreatedBy),
		StartDate:   domain.NormalizeDate(i.StartDate),
		TargetDate:  domain.NormalizeDate(i.TargetDate),
		SortOrder:   i.SortOrder,
		CycleID:     strings.TrimSpace(i.CycleID),
		ModuleIDs:   domain.NormalizeIDs(i.ModuleIDs),
		CreatedAt:   i.CreatedAt.UTC(),
		UpdatedAt:   i.UpdatedAt.UTC(),
	}
}

// fallbackSlug derives a slug from a project name.
func fallbackSlug(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, " ", "-")
	if name == "" {
		return "project"
	}
	return name
}

// copyTimePtr copies an optional time value.
func copyTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	out := in.UTC()
	return &out
}
