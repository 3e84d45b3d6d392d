package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hylla/tavla/internal/domain"
	"github.com/hylla/tavla/internal/reorder"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	StateTemplates          []StateTemplate
	AutoCreateProjectStates bool
	Spacing                 float64
	MinGap                  float64
	AutoRenormalize         bool
	DefaultFilterState      domain.FilterState
	Logger                  Logger
}

// StateTemplate describes one workflow state created for new projects.
type StateTemplate struct {
	Name     string
	Group    domain.StateGroup
	Sequence float64
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service is the local implementation of the issue update, removal and fetch
// collaborators, and opens scoped stores over a shared issue store.
type Service struct {
	repo            Repository
	viewStates      ViewStateStore
	idGen           IDGenerator
	clock           Clock
	stateTemplates  []StateTemplate
	autoStates      bool
	spacing         float64
	minGap          float64
	autoRenormalize bool
	defaultFilter   domain.FilterState
	logger          Logger
	issues          *IssueStore
}

// NewService constructs a new value for this package. A nil viewStates
// keeps filter states in memory for the life of the service.
func NewService(repo Repository, viewStates ViewStateStore, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if viewStates == nil {
		viewStates = newMemoryViewStates()
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = reorder.DefaultSpacing
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = reorder.DefaultMinGap
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	templates := sanitizeStateTemplates(cfg.StateTemplates)
	if len(templates) == 0 {
		templates = defaultStateTemplates()
	}
	return &Service{
		repo:            repo,
		viewStates:      viewStates,
		idGen:           idGen,
		clock:           clock,
		stateTemplates:  templates,
		autoStates:      cfg.AutoCreateProjectStates,
		spacing:         cfg.Spacing,
		minGap:          cfg.MinGap,
		autoRenormalize: cfg.AutoRenormalize,
		defaultFilter:   cfg.DefaultFilterState.Clone(),
		logger:          cfg.Logger,
		issues:          NewIssueStore(),
	}
}

// Issues returns the issue store shared by every scope the service opens.
func (s *Service) Issues() *IssueStore {
	return s.issues
}

// CreateProjectInput holds input values for create project operations.
type CreateProjectInput struct {
	Identifier  string
	Name        string
	Description string
}

// CreateProject creates a project and, when configured, its default states.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	now := s.clock()
	project, err := domain.NewProject(s.idGen(), in.Identifier, in.Name, in.Description, now)
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	if s.autoStates {
		if err := s.createDefaultStates(ctx, project.ID, now); err != nil {
			return domain.Project{}, err
		}
	}
	return project, nil
}

// GetProject returns project.
func (s *Service) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return s.repo.GetProject(ctx, strings.TrimSpace(id))
}

// ListProjects lists projects.
func (s *Service) ListProjects(ctx context.Context, includeArchived bool) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx, includeArchived)
}

// CreateStateInput holds input values for create state operations.
type CreateStateInput struct {
	ProjectID string
	Name      string
	Group     domain.StateGroup
	Sequence  float64
}

// CreateState creates a workflow state. A zero sequence appends after the
// project's existing states.
func (s *Service) CreateState(ctx context.Context, in CreateStateInput) (domain.State, error) {
	if _, err := s.repo.GetProject(ctx, in.ProjectID); err != nil {
		return domain.State{}, err
	}
	if in.Sequence == 0 {
		states, err := s.repo.ListStates(ctx, in.ProjectID)
		if err != nil {
			return domain.State{}, err
		}
		for _, state := range states {
			in.Sequence = max(in.Sequence, state.Sequence)
		}
		in.Sequence += s.spacing
	}
	state, err := domain.NewState(s.idGen(), in.ProjectID, in.Name, in.Group, in.Sequence, s.clock())
	if err != nil {
		return domain.State{}, err
	}
	if err := s.repo.UpsertState(ctx, state); err != nil {
		return domain.State{}, err
	}
	return state, nil
}

// CreateLabel creates a label ordered after the existing ones.
func (s *Service) CreateLabel(ctx context.Context, projectID, name string) (domain.Label, error) {
	labels, err := s.repo.ListLabels(ctx, projectID)
	if err != nil {
		return domain.Label{}, err
	}
	order := 0.0
	for _, label := range labels {
		order = max(order, label.SortOrder)
	}
	label, err := domain.NewLabel(s.idGen(), projectID, name, order+s.spacing)
	if err != nil {
		return domain.Label{}, err
	}
	if err := s.repo.UpsertLabel(ctx, label); err != nil {
		return domain.Label{}, err
	}
	return label, nil
}

// UpsertMember creates or renames a project member.
func (s *Service) UpsertMember(ctx context.Context, projectID, memberID, displayName string) (domain.Member, error) {
	member, err := domain.NewMember(memberID, projectID, displayName)
	if err != nil {
		return domain.Member{}, err
	}
	if err := s.repo.UpsertMember(ctx, member); err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

// CreateCycleInput holds input values for create cycle operations.
type CreateCycleInput struct {
	ProjectID string
	Name      string
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateCycle creates cycle.
func (s *Service) CreateCycle(ctx context.Context, in CreateCycleInput) (domain.Cycle, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Cycle{}, domain.ErrInvalidName
	}
	if _, err := s.repo.GetProject(ctx, in.ProjectID); err != nil {
		return domain.Cycle{}, err
	}
	cycle := domain.Cycle{
		ID:        s.idGen(),
		ProjectID: in.ProjectID,
		Name:      name,
		StartDate: domain.NormalizeDate(in.StartDate),
		EndDate:   domain.NormalizeDate(in.EndDate),
	}
	if err := s.repo.UpsertCycle(ctx, cycle); err != nil {
		return domain.Cycle{}, err
	}
	return cycle, nil
}

// CreateModule creates module.
func (s *Service) CreateModule(ctx context.Context, projectID, name string) (domain.Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Module{}, domain.ErrInvalidName
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return domain.Module{}, err
	}
	module := domain.Module{ID: s.idGen(), ProjectID: projectID, Name: name}
	if err := s.repo.UpsertModule(ctx, module); err != nil {
		return domain.Module{}, err
	}
	return module, nil
}

// CreateView stores a named filter state for a project.
func (s *Service) CreateView(ctx context.Context, projectID, name string, fs domain.FilterState) (domain.SavedView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.SavedView{}, domain.ErrInvalidName
	}
	normalized, err := fs.Normalize()
	if err != nil {
		return domain.SavedView{}, err
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return domain.SavedView{}, err
	}
	now := s.clock().UTC()
	view := domain.SavedView{
		ID:        s.idGen(),
		ProjectID: projectID,
		Name:      name,
		Filters:   normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertView(ctx, view); err != nil {
		return domain.SavedView{}, err
	}
	return view, nil
}

// Catalog loads the states, labels and members of a project.
func (s *Service) Catalog(ctx context.Context, projectID string) (domain.Catalog, error) {
	states, err := s.repo.ListStates(ctx, projectID)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("list states: %w", err)
	}
	labels, err := s.repo.ListLabels(ctx, projectID)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("list labels: %w", err)
	}
	members, err := s.repo.ListMembers(ctx, projectID)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("list members: %w", err)
	}
	return domain.Catalog{States: states, Labels: labels, Members: members}, nil
}

// CreateIssueInput holds input values for create issue operations.
type CreateIssueInput struct {
	ProjectID   string
	Name        string
	StateID     string
	Priority    domain.Priority
	LabelIDs    []string
	AssigneeIDs []string
	CreatedBy   string
	StartDate   *time.Time
	TargetDate  *time.Time
	CycleID     string
	ModuleIDs   []string
}

// CreateIssue creates an issue at the end of the project's manual order.
// An empty state id picks the project's default state.
func (s *Service) CreateIssue(ctx context.Context, in CreateIssueInput) (domain.Issue, error) {
	if _, err := s.repo.GetProject(ctx, in.ProjectID); err != nil {
		return domain.Issue{}, err
	}
	catalog, err := s.Catalog(ctx, in.ProjectID)
	if err != nil {
		return domain.Issue{}, err
	}
	state, err := resolveState(catalog, in.StateID)
	if err != nil {
		return domain.Issue{}, err
	}
	existing, err := s.repo.ListIssues(ctx, in.ProjectID)
	if err != nil {
		return domain.Issue{}, err
	}
	sequence, order := 0, 0.0
	for _, issue := range existing {
		sequence = max(sequence, issue.SequenceID)
		order = max(order, issue.SortOrder)
	}

	issue, err := domain.NewIssue(domain.IssueInput{
		ID:          s.idGen(),
		ProjectID:   in.ProjectID,
		SequenceID:  sequence + 1,
		Name:        in.Name,
		StateID:     state.ID,
		StateGroup:  state.Group,
		Priority:    in.Priority,
		LabelIDs:    in.LabelIDs,
		AssigneeIDs: in.AssigneeIDs,
		CreatedBy:   in.CreatedBy,
		StartDate:   in.StartDate,
		TargetDate:  in.TargetDate,
		SortOrder:   order + s.spacing,
		CycleID:     in.CycleID,
		ModuleIDs:   in.ModuleIDs,
	}, s.clock())
	if err != nil {
		return domain.Issue{}, err
	}
	if err := s.repo.CreateIssue(ctx, issue); err != nil {
		return domain.Issue{}, err
	}
	s.issues.Put(issue)
	return issue, nil
}

// ListIssues lists the issues of a project.
func (s *Service) ListIssues(ctx context.Context, projectID string) ([]domain.Issue, error) {
	return s.repo.ListIssues(ctx, projectID)
}

// UpdateIssue applies a partial update to an issue of scope and persists it.
// A state change refreshes the state group from the project's catalog.
func (s *Service) UpdateIssue(ctx context.Context, scope domain.Scope, issueID string, patch domain.IssuePatch) (domain.Issue, error) {
	issue, err := s.issueInScope(ctx, scope, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if patch.StateID != nil {
		catalog, err := s.Catalog(ctx, issue.ProjectID)
		if err != nil {
			return domain.Issue{}, err
		}
		state, err := resolveState(catalog, *patch.StateID)
		if err != nil {
			return domain.Issue{}, err
		}
		group := state.Group
		patch.StateGroup = &group
	}
	if err := issue.ApplyPatch(patch, s.clock()); err != nil {
		return domain.Issue{}, err
	}
	if err := s.repo.UpdateIssue(ctx, issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// RemoveIssue takes an issue out of scope. Project and view scopes delete it;
// cycle scopes clear its cycle and module scopes drop the module membership.
func (s *Service) RemoveIssue(ctx context.Context, scope domain.Scope, issueID string) error {
	issue, err := s.issueInScope(ctx, scope, issueID)
	if err != nil {
		return err
	}
	switch scope.Kind {
	case domain.ScopeCycle:
		issue.CycleID = ""
	case domain.ScopeModule:
		issue.ModuleIDs = slices.DeleteFunc(issue.ModuleIDs, func(id string) bool { return id == scope.ID })
	default:
		return s.repo.DeleteIssue(ctx, issue.ID)
	}
	issue.UpdatedAt = s.clock().UTC()
	return s.repo.UpdateIssue(ctx, issue)
}

// FetchAll loads every issue belonging to scope.
func (s *Service) FetchAll(ctx context.Context, scope domain.Scope) ([]domain.Issue, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	issues, err := s.repo.ListIssues(ctx, scope.ProjectID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if scope.Contains(issue) {
			out = append(out, issue)
		}
	}
	return out, nil
}

// RenormalizeProject respaces every sort order of a project while keeping
// the relative order of all issues.
func (s *Service) RenormalizeProject(ctx context.Context, projectID string) error {
	issues, err := s.repo.ListIssues(ctx, projectID)
	if err != nil {
		return err
	}
	assignments := reorder.Respace(issues, s.spacing)
	if len(assignments) == 0 {
		return nil
	}
	orders := make(map[string]float64, len(assignments))
	for _, a := range assignments {
		orders[a.IssueID] = a.SortOrder
	}
	if err := s.repo.RenumberIssues(ctx, projectID, orders, s.clock().UTC()); err != nil {
		return fmt.Errorf("renumber issues: %w", err)
	}
	s.logger.Info("sort orders respaced", "project_id", projectID, "changed", len(assignments))
	return nil
}

// OpenScope builds a scoped store for scope from persisted state. The filter
// state is the one saved for the scope, then the saved view's filters, then
// the configured default.
func (s *Service) OpenScope(ctx context.Context, scope domain.Scope) (*ScopedStore, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	fs, err := s.LoadFilterState(ctx, scope)
	if err != nil {
		return nil, err
	}
	catalog, err := s.Catalog(ctx, scope.ProjectID)
	if err != nil {
		return nil, err
	}
	issues, err := s.FetchAll(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.issues.PutMany(issues)
	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
	}
	return NewScopedStore(ScopedStoreConfig{
		Scope:           scope,
		Issues:          s.issues,
		IssueIDs:        ids,
		Catalog:         catalog,
		FilterState:     fs,
		Updater:         s,
		Remover:         s,
		Fetcher:         s,
		Renormalizer:    s,
		Spacing:         s.spacing,
		MinGap:          s.minGap,
		AutoRenormalize: s.autoRenormalize,
		Logger:          s.logger,
		Clock:           s.clock,
	})
}

// LoadFilterState returns the filter state in effect for scope.
func (s *Service) LoadFilterState(ctx context.Context, scope domain.Scope) (domain.FilterState, error) {
	if err := s.ensureScopeExists(ctx, scope); err != nil {
		return domain.FilterState{}, err
	}
	fs, ok, err := s.viewStates.GetFilterState(ctx, scope)
	if err != nil {
		return domain.FilterState{}, fmt.Errorf("load filter state: %w", err)
	}
	if ok {
		return fs, nil
	}
	if scope.Kind == domain.ScopeView {
		view, err := s.repo.GetView(ctx, scope.ID)
		if err != nil {
			return domain.FilterState{}, err
		}
		return view.Filters.Clone(), nil
	}
	return s.defaultFilter.Clone(), nil
}

// SaveFilterState validates and persists the filter state for scope.
func (s *Service) SaveFilterState(ctx context.Context, scope domain.Scope, fs domain.FilterState) (domain.FilterState, error) {
	if err := scope.Validate(); err != nil {
		return domain.FilterState{}, err
	}
	normalized, err := fs.Normalize()
	if err != nil {
		return domain.FilterState{}, err
	}
	if err := s.viewStates.SaveFilterState(ctx, scope, normalized); err != nil {
		return domain.FilterState{}, fmt.Errorf("save filter state: %w", err)
	}
	return normalized, nil
}

// ListProjectChangeEvents lists recent activity for a project.
func (s *Service) ListProjectChangeEvents(ctx context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListProjectChangeEvents(ctx, projectID, limit)
}

func (s *Service) issueInScope(ctx context.Context, scope domain.Scope, issueID string) (domain.Issue, error) {
	if err := scope.Validate(); err != nil {
		return domain.Issue{}, err
	}
	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if !scope.Contains(issue) {
		return domain.Issue{}, fmt.Errorf("issue %q in %s: %w", issueID, scope.Key(), ErrOutOfScope)
	}
	return issue, nil
}

func (s *Service) ensureScopeExists(ctx context.Context, scope domain.Scope) error {
	if _, err := s.repo.GetProject(ctx, scope.ProjectID); err != nil {
		return fmt.Errorf("project %q: %w", scope.ProjectID, err)
	}
	var projectID string
	switch scope.Kind {
	case domain.ScopeCycle:
		cycle, err := s.repo.GetCycle(ctx, scope.ID)
		if err != nil {
			return fmt.Errorf("cycle %q: %w", scope.ID, err)
		}
		projectID = cycle.ProjectID
	case domain.ScopeModule:
		module, err := s.repo.GetModule(ctx, scope.ID)
		if err != nil {
			return fmt.Errorf("module %q: %w", scope.ID, err)
		}
		projectID = module.ProjectID
	case domain.ScopeView:
		view, err := s.repo.GetView(ctx, scope.ID)
		if err != nil {
			return fmt.Errorf("view %q: %w", scope.ID, err)
		}
		projectID = view.ProjectID
	default:
		return nil
	}
	if projectID != scope.ProjectID {
		return fmt.Errorf("%s belongs to project %q: %w", scope.Key(), projectID, domain.ErrInvalidScope)
	}
	return nil
}

// resolveState returns the state with id, or the catalog default when id is
// empty.
func resolveState(catalog domain.Catalog, id string) (domain.State, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		state, ok := catalog.DefaultState()
		if !ok {
			return domain.State{}, fmt.Errorf("project has no states: %w", domain.ErrInvalidStateID)
		}
		return state, nil
	}
	state, ok := catalog.StateByID(id)
	if !ok {
		return domain.State{}, fmt.Errorf("state %q: %w", id, domain.ErrInvalidStateID)
	}
	return state, nil
}

// defaultStateTemplates returns default state templates.
func defaultStateTemplates() []StateTemplate {
	return []StateTemplate{
		{Name: "Backlog", Group: domain.StateGroupBacklog, Sequence: 15000},
		{Name: "Todo", Group: domain.StateGroupUnstarted, Sequence: 25000},
		{Name: "In Progress", Group: domain.StateGroupStarted, Sequence: 35000},
		{Name: "Done", Group: domain.StateGroupCompleted, Sequence: 45000},
		{Name: "Cancelled", Group: domain.StateGroupCancelled, Sequence: 55000},
	}
}

// sanitizeStateTemplates drops unnamed or invalid templates and duplicate
// names, then orders the rest by group and sequence.
func sanitizeStateTemplates(in []StateTemplate) []StateTemplate {
	if len(in) == 0 {
		return nil
	}
	out := make([]StateTemplate, 0, len(in))
	seen := map[string]struct{}{}
	for idx, state := range in {
		state.Name = strings.TrimSpace(state.Name)
		state.Group = domain.NormalizeStateGroup(state.Group)
		if state.Name == "" || !domain.IsValidStateGroup(state.Group) {
			continue
		}
		key := strings.ToLower(state.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if state.Sequence <= 0 {
			state.Sequence = float64(idx+1) * 10000
		}
		out = append(out, state)
	}
	slices.SortStableFunc(out, func(a, b StateTemplate) int {
		if d := domain.StateGroupRank(a.Group) - domain.StateGroupRank(b.Group); d != 0 {
			return d
		}
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})
	return out
}

// createDefaultStates creates default states.
func (s *Service) createDefaultStates(ctx context.Context, projectID string, now time.Time) error {
	for _, tmpl := range s.stateTemplates {
		state, err := domain.NewState(s.idGen(), projectID, tmpl.Name, tmpl.Group, tmpl.Sequence, now)
		if err != nil {
			return fmt.Errorf("create default state %q: %w", tmpl.Name, err)
		}
		if err := s.repo.UpsertState(ctx, state); err != nil {
			return fmt.Errorf("persist default state %q: %w", tmpl.Name, err)
		}
	}
	return nil
}

// upsertProject handles upsert project.
func (s *Service) upsertProject(ctx context.Context, p domain.Project) error {
	if _, err := s.repo.GetProject(ctx, p.ID); err == nil {
		return s.repo.UpdateProject(ctx, p)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.repo.CreateProject(ctx, p)
}

// upsertIssue handles upsert issue.
func (s *Service) upsertIssue(ctx context.Context, issue domain.Issue) error {
	if _, err := s.repo.GetIssue(ctx, issue.ID); err == nil {
		return s.repo.UpdateIssue(ctx, issue)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.repo.CreateIssue(ctx, issue)
}
