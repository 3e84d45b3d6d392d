package app

import (
	"context"
	"time"

	"github.com/hylla/tavla/internal/domain"
)

// Repository is the persistence port for projects, their catalog and issues.
// Catalog writes are upserts so snapshot imports can replay them.
type Repository interface {
	CreateProject(context.Context, domain.Project) error
	UpdateProject(context.Context, domain.Project) error
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context, bool) ([]domain.Project, error)

	UpsertState(context.Context, domain.State) error
	ListStates(context.Context, string) ([]domain.State, error)
	UpsertLabel(context.Context, domain.Label) error
	ListLabels(context.Context, string) ([]domain.Label, error)
	UpsertMember(context.Context, domain.Member) error
	ListMembers(context.Context, string) ([]domain.Member, error)
	UpsertCycle(context.Context, domain.Cycle) error
	GetCycle(context.Context, string) (domain.Cycle, error)
	ListCycles(context.Context, string) ([]domain.Cycle, error)
	UpsertModule(context.Context, domain.Module) error
	GetModule(context.Context, string) (domain.Module, error)
	ListModules(context.Context, string) ([]domain.Module, error)
	UpsertView(context.Context, domain.SavedView) error
	GetView(context.Context, string) (domain.SavedView, error)
	ListViews(context.Context, string) ([]domain.SavedView, error)

	CreateIssue(context.Context, domain.Issue) error
	UpdateIssue(context.Context, domain.Issue) error
	GetIssue(context.Context, string) (domain.Issue, error)
	ListIssues(context.Context, string) ([]domain.Issue, error)
	DeleteIssue(context.Context, string) error
	RenumberIssues(context.Context, string, map[string]float64, time.Time) error
	ListProjectChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}

// ViewStateStore persists the filter state chosen for a scope.
type ViewStateStore interface {
	GetFilterState(context.Context, domain.Scope) (domain.FilterState, bool, error)
	SaveFilterState(context.Context, domain.Scope, domain.FilterState) error
}

// IssueUpdater persists a partial issue update and returns the stored record.
type IssueUpdater interface {
	UpdateIssue(ctx context.Context, scope domain.Scope, issueID string, patch domain.IssuePatch) (domain.Issue, error)
}

// IssueRemover takes an issue out of a scope. What removal means depends on
// the scope kind.
type IssueRemover interface {
	RemoveIssue(ctx context.Context, scope domain.Scope, issueID string) error
}

// ScopeFetcher loads every issue of a scope.
type ScopeFetcher interface {
	FetchAll(ctx context.Context, scope domain.Scope) ([]domain.Issue, error)
}

// Renormalizer respaces the sort orders of a project.
type Renormalizer interface {
	RenormalizeProject(ctx context.Context, projectID string) error
}

// Logger is the structured logging contract used by the app layer. It is
// satisfied by *log.Logger from charmbracelet/log.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}
