package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	repo, err := New(context.Background(), db, SQLite)
	if err != nil {
		_ = db.Close()
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func seedProject(t *testing.T, repo *Repository) domain.Project {
	t.Helper()
	project, err := domain.NewProject("p1", "TAV", "Tavla", "board", testNow)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if err := repo.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return project
}

func TestRepository_ProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	loaded, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if diff := cmp.Diff(project, loaded); diff != "" {
		t.Fatalf("unexpected project (-want +got):\n%s", diff)
	}

	project.Archive(testNow.Add(time.Hour))
	if err := repo.UpdateProject(ctx, project); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}
	active, err := repo.ListProjects(ctx, false)
	if err != nil {
		t.Fatalf("ListProjects(active) error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected archived project hidden, got %#v", active)
	}
	all, err := repo.ListProjects(ctx, true)
	if err != nil {
		t.Fatalf("ListProjects(all) error = %v", err)
	}
	if len(all) != 1 || all[0].ArchivedAt == nil {
		t.Fatalf("expected archived project in full list, got %#v", all)
	}

	ghost := project
	ghost.ID = "ghost"
	if err := repo.UpdateProject(ctx, ghost); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound, got %v", err)
	}
}

func TestRepository_CatalogUpserts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	todo, _ := domain.NewState("s-todo", project.ID, "Todo", domain.StateGroupUnstarted, 25000, testNow)
	backlog, _ := domain.NewState("s-backlog", project.ID, "Backlog", domain.StateGroupBacklog, 15000, testNow)
	for _, s := range []domain.State{todo, backlog} {
		if err := repo.UpsertState(ctx, s); err != nil {
			t.Fatalf("UpsertState() error = %v", err)
		}
	}
	todo.Name = "To do"
	if err := repo.UpsertState(ctx, todo); err != nil {
		t.Fatalf("UpsertState(replay) error = %v", err)
	}
	states, err := repo.ListStates(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if len(states) != 2 || states[0].ID != "s-backlog" || states[1].Name != "To do" {
		t.Fatalf("unexpected states %#v", states)
	}

	if err := repo.UpsertLabel(ctx, domain.Label{ID: "l1", ProjectID: project.ID, Name: "bug", SortOrder: 2}); err != nil {
		t.Fatalf("UpsertLabel() error = %v", err)
	}
	if err := repo.UpsertMember(ctx, domain.Member{ID: "u1", ProjectID: project.ID, DisplayName: "Ada"}); err != nil {
		t.Fatalf("UpsertMember() error = %v", err)
	}
	if err := repo.UpsertMember(ctx, domain.Member{ID: "u1", ProjectID: project.ID, DisplayName: "Ada L."}); err != nil {
		t.Fatalf("UpsertMember(replay) error = %v", err)
	}
	members, err := repo.ListMembers(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 1 || members[0].DisplayName != "Ada L." {
		t.Fatalf("unexpected members %#v", members)
	}
	labels, err := repo.ListLabels(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListLabels() error = %v", err)
	}
	if len(labels) != 1 || labels[0].SortOrder != 2 {
		t.Fatalf("unexpected labels %#v", labels)
	}

	start := time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)
	cycle := domain.Cycle{ID: "c1", ProjectID: project.ID, Name: "Sprint 1", StartDate: &start}
	if err := repo.UpsertCycle(ctx, cycle); err != nil {
		t.Fatalf("UpsertCycle() error = %v", err)
	}
	gotCycle, err := repo.GetCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCycle() error = %v", err)
	}
	if diff := cmp.Diff(cycle, gotCycle); diff != "" {
		t.Fatalf("unexpected cycle (-want +got):\n%s", diff)
	}

	if err := repo.UpsertModule(ctx, domain.Module{ID: "m1", ProjectID: project.ID, Name: "Core"}); err != nil {
		t.Fatalf("UpsertModule() error = %v", err)
	}
	if _, err := repo.GetModule(ctx, "m1"); err != nil {
		t.Fatalf("GetModule() error = %v", err)
	}
	if _, err := repo.GetModule(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for module, got %v", err)
	}

	view := domain.SavedView{
		ID:        "v1",
		ProjectID: project.ID,
		Name:      "Urgent",
		Filters: domain.FilterState{
			Filters: map[domain.FilterField][]string{domain.FieldPriority: {"urgent"}},
			GroupBy: domain.GroupByState,
			OrderBy: domain.OrderByManual,
			Layout:  domain.LayoutKanban,
		},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	if err := repo.UpsertView(ctx, view); err != nil {
		t.Fatalf("UpsertView() error = %v", err)
	}
	views, err := repo.ListViews(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListViews() error = %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if diff := cmp.Diff(view, views[0]); diff != "" {
		t.Fatalf("unexpected view (-want +got):\n%s", diff)
	}
}

func TestRepository_IssueLifecycleRecordsEvents(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	target := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	issue, err := domain.NewIssue(domain.IssueInput{
		ID:          "i1",
		ProjectID:   project.ID,
		SequenceID:  1,
		Name:        "Fix drag",
		StateID:     "s-todo",
		StateGroup:  domain.StateGroupUnstarted,
		Priority:    domain.PriorityHigh,
		LabelIDs:    []string{"l2", "l1"},
		AssigneeIDs: []string{"u1"},
		TargetDate:  &target,
		SortOrder:   65535,
		ModuleIDs:   []string{"m1"},
	}, testNow)
	if err != nil {
		t.Fatalf("NewIssue() error = %v", err)
	}
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	loaded, err := repo.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if diff := cmp.Diff(issue, loaded); diff != "" {
		t.Fatalf("unexpected issue (-want +got):\n%s", diff)
	}

	moved := loaded.Clone()
	order := 65635.0
	doneState := "s-done"
	if err := moved.ApplyPatch(domain.IssuePatch{SortOrder: &order, StateID: &doneState}, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("ApplyPatch() error = %v", err)
	}
	if err := repo.UpdateIssue(ctx, moved); err != nil {
		t.Fatalf("UpdateIssue(move) error = %v", err)
	}

	renamed := moved.Clone()
	renamed.Name = "Fix drag and drop"
	renamed.UpdatedAt = testNow.Add(2 * time.Minute)
	if err := repo.UpdateIssue(ctx, renamed); err != nil {
		t.Fatalf("UpdateIssue(rename) error = %v", err)
	}

	detached := renamed.Clone()
	detached.ModuleIDs = nil
	detached.UpdatedAt = testNow.Add(3 * time.Minute)
	if err := repo.UpdateIssue(ctx, detached); err != nil {
		t.Fatalf("UpdateIssue(detach) error = %v", err)
	}

	if err := repo.DeleteIssue(ctx, issue.ID); err != nil {
		t.Fatalf("DeleteIssue() error = %v", err)
	}
	if _, err := repo.GetIssue(ctx, issue.ID); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound, got %v", err)
	}
	if err := repo.DeleteIssue(ctx, issue.ID); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound on second delete, got %v", err)
	}

	events, err := repo.ListProjectChangeEvents(ctx, project.ID, 0)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents() error = %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %#v", events)
	}
	ops := make([]domain.ChangeOperation, 0, len(events))
	for _, event := range events {
		ops = append(ops, event.Operation)
	}
	wantOps := []domain.ChangeOperation{
		domain.ChangeOperationDelete,
		domain.ChangeOperationRemove,
		domain.ChangeOperationUpdate,
		domain.ChangeOperationMove,
		domain.ChangeOperationCreate,
	}
	if diff := cmp.Diff(wantOps, ops); diff != "" {
		t.Fatalf("unexpected operations (-want +got):\n%s", diff)
	}
	if got := events[3].Metadata; got["to_sort_order"] != "65635" || got["to_state_id"] != "s-done" {
		t.Fatalf("unexpected move metadata %#v", got)
	}
	if got := events[2].Metadata["changed_fields"]; got != "name" {
		t.Fatalf("unexpected changed_fields %q", got)
	}
	if got := events[1].Metadata["module_ids"]; got != "m1" {
		t.Fatalf("unexpected remove metadata %q", got)
	}

	limited, err := repo.ListProjectChangeEvents(ctx, project.ID, 2)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents(limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 limited events, got %d", len(limited))
	}
}

func TestRepository_ListIssuesSortedAndRenumber(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	for _, in := range []domain.IssueInput{
		{ID: "b", ProjectID: project.ID, Name: "B", SortOrder: 100.5},
		{ID: "a", ProjectID: project.ID, Name: "A", SortOrder: 100.5},
		{ID: "c", ProjectID: project.ID, Name: "C", SortOrder: 100},
	} {
		issue, err := domain.NewIssue(in, testNow)
		if err != nil {
			t.Fatalf("NewIssue() error = %v", err)
		}
		if err := repo.CreateIssue(ctx, issue); err != nil {
			t.Fatalf("CreateIssue() error = %v", err)
		}
	}

	issues, err := repo.ListIssues(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	if got := issueIDs(issues); !cmp.Equal(got, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected order %v", got)
	}

	later := testNow.Add(time.Hour)
	if err := repo.RenumberIssues(ctx, project.ID, map[string]float64{"c": 65535, "a": 131070, "b": 196605}, later); err != nil {
		t.Fatalf("RenumberIssues() error = %v", err)
	}
	issues, err = repo.ListIssues(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListIssues(after) error = %v", err)
	}
	if issues[0].SortOrder != 65535 || issues[2].SortOrder != 196605 || !issues[1].UpdatedAt.Equal(later) {
		t.Fatalf("unexpected renumbered issues %#v", issues)
	}

	err = repo.RenumberIssues(ctx, project.ID, map[string]float64{"c": 1, "ghost": 2}, later)
	if !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for unknown id, got %v", err)
	}
	if got, _ := repo.GetIssue(ctx, "c"); got.SortOrder != 65535 {
		t.Fatalf("failed renumber must roll back, got %v", got.SortOrder)
	}

	events, err := repo.ListProjectChangeEvents(ctx, project.ID, 1)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Operation != domain.ChangeOperationRenormalize || events[0].Metadata["count"] != "3" {
		t.Fatalf("unexpected renormalize event %#v", events)
	}
}

func TestRepository_ViewStates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	project := seedProject(t, repo)
	scope := domain.Scope{Kind: domain.ScopeCycle, ID: "c1", ProjectID: project.ID}

	if _, ok, err := repo.GetFilterState(ctx, scope); err != nil || ok {
		t.Fatalf("GetFilterState(empty) = ok %v, err %v", ok, err)
	}
	fs := domain.FilterState{GroupBy: domain.GroupByPriority, SubGroupBy: domain.GroupByNone, OrderBy: domain.OrderByManual, Layout: domain.LayoutKanban}
	if err := repo.SaveFilterState(ctx, scope, fs); err != nil {
		t.Fatalf("SaveFilterState() error = %v", err)
	}
	fs.ShowEmptyGroups = true
	if err := repo.SaveFilterState(ctx, scope, fs); err != nil {
		t.Fatalf("SaveFilterState(replace) error = %v", err)
	}
	got, ok, err := repo.GetFilterState(ctx, scope)
	if err != nil || !ok {
		t.Fatalf("GetFilterState() = ok %v, err %v", ok, err)
	}
	if diff := cmp.Diff(fs, got); diff != "" {
		t.Fatalf("unexpected filter state (-want +got):\n%s", diff)
	}
}

func TestRepository_NotFoundCases(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if _, err := repo.GetProject(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for project, got %v", err)
	}
	if _, err := repo.GetCycle(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for cycle, got %v", err)
	}
	if _, err := repo.GetView(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for view, got %v", err)
	}
	if err := repo.UpdateIssue(ctx, domain.Issue{ID: "missing", ProjectID: "p1"}); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for issue update, got %v", err)
	}
}

func TestDialectRebind(t *testing.T) {
	query := `SELECT a FROM t WHERE b = ? AND c = ? LIMIT ?`
	if got := SQLite.rebind(query); got != query {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	want := `SELECT a FROM t WHERE b = $1 AND c = $2 LIMIT $3`
	if got := Postgres.rebind(query); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
	if Postgres.String() != "postgres" || SQLite.String() != "sqlite" {
		t.Fatal("unexpected dialect names")
	}
}

func TestNewRejectsNilDB(t *testing.T) {
	if _, err := New(context.Background(), nil, SQLite); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func issueIDs(issues []domain.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.ID)
	}
	return out
}
