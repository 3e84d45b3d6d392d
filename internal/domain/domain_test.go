package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestNewProjectAndSlug(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	p, err := NewProject("p1", "", "  My Big Project!  ", " desc ", now)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if p.Slug != "my-big-project" {
		t.Fatalf("unexpected slug %q", p.Slug)
	}
	if p.Name != "My Big Project!" {
		t.Fatalf("unexpected name %q", p.Name)
	}
	if p.Identifier != "MYBIG" {
		t.Fatalf("unexpected identifier %q", p.Identifier)
	}
}

func TestNewProjectValidation(t *testing.T) {
	now := time.Now()
	if _, err := NewProject("", "", "ok", "", now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := NewProject("id", "", "   ", "", now); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestProjectArchiveRestore(t *testing.T) {
	now := time.Now()
	p, err := NewProject("p1", "TST", "test", "", now)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	later := now.Add(time.Minute)
	p.Archive(later)
	if p.ArchivedAt == nil {
		t.Fatal("expected archived_at to be set")
	}
	p.Restore(later.Add(time.Minute))
	if p.ArchivedAt != nil {
		t.Fatal("expected archived_at to be nil")
	}
}

func TestNewIssueDefaultsAndValidation(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	due := time.Date(2026, 3, 1, 17, 45, 0, 0, time.UTC)
	issue, err := NewIssue(IssueInput{
		ID:         "i1",
		ProjectID:  "p1",
		Name:       "  fix login  ",
		LabelIDs:   []string{" bug ", "bug", "", "api"},
		TargetDate: &due,
		SortOrder:  65535,
	}, now)
	if err != nil {
		t.Fatalf("NewIssue() error = %v", err)
	}
	if issue.Priority != PriorityNone {
		t.Fatalf("expected none priority, got %q", issue.Priority)
	}
	if !slices.Equal(issue.LabelIDs, []string{"api", "bug"}) {
		t.Fatalf("unexpected labels %#v", issue.LabelIDs)
	}
	if got := DateKey(issue.TargetDate); got != "2026-03-01" {
		t.Fatalf("unexpected target date %q", got)
	}
	if issue.TargetDate.Hour() != 0 {
		t.Fatalf("expected date-only target, got %v", issue.TargetDate)
	}

	if _, err := NewIssue(IssueInput{ID: "i1", ProjectID: "p1", Name: "x", Priority: "critical"}, now); err != ErrInvalidPriority {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
	if _, err := NewIssue(IssueInput{ID: "i1", ProjectID: "p1", Name: "x", StateGroup: "doing"}, now); err != ErrInvalidStateGroup {
		t.Fatalf("expected ErrInvalidStateGroup, got %v", err)
	}
	if _, err := NewIssue(IssueInput{ID: "", ProjectID: "p1", Name: "x"}, now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestIssueApplyPatch(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	issue, err := NewIssue(IssueInput{
		ID:          "i1",
		ProjectID:   "p1",
		Name:        "x",
		StateID:     "todo",
		LabelIDs:    []string{"a", "c"},
		AssigneeIDs: []string{"u1"},
	}, now)
	if err != nil {
		t.Fatalf("NewIssue() error = %v", err)
	}

	order := 150.0
	state := "done"
	group := StateGroupCompleted
	priority := PriorityHigh
	later := now.Add(time.Hour)
	err = issue.ApplyPatch(IssuePatch{
		SortOrder:         &order,
		StateID:           &state,
		StateGroup:        &group,
		Priority:          &priority,
		RemoveLabelIDs:    []string{"a"},
		AddLabelIDs:       []string{"b"},
		RemoveAssigneeIDs: []string{"u1"},
	}, later)
	if err != nil {
		t.Fatalf("ApplyPatch() error = %v", err)
	}
	if issue.SortOrder != 150 || issue.StateID != "done" || issue.StateGroup != StateGroupCompleted || issue.Priority != PriorityHigh {
		t.Fatalf("unexpected patched issue %#v", issue)
	}
	if !slices.Equal(issue.LabelIDs, []string{"b", "c"}) {
		t.Fatalf("unexpected labels %#v", issue.LabelIDs)
	}
	if len(issue.AssigneeIDs) != 0 {
		t.Fatalf("expected assignees cleared, got %#v", issue.AssigneeIDs)
	}
	if !issue.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated_at bump, got %v", issue.UpdatedAt)
	}

	blank := " "
	if err := issue.ApplyPatch(IssuePatch{StateID: &blank}, later); err != ErrInvalidStateID {
		t.Fatalf("expected ErrInvalidStateID, got %v", err)
	}
}

func TestIssueCloneDoesNotAlias(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	issue := Issue{ID: "i1", LabelIDs: []string{"a"}, TargetDate: &due}
	clone := issue.Clone()
	clone.LabelIDs[0] = "z"
	*clone.TargetDate = due.AddDate(0, 0, 1)
	if issue.LabelIDs[0] != "a" || !issue.TargetDate.Equal(due) {
		t.Fatalf("clone aliased original: %#v", issue)
	}
}

func TestCatalogSortedStates(t *testing.T) {
	catalog := Catalog{States: []State{
		{ID: "done", Group: StateGroupCompleted, Sequence: 1},
		{ID: "review", Group: StateGroupStarted, Sequence: 2},
		{ID: "doing", Group: StateGroupStarted, Sequence: 1},
		{ID: "todo", Group: StateGroupUnstarted, Sequence: 1},
		{ID: "icebox", Group: StateGroupBacklog, Sequence: 9},
	}}
	got := make([]string, 0, len(catalog.States))
	for _, state := range catalog.SortedStates() {
		got = append(got, state.ID)
	}
	want := []string{"icebox", "todo", "doing", "review", "done"}
	if !slices.Equal(got, want) {
		t.Fatalf("SortedStates() = %v, want %v", got, want)
	}
	state, ok := catalog.DefaultState()
	if !ok || state.ID != "todo" {
		t.Fatalf("DefaultState() = %v, %v", state, ok)
	}
}

func TestScopeContainsAndValidate(t *testing.T) {
	issue := Issue{ID: "i1", ProjectID: "p1", CycleID: "c1", ModuleIDs: []string{"m1"}}
	cases := []struct {
		scope Scope
		want  bool
	}{
		{ProjectScope("p1"), true},
		{ProjectScope("p2"), false},
		{Scope{Kind: ScopeCycle, ID: "c1", ProjectID: "p1"}, true},
		{Scope{Kind: ScopeCycle, ID: "c2", ProjectID: "p1"}, false},
		{Scope{Kind: ScopeModule, ID: "m1", ProjectID: "p1"}, true},
		{Scope{Kind: ScopeView, ID: "v1", ProjectID: "p1"}, true},
	}
	for _, tc := range cases {
		if got := tc.scope.Contains(issue); got != tc.want {
			t.Fatalf("%s Contains() = %v, want %v", tc.scope.Key(), got, tc.want)
		}
	}
	if err := (Scope{Kind: "board", ID: "x", ProjectID: "p1"}).Validate(); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	if err := (Scope{Kind: ScopeProject, ID: "p2", ProjectID: "p1"}).Validate(); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for mismatched project scope, got %v", err)
	}
}
