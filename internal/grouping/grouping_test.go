package grouping

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hylla/tavla/internal/domain"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testCatalog() domain.Catalog {
	return domain.Catalog{
		States: []domain.State{
			{ID: "done", Name: "Done", Group: domain.StateGroupCompleted, Sequence: 1},
			{ID: "todo", Name: "Todo", Group: domain.StateGroupUnstarted, Sequence: 1},
			{ID: "doing", Name: "Doing", Group: domain.StateGroupStarted, Sequence: 1},
		},
		Labels: []domain.Label{
			{ID: "ui", Name: "UI", SortOrder: 2},
			{ID: "bug", Name: "Bug", SortOrder: 1},
		},
		Members: []domain.Member{
			{ID: "u2", DisplayName: "Zed"},
			{ID: "u1", DisplayName: "Ada"},
		},
	}
}

func testIssues() []domain.Issue {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return []domain.Issue{
		{ID: "1", StateID: "todo", StateGroup: domain.StateGroupUnstarted, Priority: domain.PriorityLow, LabelIDs: []string{"bug"}, CreatedBy: "u1", SortOrder: 100, CreatedAt: base, TargetDate: day(2026, 3, 2)},
		{ID: "2", StateID: "todo", StateGroup: domain.StateGroupUnstarted, Priority: domain.PriorityUrgent, LabelIDs: []string{"bug", "ui"}, AssigneeIDs: []string{"u2"}, CreatedBy: "u2", SortOrder: 200, CreatedAt: base.Add(time.Hour)},
		{ID: "3", StateID: "done", StateGroup: domain.StateGroupCompleted, Priority: domain.PriorityNone, CreatedBy: "u1", SortOrder: 100, CreatedAt: base.Add(2 * time.Hour), TargetDate: day(2026, 3, 1)},
		{ID: "4", StateID: "doing", StateGroup: domain.StateGroupStarted, Priority: domain.PriorityHigh, AssigneeIDs: []string{"u1", "u2"}, CreatedBy: "u2", SortOrder: 50},
	}
}

func bucketKeys(buckets []Bucket) []string {
	out := make([]string, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.Key)
	}
	return out
}

func TestGroupUngroupedOrdersBySortOrderThenID(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByNone, SubGroupBy: domain.GroupByPriority})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want := View{
		GroupBy:    domain.GroupByNone,
		SubGroupBy: domain.GroupByNone,
		OrderBy:    domain.OrderByManual,
		Groups:     []Bucket{{Key: UngroupedKey, IssueIDs: []string{"4", "1", "3", "2"}}},
	}
	if diff := cmp.Diff(want, view); diff != "" {
		t.Fatalf("Group() mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByPriorityUsesCanonicalOrder(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByPriority, ShowEmptyGroups: true})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want := []Bucket{
		{Key: "urgent", IssueIDs: []string{"2"}},
		{Key: "high", IssueIDs: []string{"4"}},
		{Key: "medium", IssueIDs: []string{}},
		{Key: "low", IssueIDs: []string{"1"}},
		{Key: "none", IssueIDs: []string{"3"}},
	}
	if diff := cmp.Diff(want, view.Groups); diff != "" {
		t.Fatalf("priority buckets mismatch (-want +got):\n%s", diff)
	}

	view, err = Group(testIssues(), Options{GroupBy: domain.GroupByPriority})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if got := bucketKeys(view.Groups); !slices.Equal(got, []string{"urgent", "high", "low", "none"}) {
		t.Fatalf("expected empty medium dropped, got %v", got)
	}
}

func TestGroupByStateGroupAndState(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByStateGroup, ShowEmptyGroups: true})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if got := bucketKeys(view.Groups); !slices.Equal(got, []string{"backlog", "unstarted", "started", "completed", "cancelled"}) {
		t.Fatalf("unexpected state group order %v", got)
	}

	view, err = Group(testIssues(), Options{GroupBy: domain.GroupByState, Catalog: testCatalog()})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want := []Bucket{
		{Key: "todo", IssueIDs: []string{"1", "2"}},
		{Key: "doing", IssueIDs: []string{"4"}},
		{Key: "done", IssueIDs: []string{"3"}},
	}
	if diff := cmp.Diff(want, view.Groups); diff != "" {
		t.Fatalf("state buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupMissingStateGoesToNoneLast(t *testing.T) {
	issues := append(testIssues(), domain.Issue{ID: "5", SortOrder: 1}, domain.Issue{ID: "6", StateID: "ghost", SortOrder: 1})
	view, err := Group(issues, Options{GroupBy: domain.GroupByState, Catalog: testCatalog()})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if got := bucketKeys(view.Groups); !slices.Equal(got, []string{"todo", "doing", "done", "ghost", domain.NoneKey}) {
		t.Fatalf("unexpected key order %v", got)
	}
}

func TestGroupByLabelsFansOut(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByLabels, Catalog: testCatalog()})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want := []Bucket{
		{Key: "bug", IssueIDs: []string{"1", "2"}},
		{Key: "ui", IssueIDs: []string{"2"}},
	}
	if diff := cmp.Diff(want, view.Groups); diff != "" {
		t.Fatalf("label buckets mismatch (-want +got):\n%s", diff)
	}

	view, err = Group(testIssues(), Options{GroupBy: domain.GroupByLabels, Catalog: testCatalog(), ShowEmptyGroups: true})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want = append(want, Bucket{Key: domain.NoneKey, IssueIDs: []string{"4", "3"}})
	if diff := cmp.Diff(want, view.Groups); diff != "" {
		t.Fatalf("label buckets with None mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByAssigneesUsesMemberOrder(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByAssignees, Catalog: testCatalog(), ShowEmptyGroups: true})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want := []Bucket{
		{Key: "u1", IssueIDs: []string{"4"}},
		{Key: "u2", IssueIDs: []string{"4", "2"}},
		{Key: domain.NoneKey, IssueIDs: []string{"1", "3"}},
	}
	if diff := cmp.Diff(want, view.Groups); diff != "" {
		t.Fatalf("assignee buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByTargetDateUsesCalendarKeys(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByTargetDate})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	want := []Bucket{
		{Key: "2026-03-01", IssueIDs: []string{"3"}},
		{Key: "2026-03-02", IssueIDs: []string{"1"}},
		{Key: domain.NoneKey, IssueIDs: []string{"4", "2"}},
	}
	if diff := cmp.Diff(want, view.Groups); diff != "" {
		t.Fatalf("calendar buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupOrderModes(t *testing.T) {
	cases := []struct {
		orderBy domain.OrderBy
		want    []string
	}{
		{domain.OrderByManual, []string{"4", "1", "3", "2"}},
		{domain.OrderByCreatedDesc, []string{"3", "2", "1", "4"}},
		{domain.OrderByCreatedAsc, []string{"1", "2", "3", "4"}},
		{domain.OrderByPriority, []string{"2", "4", "1", "3"}},
		{domain.OrderByTargetDate, []string{"3", "1", "4", "2"}},
	}
	for _, tc := range cases {
		view, err := Group(testIssues(), Options{GroupBy: domain.GroupByNone, OrderBy: tc.orderBy})
		if err != nil {
			t.Fatalf("Group(%s) error = %v", tc.orderBy, err)
		}
		if got := view.Groups[0].IssueIDs; !slices.Equal(got, tc.want) {
			t.Fatalf("Group(%s) order = %v, want %v", tc.orderBy, got, tc.want)
		}
	}
}

func TestGroupRejectsUnknownConfiguration(t *testing.T) {
	if _, err := Group(testIssues(), Options{GroupBy: "milestone"}); !errors.Is(err, domain.ErrInvalidGroupBy) {
		t.Fatalf("expected ErrInvalidGroupBy, got %v", err)
	}
	if _, err := Group(testIssues(), Options{GroupBy: domain.GroupByState, SubGroupBy: "estimate"}); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := Group(testIssues(), Options{OrderBy: "random"}); !errors.Is(err, domain.ErrInvalidOrderBy) {
		t.Fatalf("expected ErrInvalidOrderBy, got %v", err)
	}
}

func TestGroupSingleValuedAxesPlaceEachIssueOnce(t *testing.T) {
	axes := []domain.GroupBy{
		domain.GroupByState,
		domain.GroupByStateGroup,
		domain.GroupByPriority,
		domain.GroupByCreatedBy,
		domain.GroupByTargetDate,
	}
	issues := testIssues()
	for _, axis := range axes {
		view, err := Group(issues, Options{GroupBy: axis, Catalog: testCatalog()})
		if err != nil {
			t.Fatalf("Group(%s) error = %v", axis, err)
		}
		counts := map[string]int{}
		for _, b := range view.Groups {
			for _, id := range b.IssueIDs {
				counts[id]++
			}
		}
		for _, issue := range issues {
			if counts[issue.ID] != 1 {
				t.Fatalf("Group(%s) placed %s %d times", axis, issue.ID, counts[issue.ID])
			}
		}
	}
}

func TestGroupSubGroupLeavesMatchSingleLevel(t *testing.T) {
	opts := Options{GroupBy: domain.GroupByState, SubGroupBy: domain.GroupByAssignees, Catalog: testCatalog()}
	view, err := Group(testIssues(), opts)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	flat, err := Group(testIssues(), Options{GroupBy: domain.GroupByState, Catalog: testCatalog()})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	lanes, err := Group(testIssues(), Options{GroupBy: domain.GroupByAssignees, Catalog: testCatalog()})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if got, want := bucketKeys(laneBuckets(view.Lanes)), bucketKeys(lanes.Groups); !slices.Equal(got, want) {
		t.Fatalf("lane keys = %v, want %v", got, want)
	}
	for _, lane := range view.Lanes {
		members, _ := lanes.Leaf("", lane.Key)
		if got, want := bucketKeys(lane.Groups), bucketKeys(flat.Groups); !slices.Equal(got, want) {
			t.Fatalf("lane %s columns = %v, want %v", lane.Key, got, want)
		}
		for _, leaf := range lane.Groups {
			column, _ := flat.Leaf("", leaf.Key)
			want := []string{}
			for _, id := range column {
				if slices.Contains(members, id) {
					want = append(want, id)
				}
			}
			if diff := cmp.Diff(want, leaf.IssueIDs, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("lane %s column %s mismatch (-want +got):\n%s", lane.Key, leaf.Key, diff)
			}
		}
	}
}

func laneBuckets(lanes []Lane) []Bucket {
	out := make([]Bucket, 0, len(lanes))
	for _, l := range lanes {
		out = append(out, Bucket{Key: l.Key})
	}
	return out
}

func TestBuildAppliesFiltersAndLayout(t *testing.T) {
	fs := domain.FilterState{
		Filters: map[domain.FilterField][]string{domain.FieldCreatedBy: {"u1"}},
		GroupBy: domain.GroupByPriority,
		Layout:  domain.LayoutCalendar,
	}
	view, err := Build(testIssues(), fs, testCatalog())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if view.GroupBy != domain.GroupByTargetDate {
		t.Fatalf("expected calendar grouping, got %q", view.GroupBy)
	}
	if got := view.IssueIDs(); !slices.Equal(got, []string{"3", "1"}) {
		t.Fatalf("unexpected filtered ids %v", got)
	}

	if _, err := Build(testIssues(), domain.FilterState{Layout: "timeline"}, testCatalog()); !errors.Is(err, domain.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
}

func TestViewCloneIsDeep(t *testing.T) {
	view, err := Group(testIssues(), Options{GroupBy: domain.GroupByState, SubGroupBy: domain.GroupByPriority, Catalog: testCatalog()})
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	clone := view.Clone()
	leaf := clone.Bucket("urgent", "todo")
	if leaf == nil {
		t.Fatal("expected urgent/todo leaf")
	}
	leaf.IssueIDs[0] = "x"
	if got, _ := view.Leaf("urgent", "todo"); got[0] != "2" {
		t.Fatalf("clone aliased original leaf: %v", got)
	}
}
