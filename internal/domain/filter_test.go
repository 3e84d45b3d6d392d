package domain

import (
	"errors"
	"testing"
	"time"
)

func TestFilterStateNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   FilterState
		want FilterState
	}{
		{
			name: "kanban defaults group to state",
			in:   FilterState{GroupBy: "none", SubGroupBy: "priority", Layout: "kanban"},
			want: FilterState{GroupBy: GroupByState, SubGroupBy: GroupByPriority, OrderBy: OrderByManual, Layout: LayoutKanban},
		},
		{
			name: "list drops sub grouping",
			in:   FilterState{GroupBy: "priority", SubGroupBy: "state", Layout: "list"},
			want: FilterState{GroupBy: GroupByPriority, SubGroupBy: GroupByNone, OrderBy: OrderByManual, Layout: LayoutList},
		},
		{
			name: "empty group none",
			in:   FilterState{SubGroupBy: "labels", Layout: "list"},
			want: FilterState{GroupBy: GroupByNone, SubGroupBy: GroupByNone, OrderBy: OrderByManual, Layout: LayoutList},
		},
		{
			name: "calendar groups by target date",
			in:   FilterState{GroupBy: "priority", Layout: "calendar", OrderBy: "-created_at"},
			want: FilterState{GroupBy: GroupByTargetDate, SubGroupBy: GroupByNone, OrderBy: OrderByCreatedDesc, Layout: LayoutCalendar},
		},
		{
			name: "spreadsheet is flat",
			in:   FilterState{GroupBy: "state", SubGroupBy: "priority", Layout: "spreadsheet"},
			want: FilterState{GroupBy: GroupByNone, SubGroupBy: GroupByNone, OrderBy: OrderByManual, Layout: LayoutSpreadsheet},
		},
		{
			name: "same axis twice drops sub group",
			in:   FilterState{GroupBy: "state", SubGroupBy: "state", Layout: "kanban"},
			want: FilterState{GroupBy: GroupByState, SubGroupBy: GroupByNone, OrderBy: OrderByManual, Layout: LayoutKanban},
		},
		{
			name: "aliases",
			in:   FilterState{GroupBy: "state_detail.group", SubGroupBy: "assignee", Layout: "kanban", ShowEmptyGroups: true},
			want: FilterState{GroupBy: GroupByStateGroup, SubGroupBy: GroupByAssignees, OrderBy: OrderByManual, Layout: LayoutKanban, ShowEmptyGroups: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got.GroupBy != tc.want.GroupBy || got.SubGroupBy != tc.want.SubGroupBy ||
				got.OrderBy != tc.want.OrderBy || got.Layout != tc.want.Layout ||
				got.ShowEmptyGroups != tc.want.ShowEmptyGroups {
				t.Fatalf("Normalize() = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestFilterStateNormalizeRejectsUnknownValues(t *testing.T) {
	cases := []struct {
		in   FilterState
		want error
	}{
		{FilterState{GroupBy: "milestone"}, ErrInvalidGroupBy},
		{FilterState{GroupBy: "state", SubGroupBy: "sprint"}, ErrInvalidGroupBy},
		{FilterState{OrderBy: "random"}, ErrInvalidOrderBy},
		{FilterState{Layout: "timeline"}, ErrInvalidLayout},
		{FilterState{Filters: map[FilterField][]string{"estimate": {"3"}}}, ErrInvalidFilterField},
	}
	for _, tc := range cases {
		_, err := tc.in.Normalize()
		if !errors.Is(err, tc.want) {
			t.Fatalf("Normalize(%#v) error = %v, want %v", tc.in, err, tc.want)
		}
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	}
}

func TestFilterStateMatches(t *testing.T) {
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	issue := Issue{
		ID:          "i1",
		ProjectID:   "p1",
		StateID:     "todo",
		StateGroup:  StateGroupUnstarted,
		Priority:    PriorityHigh,
		LabelIDs:    []string{"bug", "ui"},
		AssigneeIDs: nil,
		CreatedBy:   "u1",
		TargetDate:  &due,
	}
	cases := []struct {
		name    string
		filters map[FilterField][]string
		want    bool
	}{
		{"no filters", nil, true},
		{"empty predicate", map[FilterField][]string{FieldPriority: {}}, true},
		{"priority hit", map[FilterField][]string{FieldPriority: {"high", "urgent"}}, true},
		{"priority miss", map[FilterField][]string{FieldPriority: {"low"}}, false},
		{"label overlap", map[FilterField][]string{FieldLabels: {"ui", "docs"}}, true},
		{"label miss", map[FilterField][]string{FieldLabels: {"docs"}}, false},
		{"unassigned", map[FilterField][]string{FieldAssignees: {NoneKey}}, true},
		{"state group and creator", map[FilterField][]string{FieldStateGroup: {"unstarted"}, FieldCreatedBy: {"u1"}}, true},
		{"date after", map[FilterField][]string{FieldTargetDate: {"2026-03-01;after"}}, true},
		{"date before", map[FilterField][]string{FieldTargetDate: {"2026-03-01;before"}}, false},
		{"exact date", map[FilterField][]string{FieldTargetDate: {"2026-03-10"}}, true},
		{"no start date", map[FilterField][]string{FieldStartDate: {NoneKey}}, true},
		{"cycle none", map[FilterField][]string{FieldCycle: {"c1"}}, false},
	}
	for _, tc := range cases {
		fs := FilterState{Filters: tc.filters}
		if got := fs.Matches(issue); got != tc.want {
			t.Fatalf("%s: Matches() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterStateCloneIsIndependent(t *testing.T) {
	fs := FilterState{Filters: map[FilterField][]string{FieldLabels: {"a"}}}
	clone := fs.Clone()
	clone.Filters[FieldLabels][0] = "b"
	clone.Filters[FieldPriority] = []string{"high"}
	if fs.Filters[FieldLabels][0] != "a" || len(fs.Filters) != 1 {
		t.Fatalf("clone shares state with original: %#v", fs.Filters)
	}
}
