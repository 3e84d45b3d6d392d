package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// NoneKey is the sentinel bucket and filter value for a missing field value.
const NoneKey = "None"

// GroupBy names the issue field used to bucket a view.
type GroupBy string

const (
	GroupByNone       GroupBy = "none"
	GroupByState      GroupBy = "state"
	GroupByStateGroup GroupBy = "state_group"
	GroupByPriority   GroupBy = "priority"
	GroupByLabels     GroupBy = "labels"
	GroupByAssignees  GroupBy = "assignees"
	GroupByCreatedBy  GroupBy = "created_by"
	GroupByTargetDate GroupBy = "target_date"
)

var validGroupBys = []GroupBy{
	GroupByNone,
	GroupByState,
	GroupByStateGroup,
	GroupByPriority,
	GroupByLabels,
	GroupByAssignees,
	GroupByCreatedBy,
	GroupByTargetDate,
}

var groupByAliases = map[string]GroupBy{
	"":                   GroupByNone,
	"null":               GroupByNone,
	"label":              GroupByLabels,
	"assignee":           GroupByAssignees,
	"state_detail.group": GroupByStateGroup,
}

// ParseGroupBy canonicalizes raw, rejecting unknown values.
func ParseGroupBy(raw string) (GroupBy, error) {
	key := strings.TrimSpace(strings.ToLower(raw))
	if alias, ok := groupByAliases[key]; ok {
		return alias, nil
	}
	if g := GroupBy(key); slices.Contains(validGroupBys, g) {
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGroupBy, raw)
}

// IsMultiValued reports whether an issue can hold several values on the axis.
func (g GroupBy) IsMultiValued() bool {
	return g == GroupByLabels || g == GroupByAssignees
}

// OrderBy names the within-bucket ordering mode.
type OrderBy string

const (
	OrderByManual      OrderBy = "sort_order"
	OrderByCreatedDesc OrderBy = "-created_at"
	OrderByCreatedAsc  OrderBy = "created_at"
	OrderByUpdatedDesc OrderBy = "-updated_at"
	OrderByPriority    OrderBy = "priority"
	OrderByStartDate   OrderBy = "start_date"
	OrderByTargetDate  OrderBy = "target_date"
)

var validOrderBys = []OrderBy{
	OrderByManual,
	OrderByCreatedDesc,
	OrderByCreatedAsc,
	OrderByUpdatedDesc,
	OrderByPriority,
	OrderByStartDate,
	OrderByTargetDate,
}

// ParseOrderBy canonicalizes raw; empty means manual ordering.
func ParseOrderBy(raw string) (OrderBy, error) {
	key := strings.TrimSpace(strings.ToLower(raw))
	if key == "" || key == "manual" {
		return OrderByManual, nil
	}
	if o := OrderBy(key); slices.Contains(validOrderBys, o) {
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrderBy, raw)
}

// Layout names the presentation mode a filter state is built for.
type Layout string

const (
	LayoutList        Layout = "list"
	LayoutKanban      Layout = "kanban"
	LayoutCalendar    Layout = "calendar"
	LayoutSpreadsheet Layout = "spreadsheet"
	LayoutGantt       Layout = "gantt"
)

var validLayouts = []Layout{LayoutList, LayoutKanban, LayoutCalendar, LayoutSpreadsheet, LayoutGantt}

// ParseLayout canonicalizes raw; empty means list.
func ParseLayout(raw string) (Layout, error) {
	key := strings.TrimSpace(strings.ToLower(raw))
	if key == "" {
		return LayoutList, nil
	}
	if l := Layout(key); slices.Contains(validLayouts, l) {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLayout, raw)
}

// FilterField names an issue attribute that can restrict a view.
type FilterField string

const (
	FieldState      FilterField = "state"
	FieldStateGroup FilterField = "state_group"
	FieldPriority   FilterField = "priority"
	FieldLabels     FilterField = "labels"
	FieldAssignees  FilterField = "assignees"
	FieldCreatedBy  FilterField = "created_by"
	FieldCycle      FilterField = "cycle"
	FieldModule     FilterField = "module"
	FieldStartDate  FilterField = "start_date"
	FieldTargetDate FilterField = "target_date"
)

var validFilterFields = []FilterField{
	FieldState,
	FieldStateGroup,
	FieldPriority,
	FieldLabels,
	FieldAssignees,
	FieldCreatedBy,
	FieldCycle,
	FieldModule,
	FieldStartDate,
	FieldTargetDate,
}

// FilterState is the per-view selection of predicates and display options.
type FilterState struct {
	Filters         map[FilterField][]string `json:"filters,omitempty" yaml:"filters,omitempty"`
	GroupBy         GroupBy                  `json:"group_by" yaml:"group_by"`
	SubGroupBy      GroupBy                  `json:"sub_group_by" yaml:"sub_group_by"`
	OrderBy         OrderBy                  `json:"order_by" yaml:"order_by"`
	Layout          Layout                   `json:"layout" yaml:"layout"`
	ShowEmptyGroups bool                     `json:"show_empty_groups" yaml:"show_empty_groups"`
}

// Normalize canonicalizes every field and enforces layout constraints.
// Unknown values are configuration errors.
func (fs FilterState) Normalize() (FilterState, error) {
	var err error
	out := FilterState{ShowEmptyGroups: fs.ShowEmptyGroups}
	if out.GroupBy, err = ParseGroupBy(string(fs.GroupBy)); err != nil {
		return FilterState{}, err
	}
	if out.SubGroupBy, err = ParseGroupBy(string(fs.SubGroupBy)); err != nil {
		return FilterState{}, fmt.Errorf("sub_group_by: %w", err)
	}
	if out.OrderBy, err = ParseOrderBy(string(fs.OrderBy)); err != nil {
		return FilterState{}, err
	}
	if out.Layout, err = ParseLayout(string(fs.Layout)); err != nil {
		return FilterState{}, err
	}

	switch out.Layout {
	case LayoutList:
		out.SubGroupBy = GroupByNone
	case LayoutKanban:
		if out.GroupBy == GroupByNone {
			out.GroupBy = GroupByState
		}
	case LayoutCalendar:
		out.GroupBy = GroupByTargetDate
		out.SubGroupBy = GroupByNone
	case LayoutSpreadsheet, LayoutGantt:
		out.GroupBy = GroupByNone
		out.SubGroupBy = GroupByNone
	}
	if out.GroupBy == GroupByNone || out.SubGroupBy == out.GroupBy {
		out.SubGroupBy = GroupByNone
	}

	if len(fs.Filters) > 0 {
		out.Filters = make(map[FilterField][]string, len(fs.Filters))
		for field, values := range fs.Filters {
			field = FilterField(strings.TrimSpace(strings.ToLower(string(field))))
			if !slices.Contains(validFilterFields, field) {
				return FilterState{}, fmt.Errorf("%w: %q", ErrInvalidFilterField, field)
			}
			values = NormalizeIDs(values)
			if len(values) == 0 {
				continue
			}
			out.Filters[field] = values
		}
		if len(out.Filters) == 0 {
			out.Filters = nil
		}
	}
	return out, nil
}

// Clone returns a copy that does not share the filter map.
func (fs FilterState) Clone() FilterState {
	out := fs
	if fs.Filters != nil {
		out.Filters = make(map[FilterField][]string, len(fs.Filters))
		for field, values := range fs.Filters {
			out.Filters[field] = slices.Clone(values)
		}
	}
	return out
}

// Matches reports whether issue passes every predicate. Absent or empty
// predicates do not restrict.
func (fs FilterState) Matches(issue Issue) bool {
	for field, allowed := range fs.Filters {
		if len(allowed) == 0 {
			continue
		}
		if !matchField(field, allowed, issue) {
			return false
		}
	}
	return true
}

func matchField(field FilterField, allowed []string, issue Issue) bool {
	switch field {
	case FieldState:
		return matchOne(allowed, issue.StateID)
	case FieldStateGroup:
		return matchOne(allowed, string(issue.StateGroup))
	case FieldPriority:
		return matchOne(allowed, string(NormalizePriority(issue.Priority)))
	case FieldCreatedBy:
		return matchOne(allowed, issue.CreatedBy)
	case FieldCycle:
		return matchOne(allowed, issue.CycleID)
	case FieldLabels:
		return matchAny(allowed, issue.LabelIDs)
	case FieldAssignees:
		return matchAny(allowed, issue.AssigneeIDs)
	case FieldModule:
		return matchAny(allowed, issue.ModuleIDs)
	case FieldStartDate:
		return matchDate(allowed, issue.StartDate)
	case FieldTargetDate:
		return matchDate(allowed, issue.TargetDate)
	default:
		return true
	}
}

func matchOne(allowed []string, value string) bool {
	if value == "" {
		return slices.Contains(allowed, NoneKey)
	}
	return slices.Contains(allowed, value)
}

func matchAny(allowed []string, values []string) bool {
	if len(values) == 0 {
		return slices.Contains(allowed, NoneKey)
	}
	for _, v := range values {
		if slices.Contains(allowed, v) {
			return true
		}
	}
	return false
}

// matchDate accepts exact dates, None, and inclusive "YYYY-MM-DD;after" or
// "YYYY-MM-DD;before" bounds.
func matchDate(allowed []string, value *time.Time) bool {
	if value == nil {
		return slices.Contains(allowed, NoneKey)
	}
	key := DateKey(value)
	for _, raw := range allowed {
		date, bound, _ := strings.Cut(raw, ";")
		switch strings.ToLower(bound) {
		case "":
			if date == key {
				return true
			}
		case "after":
			if key >= date {
				return true
			}
		case "before":
			if key <= date {
				return true
			}
		}
	}
	return false
}
