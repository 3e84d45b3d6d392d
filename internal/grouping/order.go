package grouping

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/tavla/internal/domain"
)

// Comparator returns the within-bucket ordering for orderBy. Manual order is
// ascending sort_order; every other mode sorts by its field first and falls
// back to sort_order. Missing values sort last. Ties resolve by id.
func Comparator(orderBy domain.OrderBy) (func(a, b domain.Issue) int, error) {
	var primary func(a, b domain.Issue) int
	switch orderBy {
	case domain.OrderByManual, "":
		primary = nil
	case domain.OrderByCreatedDesc:
		primary = func(a, b domain.Issue) int { return compareTime(a.CreatedAt, b.CreatedAt, true) }
	case domain.OrderByCreatedAsc:
		primary = func(a, b domain.Issue) int { return compareTime(a.CreatedAt, b.CreatedAt, false) }
	case domain.OrderByUpdatedDesc:
		primary = func(a, b domain.Issue) int { return compareTime(a.UpdatedAt, b.UpdatedAt, true) }
	case domain.OrderByPriority:
		primary = func(a, b domain.Issue) int {
			return cmp.Compare(domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority))
		}
	case domain.OrderByStartDate:
		primary = func(a, b domain.Issue) int { return compareDate(a.StartDate, b.StartDate) }
	case domain.OrderByTargetDate:
		primary = func(a, b domain.Issue) int { return compareDate(a.TargetDate, b.TargetDate) }
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidOrderBy, orderBy)
	}
	return func(a, b domain.Issue) int {
		if primary != nil {
			if d := primary(a, b); d != 0 {
				return d
			}
		}
		if d := cmp.Compare(a.SortOrder, b.SortOrder); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	}, nil
}

// compareTime orders zero times last regardless of direction.
func compareTime(a, b time.Time, desc bool) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return 1
	case b.IsZero():
		return -1
	}
	if desc {
		return b.Compare(a)
	}
	return a.Compare(b)
}

func compareDate(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// keysFor returns the bucket keys an issue contributes to on axis. A nil
// result means the issue is omitted from the axis.
func keysFor(issue domain.Issue, axis domain.GroupBy, showEmpty bool) []string {
	switch axis {
	case domain.GroupByState:
		return []string{orNone(issue.StateID)}
	case domain.GroupByStateGroup:
		return []string{orNone(string(issue.StateGroup))}
	case domain.GroupByPriority:
		return []string{string(domain.NormalizePriority(issue.Priority))}
	case domain.GroupByCreatedBy:
		return []string{orNone(issue.CreatedBy)}
	case domain.GroupByTargetDate:
		return []string{orNone(domain.DateKey(issue.TargetDate))}
	case domain.GroupByLabels:
		return fanOut(issue.LabelIDs, showEmpty)
	case domain.GroupByAssignees:
		return fanOut(issue.AssigneeIDs, showEmpty)
	default:
		return []string{UngroupedKey}
	}
}

func orNone(v string) string {
	if v == "" {
		return domain.NoneKey
	}
	return v
}

func fanOut(values []string, showEmpty bool) []string {
	if len(values) > 0 {
		return values
	}
	if showEmpty {
		return []string{domain.NoneKey}
	}
	return nil
}

// canonicalKeys lists the known bucket keys for axis in display order. The
// second result reports whether an empty None bucket belongs to the axis when
// empty groups are shown.
func canonicalKeys(axis domain.GroupBy, catalog domain.Catalog) ([]string, bool) {
	switch axis {
	case domain.GroupByPriority:
		keys := make([]string, 0, 5)
		for _, p := range domain.Priorities() {
			keys = append(keys, string(p))
		}
		return keys, false
	case domain.GroupByStateGroup:
		keys := make([]string, 0, 5)
		for _, g := range domain.StateGroups() {
			keys = append(keys, string(g))
		}
		return keys, false
	case domain.GroupByState:
		states := catalog.SortedStates()
		keys := make([]string, 0, len(states))
		for _, s := range states {
			keys = append(keys, s.ID)
		}
		return keys, false
	case domain.GroupByLabels:
		labels := catalog.SortedLabels()
		keys := make([]string, 0, len(labels))
		for _, l := range labels {
			keys = append(keys, l.ID)
		}
		return keys, true
	case domain.GroupByAssignees, domain.GroupByCreatedBy:
		members := catalog.SortedMembers()
		keys := make([]string, 0, len(members))
		for _, m := range members {
			keys = append(keys, m.ID)
		}
		return keys, axis == domain.GroupByAssignees
	case domain.GroupByTargetDate:
		return nil, true
	default:
		return nil, false
	}
}

// orderKeys merges the canonical keys with the keys seen in the data: known
// keys first, then unknown keys lexically, then None.
func orderKeys(axis domain.GroupBy, catalog domain.Catalog, seen map[string]struct{}, showEmpty bool) []string {
	known, noneApplies := canonicalKeys(axis, catalog)
	out := make([]string, 0, len(known)+len(seen)+1)
	for _, key := range known {
		if _, ok := seen[key]; ok || showEmpty {
			out = append(out, key)
		}
	}
	var extra []string
	for key := range seen {
		if key == domain.NoneKey || slices.Contains(known, key) {
			continue
		}
		extra = append(extra, key)
	}
	slices.Sort(extra)
	out = append(out, extra...)
	if _, ok := seen[domain.NoneKey]; ok || (showEmpty && noneApplies) {
		out = append(out, domain.NoneKey)
	}
	return out
}
