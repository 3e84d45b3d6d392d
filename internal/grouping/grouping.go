package grouping

import (
	"fmt"
	"slices"

	"github.com/hylla/tavla/internal/domain"
)

// Options selects how Group buckets and orders issues.
type Options struct {
	GroupBy         domain.GroupBy
	SubGroupBy      domain.GroupBy
	OrderBy         domain.OrderBy
	ShowEmptyGroups bool
	Catalog         domain.Catalog
}

// Group buckets issues by opts.GroupBy, optionally splits each bucket into
// swim-lanes by opts.SubGroupBy, and orders every leaf. Unknown axes or
// ordering modes are configuration errors.
func Group(issues []domain.Issue, opts Options) (View, error) {
	groupBy, err := domain.ParseGroupBy(string(opts.GroupBy))
	if err != nil {
		return View{}, err
	}
	subGroupBy, err := domain.ParseGroupBy(string(opts.SubGroupBy))
	if err != nil {
		return View{}, fmt.Errorf("sub_group_by: %w", err)
	}
	orderBy, err := domain.ParseOrderBy(string(opts.OrderBy))
	if err != nil {
		return View{}, err
	}
	less, err := Comparator(orderBy)
	if err != nil {
		return View{}, err
	}
	if groupBy == domain.GroupByNone || subGroupBy == groupBy {
		subGroupBy = domain.GroupByNone
	}

	sorted := slices.Clone(issues)
	slices.SortStableFunc(sorted, less)

	view := View{GroupBy: groupBy, SubGroupBy: subGroupBy, OrderBy: orderBy, ShowEmptyGroups: opts.ShowEmptyGroups}
	if groupBy == domain.GroupByNone {
		ids := make([]string, 0, len(sorted))
		for _, issue := range sorted {
			ids = append(ids, issue.ID)
		}
		view.Groups = []Bucket{{Key: UngroupedKey, IssueIDs: ids}}
		return view, nil
	}

	groups := bucketize(sorted, groupBy, opts.Catalog, opts.ShowEmptyGroups, nil)
	if subGroupBy == domain.GroupByNone {
		view.Groups = groups
		return view, nil
	}

	columns := make([]string, 0, len(groups))
	for _, b := range groups {
		columns = append(columns, b.Key)
	}
	byID := make(map[string]domain.Issue, len(sorted))
	for _, issue := range sorted {
		byID[issue.ID] = issue
	}
	lanes := bucketize(sorted, subGroupBy, opts.Catalog, opts.ShowEmptyGroups, nil)
	view.Lanes = make([]Lane, 0, len(lanes))
	for _, lane := range lanes {
		members := make([]domain.Issue, 0, len(lane.IssueIDs))
		for _, id := range lane.IssueIDs {
			members = append(members, byID[id])
		}
		view.Lanes = append(view.Lanes, Lane{
			Key:    lane.Key,
			Groups: bucketize(members, groupBy, opts.Catalog, opts.ShowEmptyGroups, columns),
		})
	}
	return view, nil
}

// bucketize distributes already-sorted issues over the keys of axis. When
// fixedKeys is set it decides the bucket list exactly.
func bucketize(sorted []domain.Issue, axis domain.GroupBy, catalog domain.Catalog, showEmpty bool, fixedKeys []string) []Bucket {
	members := map[string][]string{}
	seen := map[string]struct{}{}
	for _, issue := range sorted {
		for _, key := range keysFor(issue, axis, showEmpty) {
			members[key] = append(members[key], issue.ID)
			seen[key] = struct{}{}
		}
	}
	keys := fixedKeys
	if keys == nil {
		keys = orderKeys(axis, catalog, seen, showEmpty)
	}
	out := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		ids := members[key]
		if ids == nil {
			ids = []string{}
		}
		out = append(out, Bucket{Key: key, IssueIDs: ids})
	}
	return out
}

// Filter returns the issues matching every predicate of fs.
func Filter(issues []domain.Issue, fs domain.FilterState) []domain.Issue {
	out := make([]domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if fs.Matches(issue) {
			out = append(out, issue)
		}
	}
	return out
}

// Build normalizes fs, filters issues and groups the result.
func Build(issues []domain.Issue, fs domain.FilterState, catalog domain.Catalog) (View, error) {
	normalized, err := fs.Normalize()
	if err != nil {
		return View{}, err
	}
	return Group(Filter(issues, normalized), Options{
		GroupBy:         normalized.GroupBy,
		SubGroupBy:      normalized.SubGroupBy,
		OrderBy:         normalized.OrderBy,
		ShowEmptyGroups: normalized.ShowEmptyGroups,
		Catalog:         catalog,
	})
}
