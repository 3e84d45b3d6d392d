// Package grouping turns a flat issue collection into the ordered, bucketed
// structure a board or list renders.
package grouping

import (
	"slices"

	"github.com/hylla/tavla/internal/domain"
)

// UngroupedKey names the single bucket of a view with no grouping.
const UngroupedKey = "All Issues"

// Bucket is one ordered leaf list of issue ids.
type Bucket struct {
	Key      string   `json:"key" yaml:"key"`
	IssueIDs []string `json:"issue_ids" yaml:"issue_ids"`
}

// Lane is an outer sub-group holding its own inner buckets.
type Lane struct {
	Key    string   `json:"key" yaml:"key"`
	Groups []Bucket `json:"groups" yaml:"groups"`
}

// View is the grouped view model. Single-level views fill Groups; two-level
// views fill Lanes and leave Groups empty. ShowEmptyGroups records whether
// buckets without issues are kept.
type View struct {
	GroupBy         domain.GroupBy `json:"group_by" yaml:"group_by"`
	SubGroupBy      domain.GroupBy `json:"sub_group_by" yaml:"sub_group_by"`
	OrderBy         domain.OrderBy `json:"order_by" yaml:"order_by"`
	ShowEmptyGroups bool           `json:"show_empty_groups" yaml:"show_empty_groups"`
	Groups          []Bucket       `json:"groups,omitempty" yaml:"groups,omitempty"`
	Lanes           []Lane         `json:"lanes,omitempty" yaml:"lanes,omitempty"`
}

// IsSubGrouped reports whether the view has swim-lanes.
func (v View) IsSubGrouped() bool {
	return v.SubGroupBy != "" && v.SubGroupBy != domain.GroupByNone
}

// Leaf returns the ordered ids at laneKey/groupKey. laneKey is ignored for
// single-level views.
func (v View) Leaf(laneKey, groupKey string) ([]string, bool) {
	b := v.bucket(laneKey, groupKey)
	if b == nil {
		return nil, false
	}
	return b.IssueIDs, true
}

// Bucket returns a pointer to the leaf at laneKey/groupKey so callers holding
// a cloned view can rewrite it in place.
func (v *View) Bucket(laneKey, groupKey string) *Bucket {
	return v.bucket(laneKey, groupKey)
}

func (v *View) bucket(laneKey, groupKey string) *Bucket {
	groups := v.Groups
	if v.IsSubGrouped() {
		idx := slices.IndexFunc(v.Lanes, func(l Lane) bool { return l.Key == laneKey })
		if idx < 0 {
			return nil
		}
		groups = v.Lanes[idx].Groups
	}
	idx := slices.IndexFunc(groups, func(b Bucket) bool { return b.Key == groupKey })
	if idx < 0 {
		return nil
	}
	return &groups[idx]
}

// Leaves returns pointers to every leaf bucket in display order.
func (v *View) Leaves() []*Bucket {
	var out []*Bucket
	if v.IsSubGrouped() {
		for li := range v.Lanes {
			for gi := range v.Lanes[li].Groups {
				out = append(out, &v.Lanes[li].Groups[gi])
			}
		}
		return out
	}
	for gi := range v.Groups {
		out = append(out, &v.Groups[gi])
	}
	return out
}

// IssueIDs returns every distinct issue id in display order.
func (v View) IssueIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, leaf := range v.Leaves() {
		for _, id := range leaf.IssueIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy.
func (v View) Clone() View {
	out := View{GroupBy: v.GroupBy, SubGroupBy: v.SubGroupBy, OrderBy: v.OrderBy, ShowEmptyGroups: v.ShowEmptyGroups}
	if v.Groups != nil {
		out.Groups = cloneBuckets(v.Groups)
	}
	if v.Lanes != nil {
		out.Lanes = make([]Lane, len(v.Lanes))
		for i, lane := range v.Lanes {
			out.Lanes[i] = Lane{Key: lane.Key, Groups: cloneBuckets(lane.Groups)}
		}
	}
	return out
}

// DropEmpty removes buckets left empty by an edit, mirroring what a regroup
// yields when empty groups are hidden. Swim-lane columns are dropped only
// when empty in every lane.
func (v *View) DropEmpty() {
	if v.ShowEmptyGroups || v.GroupBy == "" || v.GroupBy == domain.GroupByNone {
		return
	}
	nonEmpty := func(b Bucket) bool { return len(b.IssueIDs) > 0 }
	if !v.IsSubGrouped() {
		v.Groups = slices.DeleteFunc(v.Groups, func(b Bucket) bool { return !nonEmpty(b) })
		return
	}
	v.Lanes = slices.DeleteFunc(v.Lanes, func(l Lane) bool { return !slices.ContainsFunc(l.Groups, nonEmpty) })
	used := map[string]bool{}
	for _, lane := range v.Lanes {
		for _, b := range lane.Groups {
			if nonEmpty(b) {
				used[b.Key] = true
			}
		}
	}
	for i := range v.Lanes {
		v.Lanes[i].Groups = slices.DeleteFunc(v.Lanes[i].Groups, func(b Bucket) bool { return !used[b.Key] })
	}
}

func cloneBuckets(in []Bucket) []Bucket {
	out := make([]Bucket, len(in))
	for i, b := range in {
		out[i] = Bucket{Key: b.Key, IssueIDs: slices.Clone(b.IssueIDs)}
	}
	return out
}
