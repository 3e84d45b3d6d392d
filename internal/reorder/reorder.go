// Package reorder resolves a drag from one grouped-view position to another
// into a local view patch and the partial update that persists it.
package reorder

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hylla/tavla/internal/domain"
	"github.com/hylla/tavla/internal/grouping"
)

// DefaultSpacing is the sort_order distance between a new edge position and
// its single neighbor.
const DefaultSpacing = 65535.0

// DefaultMinGap is the neighbor distance below which a bucket should be
// respaced.
const DefaultMinGap = 1e-3

var (
	ErrStaleDrag      = errors.New("stale drag")
	ErrDisallowedMove = errors.New("disallowed move")
)

// Location addresses one slot of a grouped view. LaneKey is empty for views
// without swim-lanes. A destination with Trash set is the removal zone.
type Location struct {
	LaneKey  string
	GroupKey string
	Index    int
	Trash    bool
}

// IssueLookup resolves issue ids to current records.
type IssueLookup interface {
	GetByID(id string) (domain.Issue, bool)
}

// Options tunes Resolve. Matches, when set, is the predicate that admits an
// issue into the view; a moved issue that stops matching leaves every bucket.
type Options struct {
	Spacing float64
	MinGap  float64
	Catalog domain.Catalog
	Now     time.Time
	Matches func(domain.Issue) bool
}

func (o Options) withDefaults() Options {
	if o.Spacing <= 0 {
		o.Spacing = DefaultSpacing
	}
	if o.MinGap <= 0 {
		o.MinGap = DefaultMinGap
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	return o
}

// Kind classifies a resolution.
type Kind string

const (
	KindNoop   Kind = "noop"
	KindUpdate Kind = "update"
	KindRemove Kind = "remove"
)

// UpdatePayload is the partial update handed to the issue update collaborator.
type UpdatePayload struct {
	ProjectID string
	IssueID   string
	Patch     domain.IssuePatch
}

// RemovalIntent asks the removal collaborator to drop the issue from scope.
type RemovalIntent struct {
	ProjectID string
	IssueID   string
}

// Resolution carries the local view patch together with the persistence
// request. Both are set or neither is. Issue is the record as it will look
// once Update is applied, including the state group derived from a new state.
type Resolution struct {
	Kind             Kind
	IssueID          string
	View             grouping.View
	Issue            domain.Issue
	Update           UpdatePayload
	Removal          RemovalIntent
	NeedsRenormalize bool
}

// IsNoop reports whether nothing should change.
func (r Resolution) IsNoop() bool {
	return r.Kind == "" || r.Kind == KindNoop
}

var noop = Resolution{Kind: KindNoop}

// Resolve computes the outcome of dragging the issue at src to dst within
// view. A source that no longer addresses an issue yields ErrStaleDrag, and a
// cross-bucket move on an axis that cannot be rewritten yields
// ErrDisallowedMove; both come with a no-op resolution.
func Resolve(src, dst Location, view grouping.View, lookup IssueLookup, opts Options) (Resolution, error) {
	opts = opts.withDefaults()
	if !view.IsSubGrouped() {
		src.LaneKey, dst.LaneKey = "", ""
	}
	if src == dst {
		return noop, nil
	}

	srcLeaf, ok := view.Leaf(src.LaneKey, src.GroupKey)
	if !ok || src.Index < 0 || src.Index >= len(srcLeaf) {
		return noop, fmt.Errorf("%w: no issue at %s/%s[%d]", ErrStaleDrag, src.LaneKey, src.GroupKey, src.Index)
	}
	issueID := srcLeaf[src.Index]
	issue, ok := lookup.GetByID(issueID)
	if !ok {
		return noop, fmt.Errorf("%w: issue %s is no longer loaded", ErrStaleDrag, issueID)
	}

	if dst.Trash {
		patched := view.Clone()
		for _, leaf := range patched.Leaves() {
			leaf.IssueIDs = slices.DeleteFunc(leaf.IssueIDs, func(id string) bool { return id == issueID })
		}
		patched.DropEmpty()
		return Resolution{
			Kind:    KindRemove,
			IssueID: issueID,
			View:    patched,
			Issue:   issue,
			Removal: RemovalIntent{ProjectID: issue.ProjectID, IssueID: issueID},
		}, nil
	}

	dstLeaf, ok := view.Leaf(dst.LaneKey, dst.GroupKey)
	if !ok {
		return noop, fmt.Errorf("%w: unknown destination %s/%s", ErrStaleDrag, dst.LaneKey, dst.GroupKey)
	}

	groupChanged := src.GroupKey != dst.GroupKey
	laneChanged := view.IsSubGrouped() && src.LaneKey != dst.LaneKey

	var patch domain.IssuePatch
	groupKeys := keysHolding(view, issueID, false)
	laneKeys := keysHolding(view, issueID, true)
	if groupChanged {
		next, err := applyAxisChange(&patch, view.GroupBy, src.GroupKey, dst.GroupKey, issue)
		if err != nil {
			return noop, err
		}
		groupKeys = moveKey(groupKeys, src.GroupKey, dst.GroupKey, next)
	}
	if laneChanged {
		next, err := applyAxisChange(&patch, view.SubGroupBy, src.LaneKey, dst.LaneKey, issue)
		if err != nil {
			return noop, err
		}
		laneKeys = moveKey(laneKeys, src.LaneKey, dst.LaneKey, next)
	}

	manual := view.OrderBy == domain.OrderByManual || view.OrderBy == ""
	neighbors := slices.DeleteFunc(slices.Clone(dstLeaf), func(id string) bool { return id == issueID })
	index := min(max(dst.Index, 0), len(neighbors))
	needsRenormalize := false
	if manual {
		if !groupChanged && !laneChanged && index == src.Index {
			return noop, nil
		}
		order, crowded, err := sortOrderAt(neighbors, index, lookup, opts)
		if err != nil {
			return noop, err
		}
		patch.SortOrder = &order
		needsRenormalize = crowded
	} else if !groupChanged && !laneChanged {
		// Non-manual orderings decide position themselves.
		return noop, nil
	}
	if patch.IsEmpty() {
		return noop, nil
	}

	updated := issue.Clone()
	if err := updated.ApplyPatch(patch, opts.Now); err != nil {
		return noop, fmt.Errorf("apply drag patch: %w", err)
	}
	if patch.StateID != nil {
		if state, ok := opts.Catalog.StateByID(*patch.StateID); ok {
			updated.StateGroup = state.Group
		}
	}
	if opts.Matches != nil && !opts.Matches(updated) {
		groupKeys, laneKeys = nil, nil
	}

	less, err := grouping.Comparator(view.OrderBy)
	if err != nil {
		return noop, err
	}
	patched := view.Clone()
	placeIssue(&patched, updated, groupKeys, laneKeys, dst, index, manual, lookup, less)
	patched.DropEmpty()

	return Resolution{
		Kind:             KindUpdate,
		IssueID:          issueID,
		View:             patched,
		Issue:            updated,
		Update:           UpdatePayload{ProjectID: issue.ProjectID, IssueID: issueID, Patch: patch},
		NeedsRenormalize: needsRenormalize,
	}, nil
}

// sortOrderAt computes the sort_order for a slot between neighbors[index-1]
// and neighbors[index]. The second result reports a gap too small to split.
func sortOrderAt(neighbors []string, index int, lookup IssueLookup, opts Options) (float64, bool, error) {
	orderOf := func(id string) (float64, error) {
		issue, ok := lookup.GetByID(id)
		if !ok {
			return 0, fmt.Errorf("%w: neighbor %s is no longer loaded", ErrStaleDrag, id)
		}
		return issue.SortOrder, nil
	}

	switch {
	case len(neighbors) == 0:
		return opts.Spacing, false, nil
	case index == 0:
		next, err := orderOf(neighbors[0])
		if err != nil {
			return 0, false, err
		}
		order := next - opts.Spacing
		return order, order >= next, nil
	case index == len(neighbors):
		prev, err := orderOf(neighbors[len(neighbors)-1])
		if err != nil {
			return 0, false, err
		}
		order := prev + opts.Spacing
		return order, order <= prev, nil
	default:
		prev, err := orderOf(neighbors[index-1])
		if err != nil {
			return 0, false, err
		}
		next, err := orderOf(neighbors[index])
		if err != nil {
			return 0, false, err
		}
		order := (prev + next) / 2
		crowded := next-prev < opts.MinGap || order <= prev || order >= next
		return order, crowded, nil
	}
}

// applyAxisChange records the field rewrite for moving an issue from one key
// to another on axis. It returns the issue's full key set on the axis after
// the move, or nil when only the dragged key changes.
func applyAxisChange(patch *domain.IssuePatch, axis domain.GroupBy, from, to string, issue domain.Issue) ([]string, error) {
	switch axis {
	case domain.GroupByState:
		if to == domain.NoneKey {
			return nil, fmt.Errorf("%w: an issue cannot leave every state", ErrDisallowedMove)
		}
		stateID := to
		patch.StateID = &stateID
	case domain.GroupByPriority:
		priority := domain.NormalizePriority(domain.Priority(to))
		if !domain.IsValidPriority(priority) {
			return nil, fmt.Errorf("%w: unknown priority %q", ErrDisallowedMove, to)
		}
		patch.Priority = &priority
	case domain.GroupByLabels:
		add, remove, next := swapMembership(issue.LabelIDs, from, to)
		patch.AddLabelIDs = append(patch.AddLabelIDs, add...)
		patch.RemoveLabelIDs = append(patch.RemoveLabelIDs, remove...)
		return next, nil
	case domain.GroupByAssignees:
		add, remove, next := swapMembership(issue.AssigneeIDs, from, to)
		patch.AddAssigneeIDs = append(patch.AddAssigneeIDs, add...)
		patch.RemoveAssigneeIDs = append(patch.RemoveAssigneeIDs, remove...)
		return next, nil
	case domain.GroupByTargetDate:
		if to == domain.NoneKey {
			patch.ClearTargetDate = true
			return nil, nil
		}
		date, err := domain.ParseDate(to)
		if err != nil || date == nil {
			return nil, fmt.Errorf("%w: invalid calendar key %q", ErrDisallowedMove, to)
		}
		patch.TargetDate = date
	case domain.GroupByNone:
	default:
		return nil, fmt.Errorf("%w: %s is not editable by drag", ErrDisallowedMove, axis)
	}
	return nil, nil
}

// swapMembership rewrites a multi-valued field for a move from one bucket to
// another. Dropping on None clears the field; leaving None only adds.
func swapMembership(current []string, from, to string) (add, remove, next []string) {
	switch {
	case to == domain.NoneKey:
		return nil, slices.Clone(current), []string{domain.NoneKey}
	case from == domain.NoneKey:
		return []string{to}, nil, []string{to}
	}
	next = domain.NormalizeIDs(append(slices.DeleteFunc(slices.Clone(current), func(id string) bool { return id == from }), to))
	return []string{to}, []string{from}, next
}

func moveKey(keys []string, from, to string, replacement []string) []string {
	if replacement != nil {
		return replacement
	}
	out := slices.DeleteFunc(slices.Clone(keys), func(k string) bool { return k == from })
	if !slices.Contains(out, to) {
		out = append(out, to)
	}
	return out
}

// keysHolding lists the group (or lane) keys under which issueID currently
// appears in view.
func keysHolding(view grouping.View, issueID string, lanes bool) []string {
	var out []string
	add := func(key string) {
		if !slices.Contains(out, key) {
			out = append(out, key)
		}
	}
	if view.IsSubGrouped() {
		for _, lane := range view.Lanes {
			for _, b := range lane.Groups {
				if !slices.Contains(b.IssueIDs, issueID) {
					continue
				}
				if lanes {
					add(lane.Key)
				} else {
					add(b.Key)
				}
			}
		}
		return out
	}
	if lanes {
		return nil
	}
	for _, b := range view.Groups {
		if slices.Contains(b.IssueIDs, issueID) {
			add(b.Key)
		}
	}
	return out
}

// placeIssue rewrites every leaf so the updated issue sits exactly where a
// full regroup would put it. The destination leaf honors the drop index under
// manual ordering; other leaves insert by comparator.
func placeIssue(view *grouping.View, updated domain.Issue, groupKeys, laneKeys []string, dst Location, index int, manual bool, lookup IssueLookup, less func(a, b domain.Issue) int) {
	issueOf := func(id string) (domain.Issue, bool) {
		if id == updated.ID {
			return updated, true
		}
		return lookup.GetByID(id)
	}
	visit := func(laneKey string, b *grouping.Bucket) {
		b.IssueIDs = slices.DeleteFunc(b.IssueIDs, func(id string) bool { return id == updated.ID })
		if !slices.Contains(groupKeys, b.Key) {
			return
		}
		if view.IsSubGrouped() && !slices.Contains(laneKeys, laneKey) {
			return
		}
		if manual && b.Key == dst.GroupKey && laneKey == dst.LaneKey {
			b.IssueIDs = slices.Insert(b.IssueIDs, min(index, len(b.IssueIDs)), updated.ID)
			return
		}
		at := len(b.IssueIDs)
		for i, id := range b.IssueIDs {
			other, ok := issueOf(id)
			if ok && less(updated, other) < 0 {
				at = i
				break
			}
		}
		b.IssueIDs = slices.Insert(b.IssueIDs, at, updated.ID)
	}
	if view.IsSubGrouped() {
		for li := range view.Lanes {
			for gi := range view.Lanes[li].Groups {
				visit(view.Lanes[li].Key, &view.Lanes[li].Groups[gi])
			}
		}
		return
	}
	for gi := range view.Groups {
		visit("", &view.Groups[gi])
	}
}
