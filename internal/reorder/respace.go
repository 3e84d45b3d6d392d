package reorder

import (
	"cmp"
	"slices"
	"strings"

	"github.com/hylla/tavla/internal/domain"
)

// Assignment is a new sort_order for one issue.
type Assignment struct {
	IssueID   string
	SortOrder float64
}

// Respace reassigns sort orders as spacing, 2*spacing, ... following the
// current (sort_order, id) order. The mapping is monotone, so the relative
// order inside every bucket of every view survives. Only changed issues are
// returned.
func Respace(issues []domain.Issue, spacing float64) []Assignment {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	ordered := slices.Clone(issues)
	slices.SortFunc(ordered, func(a, b domain.Issue) int {
		if d := cmp.Compare(a.SortOrder, b.SortOrder); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	})
	var out []Assignment
	for i, issue := range ordered {
		order := float64(i+1) * spacing
		if issue.SortOrder == order {
			continue
		}
		out = append(out, Assignment{IssueID: issue.ID, SortOrder: order})
	}
	return out
}
