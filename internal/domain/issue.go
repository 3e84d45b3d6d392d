package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// validPriorities doubles as the canonical bucket order for priority grouping.
var validPriorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow, PriorityNone}

// Priorities returns every priority in canonical display order.
func Priorities() []Priority {
	return slices.Clone(validPriorities)
}

// NormalizePriority canonicalizes a priority value; empty maps to none.
func NormalizePriority(p Priority) Priority {
	p = Priority(strings.TrimSpace(strings.ToLower(string(p))))
	if p == "" {
		return PriorityNone
	}
	return p
}

// IsValidPriority reports whether p is a supported priority.
func IsValidPriority(p Priority) bool {
	return slices.Contains(validPriorities, NormalizePriority(p))
}

// PriorityRank returns the canonical rank of p, unknown values rank last.
func PriorityRank(p Priority) int {
	if idx := slices.Index(validPriorities, NormalizePriority(p)); idx >= 0 {
		return idx
	}
	return len(validPriorities)
}

type StateGroup string

const (
	StateGroupBacklog   StateGroup = "backlog"
	StateGroupUnstarted StateGroup = "unstarted"
	StateGroupStarted   StateGroup = "started"
	StateGroupCompleted StateGroup = "completed"
	StateGroupCancelled StateGroup = "cancelled"
)

var validStateGroups = []StateGroup{
	StateGroupBacklog,
	StateGroupUnstarted,
	StateGroupStarted,
	StateGroupCompleted,
	StateGroupCancelled,
}

// StateGroups returns every state group in canonical display order.
func StateGroups() []StateGroup {
	return slices.Clone(validStateGroups)
}

// NormalizeStateGroup canonicalizes a state group value.
func NormalizeStateGroup(g StateGroup) StateGroup {
	return StateGroup(strings.TrimSpace(strings.ToLower(string(g))))
}

// IsValidStateGroup reports whether g is a supported state group.
func IsValidStateGroup(g StateGroup) bool {
	return slices.Contains(validStateGroups, NormalizeStateGroup(g))
}

// StateGroupRank returns the canonical rank of g, unknown values rank last.
func StateGroupRank(g StateGroup) int {
	if idx := slices.Index(validStateGroups, NormalizeStateGroup(g)); idx >= 0 {
		return idx
	}
	return len(validStateGroups)
}

// DateLayout is the calendar key format for date-only fields.
const DateLayout = "2006-01-02"

// NormalizeDate drops the time-of-day from t, keeping its calendar date.
func NormalizeDate(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DateKey renders a calendar date as its bucket key.
func DateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

type Issue struct {
	ID          string
	ProjectID   string
	SequenceID  int
	Name        string
	StateID     string
	StateGroup  StateGroup
	Priority    Priority
	LabelIDs    []string
	AssigneeIDs []string
	CreatedBy   string
	StartDate   *time.Time
	TargetDate  *time.Time
	SortOrder   float64
	CycleID     string
	ModuleIDs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type IssueInput struct {
	ID          string
	ProjectID   string
	SequenceID  int
	Name        string
	StateID     string
	StateGroup  StateGroup
	Priority    Priority
	LabelIDs    []string
	AssigneeIDs []string
	CreatedBy   string
	StartDate   *time.Time
	TargetDate  *time.Time
	SortOrder   float64
	CycleID     string
	ModuleIDs   []string
}

func NewIssue(in IssueInput, now time.Time) (Issue, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.Name = strings.TrimSpace(in.Name)
	in.StateID = strings.TrimSpace(in.StateID)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.CycleID = strings.TrimSpace(in.CycleID)

	if in.ID == "" || in.ProjectID == "" {
		return Issue{}, ErrInvalidID
	}
	if in.Name == "" {
		return Issue{}, ErrInvalidName
	}
	in.Priority = NormalizePriority(in.Priority)
	if !IsValidPriority(in.Priority) {
		return Issue{}, ErrInvalidPriority
	}
	in.StateGroup = NormalizeStateGroup(in.StateGroup)
	if in.StateGroup != "" && !IsValidStateGroup(in.StateGroup) {
		return Issue{}, ErrInvalidStateGroup
	}
	if !isFinite(in.SortOrder) {
		return Issue{}, ErrInvalidSortOrder
	}

	return Issue{
		ID:          in.ID,
		ProjectID:   in.ProjectID,
		SequenceID:  in.SequenceID,
		Name:        in.Name,
		StateID:     in.StateID,
		StateGroup:  in.StateGroup,
		Priority:    in.Priority,
		LabelIDs:    NormalizeIDs(in.LabelIDs),
		AssigneeIDs: NormalizeIDs(in.AssigneeIDs),
		CreatedBy:   in.CreatedBy,
		StartDate:   NormalizeDate(in.StartDate),
		TargetDate:  NormalizeDate(in.TargetDate),
		SortOrder:   in.SortOrder,
		CycleID:     in.CycleID,
		ModuleIDs:   NormalizeIDs(in.ModuleIDs),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Clone returns a deep copy so callers can patch without aliasing slices.
func (i Issue) Clone() Issue {
	out := i
	out.LabelIDs = slices.Clone(i.LabelIDs)
	out.AssigneeIDs = slices.Clone(i.AssigneeIDs)
	out.ModuleIDs = slices.Clone(i.ModuleIDs)
	if i.StartDate != nil {
		d := *i.StartDate
		out.StartDate = &d
	}
	if i.TargetDate != nil {
		d := *i.TargetDate
		out.TargetDate = &d
	}
	return out
}

// IssuePatch is a partial update. Nil pointers and empty slices leave the
// corresponding field untouched.
type IssuePatch struct {
	SortOrder         *float64
	StateID           *string
	StateGroup        *StateGroup
	Priority          *Priority
	AddLabelIDs       []string
	RemoveLabelIDs    []string
	AddAssigneeIDs    []string
	RemoveAssigneeIDs []string
	TargetDate        *time.Time
	ClearTargetDate   bool
}

// IsEmpty reports whether the patch changes nothing.
func (p IssuePatch) IsEmpty() bool {
	return p.SortOrder == nil &&
		p.StateID == nil &&
		p.StateGroup == nil &&
		p.Priority == nil &&
		len(p.AddLabelIDs) == 0 &&
		len(p.RemoveLabelIDs) == 0 &&
		len(p.AddAssigneeIDs) == 0 &&
		len(p.RemoveAssigneeIDs) == 0 &&
		p.TargetDate == nil &&
		!p.ClearTargetDate
}

func (i *Issue) ApplyPatch(p IssuePatch, now time.Time) error {
	if p.SortOrder != nil {
		if !isFinite(*p.SortOrder) {
			return ErrInvalidSortOrder
		}
		i.SortOrder = *p.SortOrder
	}
	if p.StateID != nil {
		stateID := strings.TrimSpace(*p.StateID)
		if stateID == "" {
			return ErrInvalidStateID
		}
		i.StateID = stateID
	}
	if p.StateGroup != nil {
		group := NormalizeStateGroup(*p.StateGroup)
		if !IsValidStateGroup(group) {
			return ErrInvalidStateGroup
		}
		i.StateGroup = group
	}
	if p.Priority != nil {
		priority := NormalizePriority(*p.Priority)
		if !IsValidPriority(priority) {
			return ErrInvalidPriority
		}
		i.Priority = priority
	}
	if len(p.AddLabelIDs) > 0 || len(p.RemoveLabelIDs) > 0 {
		i.LabelIDs = swapIDs(i.LabelIDs, p.RemoveLabelIDs, p.AddLabelIDs)
	}
	if len(p.AddAssigneeIDs) > 0 || len(p.RemoveAssigneeIDs) > 0 {
		i.AssigneeIDs = swapIDs(i.AssigneeIDs, p.RemoveAssigneeIDs, p.AddAssigneeIDs)
	}
	switch {
	case p.ClearTargetDate:
		i.TargetDate = nil
	case p.TargetDate != nil:
		i.TargetDate = NormalizeDate(p.TargetDate)
	}
	i.UpdatedAt = now.UTC()
	return nil
}

// NormalizeIDs trims, de-duplicates and sorts a reference set.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func swapIDs(current, remove, add []string) []string {
	out := make([]string, 0, len(current)+len(add))
	for _, id := range current {
		if slices.Contains(remove, id) {
			continue
		}
		out = append(out, id)
	}
	out = append(out, add...)
	return NormalizeIDs(out)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
