package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// State is a workflow state owned by a project. Every state belongs to one
// state group.
type State struct {
	ID        string
	ProjectID string
	Name      string
	Group     StateGroup
	Sequence  float64
	CreatedAt time.Time
}

// NewState constructs a new value for this package.
func NewState(id, projectID, name string, group StateGroup, sequence float64, now time.Time) (State, error) {
	id = strings.TrimSpace(id)
	projectID = strings.TrimSpace(projectID)
	name = strings.TrimSpace(name)
	if id == "" || projectID == "" {
		return State{}, ErrInvalidID
	}
	if name == "" {
		return State{}, ErrInvalidName
	}
	group = NormalizeStateGroup(group)
	if !IsValidStateGroup(group) {
		return State{}, ErrInvalidStateGroup
	}
	return State{
		ID:        id,
		ProjectID: projectID,
		Name:      name,
		Group:     group,
		Sequence:  sequence,
		CreatedAt: now.UTC(),
	}, nil
}

// Label represents label data used by this package.
type Label struct {
	ID        string
	ProjectID string
	Name      string
	SortOrder float64
}

// NewLabel constructs a new value for this package.
func NewLabel(id, projectID, name string, sortOrder float64) (Label, error) {
	id = strings.TrimSpace(id)
	projectID = strings.TrimSpace(projectID)
	name = strings.TrimSpace(name)
	if id == "" || projectID == "" {
		return Label{}, ErrInvalidID
	}
	if name == "" {
		return Label{}, ErrInvalidName
	}
	return Label{ID: id, ProjectID: projectID, Name: name, SortOrder: sortOrder}, nil
}

// Member is a project member that can create or be assigned issues.
type Member struct {
	ID          string
	ProjectID   string
	DisplayName string
}

// NewMember constructs a new value for this package.
func NewMember(id, projectID, displayName string) (Member, error) {
	id = strings.TrimSpace(id)
	projectID = strings.TrimSpace(projectID)
	if id == "" || projectID == "" {
		return Member{}, ErrInvalidID
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = id
	}
	return Member{ID: id, ProjectID: projectID, DisplayName: displayName}, nil
}

// Cycle represents cycle data used by this package.
type Cycle struct {
	ID        string
	ProjectID string
	Name      string
	StartDate *time.Time
	EndDate   *time.Time
}

// Module represents module data used by this package.
type Module struct {
	ID        string
	ProjectID string
	Name      string
}

// SavedView is a named filter state stored for a project.
type SavedView struct {
	ID        string
	ProjectID string
	Name      string
	Filters   FilterState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Catalog holds the project metadata that decides canonical bucket order.
type Catalog struct {
	States  []State
	Labels  []Label
	Members []Member
}

// SortedStates returns states ordered by group then sequence then name.
func (c Catalog) SortedStates() []State {
	out := slices.Clone(c.States)
	slices.SortStableFunc(out, func(a, b State) int {
		if d := cmp.Compare(StateGroupRank(a.Group), StateGroupRank(b.Group)); d != 0 {
			return d
		}
		if d := cmp.Compare(a.Sequence, b.Sequence); d != 0 {
			return d
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// SortedLabels returns labels ordered by sort order then name.
func (c Catalog) SortedLabels() []Label {
	out := slices.Clone(c.Labels)
	slices.SortStableFunc(out, func(a, b Label) int {
		if d := cmp.Compare(a.SortOrder, b.SortOrder); d != 0 {
			return d
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out
}

// SortedMembers returns members ordered by display name then id.
func (c Catalog) SortedMembers() []Member {
	out := slices.Clone(c.Members)
	slices.SortStableFunc(out, func(a, b Member) int {
		if d := strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// StateByID returns the state with id.
func (c Catalog) StateByID(id string) (State, bool) {
	for _, state := range c.States {
		if state.ID == id {
			return state, true
		}
	}
	return State{}, false
}

// DefaultState returns the first state in the unstarted group, or the first
// state overall when the project has no unstarted state.
func (c Catalog) DefaultState() (State, bool) {
	states := c.SortedStates()
	for _, state := range states {
		if state.Group == StateGroupUnstarted {
			return state, true
		}
	}
	if len(states) == 0 {
		return State{}, false
	}
	return states[0], true
}
