package domain

import (
	"slices"
	"strings"
)

// ScopeKind names the container a grouped view is built for.
type ScopeKind string

const (
	ScopeProject ScopeKind = "project"
	ScopeCycle   ScopeKind = "cycle"
	ScopeModule  ScopeKind = "module"
	ScopeView    ScopeKind = "view"
)

var validScopeKinds = []ScopeKind{ScopeProject, ScopeCycle, ScopeModule, ScopeView}

// Scope identifies the issue subset a store owns. ID is the project id for
// project scopes and the cycle, module or saved-view id otherwise.
type Scope struct {
	Kind      ScopeKind
	ID        string
	ProjectID string
}

// ProjectScope returns the scope covering every issue of a project.
func ProjectScope(projectID string) Scope {
	return Scope{Kind: ScopeProject, ID: projectID, ProjectID: projectID}
}

// Validate checks the scope kind and ids.
func (s Scope) Validate() error {
	if !slices.Contains(validScopeKinds, s.Kind) {
		return ErrInvalidScope
	}
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.ProjectID) == "" {
		return ErrInvalidScope
	}
	if s.Kind == ScopeProject && s.ID != s.ProjectID {
		return ErrInvalidScope
	}
	return nil
}

// Key returns a stable string form used for cache and storage keys.
func (s Scope) Key() string {
	return string(s.Kind) + ":" + s.ID
}

// Contains reports whether issue belongs to the scope's subset. Saved views
// cover the whole project; their narrowing lives in the filter state.
func (s Scope) Contains(issue Issue) bool {
	if issue.ProjectID != s.ProjectID {
		return false
	}
	switch s.Kind {
	case ScopeCycle:
		return issue.CycleID == s.ID
	case ScopeModule:
		return slices.Contains(issue.ModuleIDs, s.ID)
	default:
		return true
	}
}
