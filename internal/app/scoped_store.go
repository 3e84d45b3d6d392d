package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hylla/tavla/internal/domain"
	"github.com/hylla/tavla/internal/grouping"
	"github.com/hylla/tavla/internal/reorder"
)

// ScopedStoreConfig wires one scoped store. Updater, Remover and Fetcher are
// required; Renormalizer is consulted only when AutoRenormalize is set.
type ScopedStoreConfig struct {
	Scope           domain.Scope
	Issues          *IssueStore
	IssueIDs        []string
	Catalog         domain.Catalog
	FilterState     domain.FilterState
	Updater         IssueUpdater
	Remover         IssueRemover
	Fetcher         ScopeFetcher
	Renormalizer    Renormalizer
	Spacing         float64
	MinGap          float64
	AutoRenormalize bool
	Logger          Logger
	Clock           Clock
}

// DropResult reports what a drag did.
type DropResult struct {
	Resolution   reorder.Resolution
	Renormalized bool
}

type memoKey struct {
	issues  uint64
	subset  uint64
	catalog uint64
	filter  uint64
}

// ScopedStore owns the issue subset and filter state of one project, cycle,
// module or saved view and serves its grouped view.
type ScopedStore struct {
	scope           domain.Scope
	issues          *IssueStore
	updater         IssueUpdater
	remover         IssueRemover
	fetcher         ScopeFetcher
	renormalizer    Renormalizer
	spacing         float64
	minGap          float64
	autoRenormalize bool
	logger          Logger
	clock           Clock
	refetches       singleflight.Group

	mu             sync.Mutex
	ids            []string
	subsetVersion  uint64
	catalog        domain.Catalog
	catalogVersion uint64
	filter         domain.FilterState
	filterHash     uint64
	memoValid      bool
	memo           memoKey
	memoView       grouping.View
}

// NewScopedStore constructs a store for cfg.Scope.
func NewScopedStore(cfg ScopedStoreConfig) (*ScopedStore, error) {
	if err := cfg.Scope.Validate(); err != nil {
		return nil, err
	}
	if cfg.Updater == nil || cfg.Remover == nil || cfg.Fetcher == nil {
		return nil, errors.New("scoped store requires update, remove and fetch collaborators")
	}
	if cfg.Issues == nil {
		cfg.Issues = NewIssueStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &ScopedStore{
		scope:           cfg.Scope,
		issues:          cfg.Issues,
		updater:         cfg.Updater,
		remover:         cfg.Remover,
		fetcher:         cfg.Fetcher,
		renormalizer:    cfg.Renormalizer,
		spacing:         cfg.Spacing,
		minGap:          cfg.MinGap,
		autoRenormalize: cfg.AutoRenormalize,
		logger:          cfg.Logger,
		clock:           cfg.Clock,
		ids:             domain.NormalizeIDs(cfg.IssueIDs),
		catalog:         cfg.Catalog,
	}
	if err := s.SetFilterState(cfg.FilterState); err != nil {
		return nil, err
	}
	return s, nil
}

// Scope returns the scope the store serves.
func (s *ScopedStore) Scope() domain.Scope {
	return s.scope
}

// FilterState returns the normalized filter state in effect.
func (s *ScopedStore) FilterState() domain.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Clone()
}

// SetFilterState normalizes and installs fs. Invalid states are rejected and
// the previous state stays in effect.
func (s *ScopedStore) SetFilterState(fs domain.FilterState) error {
	normalized, err := fs.Normalize()
	if err != nil {
		return err
	}
	hash, err := hashstructure.Hash(normalized, hashstructure.FormatV2, nil)
	if err != nil {
		return fmt.Errorf("hash filter state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = normalized
	s.filterHash = hash
	return nil
}

// IssueIDs returns the ids of the scope's subset.
func (s *ScopedStore) IssueIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ids)
}

// SetIssueIDs replaces the subset.
func (s *ScopedStore) SetIssueIDs(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = domain.NormalizeIDs(ids)
	s.subsetVersion++
}

// SetCatalog replaces the project catalog used for bucket order.
func (s *ScopedStore) SetCatalog(catalog domain.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
	s.catalogVersion++
}

// GroupedIssueIDs returns the grouped view of the subset under the current
// filter state. The result is memoized until issues, subset, catalog or
// filter state change.
func (s *ScopedStore) GroupedIssueIDs() (grouping.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, err := s.groupedLocked()
	if err != nil {
		return grouping.View{}, err
	}
	return view.Clone(), nil
}

func (s *ScopedStore) currentKeyLocked() memoKey {
	return memoKey{
		issues:  s.issues.Version(),
		subset:  s.subsetVersion,
		catalog: s.catalogVersion,
		filter:  s.filterHash,
	}
}

func (s *ScopedStore) groupedLocked() (grouping.View, error) {
	key := s.currentKeyLocked()
	if s.memoValid && s.memo == key {
		return s.memoView, nil
	}
	members := make([]domain.Issue, 0, len(s.ids))
	for _, issue := range s.issues.GetByIDs(s.ids) {
		if s.scope.Contains(issue) {
			members = append(members, issue)
		}
	}
	view, err := grouping.Build(members, s.filter, s.catalog)
	if err != nil {
		return grouping.View{}, err
	}
	s.memo, s.memoView, s.memoValid = key, view, true
	return view, nil
}

// HandleDragAndDrop resolves a drag, applies the local patch at once and
// persists it. A persistence failure triggers a re-fetch of the scope and is
// returned wrapped in ErrPersistence. Stale and disallowed drags change
// nothing.
func (s *ScopedStore) HandleDragAndDrop(ctx context.Context, src, dst reorder.Location) (DropResult, error) {
	s.mu.Lock()
	view, err := s.groupedLocked()
	if err != nil {
		s.mu.Unlock()
		return DropResult{}, err
	}
	scope, filter := s.scope, s.filter
	res, err := reorder.Resolve(src, dst, view, s.issues, reorder.Options{
		Spacing: s.spacing,
		MinGap:  s.minGap,
		Catalog: s.catalog,
		Now:     s.clock().UTC(),
		Matches: func(issue domain.Issue) bool {
			return scope.Contains(issue) && filter.Matches(issue)
		},
	})
	if err != nil {
		s.mu.Unlock()
		switch {
		case errors.Is(err, reorder.ErrStaleDrag):
			s.logger.Warn("drag ignored", "scope", s.scope.Key(), "err", err)
		case errors.Is(err, reorder.ErrDisallowedMove):
			s.logger.Info("drag blocked", "scope", s.scope.Key(), "err", err)
		default:
			s.logger.Error("drag failed", "scope", s.scope.Key(), "err", err)
		}
		return DropResult{Resolution: res}, err
	}
	if res.IsNoop() {
		s.mu.Unlock()
		return DropResult{Resolution: res}, nil
	}
	if err := s.applyLocalLocked(res); err != nil {
		s.mu.Unlock()
		return DropResult{}, err
	}
	s.mu.Unlock()

	if err := s.persist(ctx, res); err != nil {
		s.logger.Error("persist drag", "scope", s.scope.Key(), "issue_id", res.IssueID, "kind", res.Kind, "err", err)
		if refetchErr := s.Refetch(ctx); refetchErr != nil {
			s.logger.Error("refetch after failed drag", "scope", s.scope.Key(), "err", refetchErr)
		}
		return DropResult{Resolution: res}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	out := DropResult{Resolution: res}
	if res.NeedsRenormalize && s.autoRenormalize && s.renormalizer != nil {
		s.logger.Info("renormalizing sort orders", "project_id", s.scope.ProjectID)
		if err := s.renormalizer.RenormalizeProject(ctx, s.scope.ProjectID); err != nil {
			return out, fmt.Errorf("renormalize project %q: %w", s.scope.ProjectID, err)
		}
		if err := s.Refetch(ctx); err != nil {
			return out, err
		}
		out.Renormalized = true
	}
	return out, nil
}

// applyLocalLocked writes the optimistic record change and installs the
// resolved view as the memoized result for the new store state.
func (s *ScopedStore) applyLocalLocked(res reorder.Resolution) error {
	switch res.Kind {
	case reorder.KindUpdate:
		local := res.Update.Patch
		if local.StateID != nil && res.Issue.StateGroup != "" {
			group := res.Issue.StateGroup
			local.StateGroup = &group
		}
		if _, err := s.issues.Apply(res.IssueID, local, res.Issue.UpdatedAt); err != nil {
			return err
		}
	case reorder.KindRemove:
		s.ids = slices.DeleteFunc(s.ids, func(id string) bool { return id == res.IssueID })
		s.subsetVersion++
		switch s.scope.Kind {
		case domain.ScopeCycle:
			detached := res.Issue.Clone()
			detached.CycleID = ""
			s.issues.Put(detached)
		case domain.ScopeModule:
			detached := res.Issue.Clone()
			detached.ModuleIDs = slices.DeleteFunc(detached.ModuleIDs, func(id string) bool { return id == s.scope.ID })
			s.issues.Put(detached)
		default:
			s.issues.Remove(res.IssueID)
		}
	}
	s.memo, s.memoView, s.memoValid = s.currentKeyLocked(), res.View, true
	return nil
}

func (s *ScopedStore) persist(ctx context.Context, res reorder.Resolution) error {
	switch res.Kind {
	case reorder.KindUpdate:
		stored, err := s.updater.UpdateIssue(ctx, s.scope, res.IssueID, res.Update.Patch)
		if err != nil {
			return err
		}
		s.issues.Put(stored)
	case reorder.KindRemove:
		return s.remover.RemoveIssue(ctx, s.scope, res.IssueID)
	}
	return nil
}

// Refetch reloads the scope from the fetch collaborator and replaces the
// subset. Concurrent calls share one fetch.
func (s *ScopedStore) Refetch(ctx context.Context) error {
	_, err, _ := s.refetches.Do(s.scope.Key(), func() (any, error) {
		issues, err := s.fetcher.FetchAll(ctx, s.scope)
		if err != nil {
			return nil, fmt.Errorf("fetch scope %s: %w", s.scope.Key(), err)
		}
		s.replace(issues)
		s.logger.Info("scope refetched", "scope", s.scope.Key(), "issues", len(issues))
		return nil, nil
	})
	return err
}

func (s *ScopedStore) replace(issues []domain.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
	}
	ids = domain.NormalizeIDs(ids)
	if s.scope.Kind == domain.ScopeProject || s.scope.Kind == domain.ScopeView {
		for _, id := range s.ids {
			if _, found := slices.BinarySearch(ids, id); !found {
				s.issues.Remove(id)
			}
		}
	}
	s.issues.PutMany(issues)
	s.ids = ids
	s.subsetVersion++
}
