package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/hylla/tavla/internal/domain"
)

// IssueStore is the canonical flat map of loaded issue records. Every scope
// of a session shares one store; Version increases on each write so derived
// views can tell when to regroup.
type IssueStore struct {
	mu      sync.RWMutex
	issues  map[string]domain.Issue
	version uint64
}

// NewIssueStore constructs a store seeded with issues.
func NewIssueStore(issues ...domain.Issue) *IssueStore {
	s := &IssueStore{issues: make(map[string]domain.Issue, len(issues))}
	for _, issue := range issues {
		s.issues[issue.ID] = issue.Clone()
	}
	return s
}

// GetByID returns a copy of the issue with id.
func (s *IssueStore) GetByID(id string) (domain.Issue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return domain.Issue{}, false
	}
	return issue.Clone(), true
}

// GetByIDs returns copies of the loaded issues among ids, in ids order.
// Unknown ids are skipped.
func (s *IssueStore) GetByIDs(ids []string) []domain.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Issue, 0, len(ids))
	for _, id := range ids {
		if issue, ok := s.issues[id]; ok {
			out = append(out, issue.Clone())
		}
	}
	return out
}

// Put inserts or replaces one record.
func (s *IssueStore) Put(issue domain.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[issue.ID] = issue.Clone()
	s.version++
}

// PutMany inserts or replaces records with a single version bump.
func (s *IssueStore) PutMany(issues []domain.Issue) {
	if len(issues) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, issue := range issues {
		s.issues[issue.ID] = issue.Clone()
	}
	s.version++
}

// Remove drops the record with id and reports whether it was loaded.
func (s *IssueStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[id]; !ok {
		return false
	}
	delete(s.issues, id)
	s.version++
	return true
}

// Apply patches the loaded record with id in place and returns the result.
func (s *IssueStore) Apply(id string, patch domain.IssuePatch, now time.Time) (domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		return domain.Issue{}, fmt.Errorf("issue %q: %w", id, ErrNotFound)
	}
	issue = issue.Clone()
	if err := issue.ApplyPatch(patch, now); err != nil {
		return domain.Issue{}, err
	}
	s.issues[id] = issue
	s.version++
	return issue.Clone(), nil
}

// Len returns the number of loaded records.
func (s *IssueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.issues)
}

// Version returns the write counter.
func (s *IssueStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
