package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/hylla/tavla/internal/domain"
)

func TestIssueStoreCopiesAndVersions(t *testing.T) {
	store := NewIssueStore(domain.Issue{ID: "a", ProjectID: "p1", LabelIDs: []string{"x"}})
	if store.Version() != 0 || store.Len() != 1 {
		t.Fatalf("unexpected seeded store version=%d len=%d", store.Version(), store.Len())
	}

	got, ok := store.GetByID("a")
	if !ok {
		t.Fatal("expected seeded issue")
	}
	got.LabelIDs[0] = "mutated"
	if again, _ := store.GetByID("a"); again.LabelIDs[0] != "x" {
		t.Fatal("expected GetByID to return a copy")
	}

	store.Put(domain.Issue{ID: "b", ProjectID: "p1"})
	store.PutMany([]domain.Issue{{ID: "c", ProjectID: "p1"}, {ID: "d", ProjectID: "p1"}})
	store.PutMany(nil)
	if store.Version() != 2 {
		t.Fatalf("expected one bump per write batch, got %d", store.Version())
	}

	byIDs := store.GetByIDs([]string{"d", "missing", "a"})
	if len(byIDs) != 2 || byIDs[0].ID != "d" || byIDs[1].ID != "a" {
		t.Fatalf("unexpected GetByIDs result %#v", byIDs)
	}

	if !store.Remove("b") || store.Remove("b") {
		t.Fatal("expected Remove to report presence once")
	}
	if store.Version() != 3 {
		t.Fatalf("expected version 3 after remove, got %d", store.Version())
	}
}

func TestIssueStoreApply(t *testing.T) {
	store := NewIssueStore(domain.Issue{ID: "a", ProjectID: "p1", SortOrder: 1})
	order := 42.0
	updated, err := store.Apply("a", domain.IssuePatch{SortOrder: &order, AddLabelIDs: []string{"l1"}}, fixedNow)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if updated.SortOrder != 42 || len(updated.LabelIDs) != 1 || !updated.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected patched issue %#v", updated)
	}
	if _, err := store.Apply("ghost", domain.IssuePatch{SortOrder: &order}, fixedNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	empty := ""
	if _, err := store.Apply("a", domain.IssuePatch{StateID: &empty}, fixedNow); !errors.Is(err, domain.ErrInvalidStateID) {
		t.Fatalf("expected ErrInvalidStateID, got %v", err)
	}
	if got, _ := store.GetByID("a"); got.SortOrder != 42 {
		t.Fatalf("failed patch must not change the record, got %#v", got)
	}
}

func TestIssueStoreConcurrentAccess(t *testing.T) {
	store := NewIssueStore()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			store.Put(domain.Issue{ID: id, ProjectID: "p1"})
			_, _ = store.GetByID(id)
			_ = store.Version()
		}()
	}
	wg.Wait()
	if store.Len() != 8 || store.Version() != 8 {
		t.Fatalf("unexpected store len=%d version=%d", store.Len(), store.Version())
	}
}
