package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

func TestOpenPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "tavla.db")
	repo, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	project, err := domain.NewProject("p1", "", "Example", "desc", now)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	issue, err := domain.NewIssue(domain.IssueInput{ID: "i1", ProjectID: project.ID, Name: "Persist me", SortOrder: 65535}, now)
	if err != nil {
		t.Fatalf("NewIssue() error = %v", err)
	}
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open(reopen) error = %v", err)
	}
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	issues, err := reopened.ListIssues(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	if len(issues) != 1 || issues[0].SortOrder != 65535 {
		t.Fatalf("unexpected issues after reopen %#v", issues)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenInMemoryIsolated(t *testing.T) {
	ctx := context.Background()
	first, err := OpenInMemory(ctx)
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = first.Close()
	})
	second, err := OpenInMemory(ctx)
	if err != nil {
		t.Fatalf("OpenInMemory(second) error = %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	project, _ := domain.NewProject("p1", "", "Only here", "", time.Now())
	if err := first.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := second.GetProject(ctx, project.ID); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected second database to be empty, got %v", err)
	}
}
