package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

// scopeFlags selects the project and, optionally, the cycle, module or saved
// view a command works on.
type scopeFlags struct {
	project string
	cycle   string
	module  string
	view    string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVar(&f.cycle, "cycle", "", "cycle id to scope to")
	cmd.Flags().StringVar(&f.module, "module", "", "module id to scope to")
	cmd.Flags().StringVar(&f.view, "view", "", "saved view id to scope to")
	_ = cmd.MarkFlagRequired("project")
	cmd.MarkFlagsMutuallyExclusive("cycle", "module", "view")
}

func (f scopeFlags) resolve(ctx context.Context, svc *app.Service) (domain.Scope, domain.Project, error) {
	project, err := resolveProject(ctx, svc, f.project)
	if err != nil {
		return domain.Scope{}, domain.Project{}, err
	}
	scope := domain.ProjectScope(project.ID)
	switch {
	case strings.TrimSpace(f.cycle) != "":
		scope = domain.Scope{Kind: domain.ScopeCycle, ID: strings.TrimSpace(f.cycle), ProjectID: project.ID}
	case strings.TrimSpace(f.module) != "":
		scope = domain.Scope{Kind: domain.ScopeModule, ID: strings.TrimSpace(f.module), ProjectID: project.ID}
	case strings.TrimSpace(f.view) != "":
		scope = domain.Scope{Kind: domain.ScopeView, ID: strings.TrimSpace(f.view), ProjectID: project.ID}
	}
	return scope, project, nil
}

// resolveProject finds a project by id, identifier or slug.
func resolveProject(ctx context.Context, svc *app.Service, ref string) (domain.Project, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Project{}, errors.New("--project is required")
	}
	projects, err := svc.ListProjects(ctx, true)
	if err != nil {
		return domain.Project{}, err
	}
	for _, p := range projects {
		if p.ID == ref || strings.EqualFold(p.Identifier, ref) || p.Slug == strings.ToLower(ref) {
			return p, nil
		}
	}
	return domain.Project{}, fmt.Errorf("project %q: %w", ref, app.ErrNotFound)
}

// resolveStateRef maps a state id or name to its id.
func resolveStateRef(catalog domain.Catalog, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	for _, state := range catalog.States {
		if state.ID == ref || strings.EqualFold(state.Name, ref) {
			return state.ID, nil
		}
	}
	return "", fmt.Errorf("state %q: %w", ref, app.ErrNotFound)
}

// resolveLabelRefs maps label ids or names to ids.
func resolveLabelRefs(catalog domain.Catalog, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		found := false
		for _, label := range catalog.Labels {
			if label.ID == ref || strings.EqualFold(label.Name, ref) {
				out = append(out, label.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("label %q: %w", ref, app.ErrNotFound)
		}
	}
	return out, nil
}

// resolveMemberRefs maps member ids or display names to ids.
func resolveMemberRefs(catalog domain.Catalog, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		found := false
		for _, member := range catalog.Members {
			if member.ID == ref || strings.EqualFold(member.DisplayName, ref) {
				out = append(out, member.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("member %q: %w", ref, app.ErrNotFound)
		}
	}
	return out, nil
}

// parseFilterFlags turns repeated field=v1,v2 flags into filter predicates.
func parseFilterFlags(raw []string) (map[domain.FilterField][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[domain.FilterField][]string, len(raw))
	for _, entry := range raw {
		field, values, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("filter %q: want field=value[,value]", entry)
		}
		key := domain.FilterField(strings.ToLower(strings.TrimSpace(field)))
		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out[key] = append(out[key], v)
			}
		}
	}
	return out, nil
}
