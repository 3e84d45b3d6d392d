package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

// resolveIssue finds an issue of project by id or by its PREFIX-N reference.
func resolveIssue(ctx context.Context, svc *app.Service, project domain.Project, ref string) (domain.Issue, error) {
	ref = strings.TrimSpace(ref)
	issues, err := svc.ListIssues(ctx, project.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	for _, issue := range issues {
		if issue.ID == ref || strings.EqualFold(issueRef(project, issue), ref) {
			return issue, nil
		}
	}
	return domain.Issue{}, fmt.Errorf("issue %q: %w", ref, app.ErrNotFound)
}

func newIssueCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Create, list, update and remove issues",
	}
	cmd.AddCommand(
		newIssueCreateCommand(opts, stdout, stderr),
		newIssueListCommand(opts, stdout, stderr),
		newIssueSetCommand(opts, stdout, stderr),
		newIssueRemoveCommand(opts, stdout, stderr),
	)
	return cmd
}

func newIssueCreateCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		project    string
		name       string
		state      string
		priority   string
		labels     []string
		assignees  []string
		createdBy  string
		startDate  string
		targetDate string
		cycle      string
		modules    []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue at the end of the project's manual order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := domain.ParseDate(startDate)
			if err != nil {
				return fmt.Errorf("--start-date: %w", err)
			}
			target, err := domain.ParseDate(targetDate)
			if err != nil {
				return fmt.Errorf("--target-date: %w", err)
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "issue create", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				catalog, err := s.svc.Catalog(ctx, p.ID)
				if err != nil {
					return err
				}
				in := app.CreateIssueInput{
					ProjectID:  p.ID,
					Name:       name,
					Priority:   domain.Priority(priority),
					StartDate:  start,
					TargetDate: target,
					CycleID:    strings.TrimSpace(cycle),
					ModuleIDs:  modules,
				}
				if strings.TrimSpace(state) != "" {
					if in.StateID, err = resolveStateRef(catalog, state); err != nil {
						return err
					}
				}
				if in.LabelIDs, err = resolveLabelRefs(catalog, labels); err != nil {
					return err
				}
				if in.AssigneeIDs, err = resolveMemberRefs(catalog, assignees); err != nil {
					return err
				}
				if strings.TrimSpace(createdBy) != "" {
					ids, err := resolveMemberRefs(catalog, []string{createdBy})
					if err != nil {
						return err
					}
					in.CreatedBy = ids[0]
				}
				issue, err := s.svc.CreateIssue(ctx, in)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "created %s %s (%s)\n", issueRef(p, issue), issue.Name, issue.ID)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	flags.StringVar(&name, "name", "", "issue title")
	flags.StringVar(&state, "state", "", "state id or name; the project's default state when empty")
	flags.StringVar(&priority, "priority", "none", "urgent, high, medium, low or none")
	flags.StringSliceVar(&labels, "label", nil, "label id or name (repeatable)")
	flags.StringSliceVar(&assignees, "assignee", nil, "member id or name (repeatable)")
	flags.StringVar(&createdBy, "created-by", "", "member id or name of the creator")
	flags.StringVar(&startDate, "start-date", "", "start date (YYYY-MM-DD)")
	flags.StringVar(&targetDate, "target-date", "", "target date (YYYY-MM-DD)")
	flags.StringVar(&cycle, "cycle", "", "cycle id")
	flags.StringSliceVar(&modules, "module", nil, "module id (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newIssueListCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		scope  scopeFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the issues of a scope in manual order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "issue list", stderr, func(s *session) error {
				sc, p, err := scope.resolve(ctx, s.svc)
				if err != nil {
					return err
				}
				issues, err := s.svc.FetchAll(ctx, sc)
				if err != nil {
					return err
				}
				docs := make([]issueDocument, 0, len(issues))
				for _, issue := range issues {
					docs = append(docs, toIssueDocument(p, issue))
				}
				if outFormat != formatText {
					return writeStructured(stdout, outFormat, docs)
				}
				for _, doc := range docs {
					_, _ = fmt.Fprintf(stdout, "%-8s %-8s %s\n", doc.Ref, doc.Priority, doc.Name)
				}
				return nil
			})
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func newIssueSetCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		scope       scopeFlags
		issueRefArg string
		state       string
		priority    string
		addLabels   []string
		dropLabels  []string
		targetDate  string
		clearTarget bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Apply a partial update to one issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := domain.ParseDate(targetDate)
			if err != nil {
				return fmt.Errorf("--target-date: %w", err)
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "issue set", stderr, func(s *session) error {
				sc, p, err := scope.resolve(ctx, s.svc)
				if err != nil {
					return err
				}
				issue, err := resolveIssue(ctx, s.svc, p, issueRefArg)
				if err != nil {
					return err
				}
				catalog, err := s.svc.Catalog(ctx, p.ID)
				if err != nil {
					return err
				}
				var patch domain.IssuePatch
				if strings.TrimSpace(state) != "" {
					id, err := resolveStateRef(catalog, state)
					if err != nil {
						return err
					}
					patch.StateID = &id
				}
				if cmd.Flags().Changed("priority") {
					pr := domain.Priority(priority)
					patch.Priority = &pr
				}
				if patch.AddLabelIDs, err = resolveLabelRefs(catalog, addLabels); err != nil {
					return err
				}
				if patch.RemoveLabelIDs, err = resolveLabelRefs(catalog, dropLabels); err != nil {
					return err
				}
				patch.TargetDate = target
				patch.ClearTargetDate = clearTarget
				if patch.IsEmpty() {
					_, _ = fmt.Fprintln(stdout, "no change")
					return nil
				}
				updated, err := s.svc.UpdateIssue(ctx, sc, issue.ID, patch)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "updated %s\n", issueRef(p, updated))
				return nil
			})
		},
	}
	scope.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&issueRefArg, "issue", "", "issue id or reference such as ENG-4")
	flags.StringVar(&state, "state", "", "new state id or name")
	flags.StringVar(&priority, "priority", "", "new priority")
	flags.StringSliceVar(&addLabels, "add-label", nil, "label to add (repeatable)")
	flags.StringSliceVar(&dropLabels, "remove-label", nil, "label to remove (repeatable)")
	flags.StringVar(&targetDate, "target-date", "", "new target date (YYYY-MM-DD)")
	flags.BoolVar(&clearTarget, "clear-target-date", false, "unset the target date")
	_ = cmd.MarkFlagRequired("issue")
	cmd.MarkFlagsMutuallyExclusive("target-date", "clear-target-date")
	return cmd
}

func newIssueRemoveCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		scope       scopeFlags
		issueRefArg string
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Take an issue out of a scope",
		Long: "remove deletes the issue for project and saved-view scopes, clears its cycle " +
			"for cycle scopes and drops the module membership for module scopes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withSession(ctx, opts, "issue remove", stderr, func(s *session) error {
				sc, p, err := scope.resolve(ctx, s.svc)
				if err != nil {
					return err
				}
				issue, err := resolveIssue(ctx, s.svc, p, issueRefArg)
				if err != nil {
					return err
				}
				if err := s.svc.RemoveIssue(ctx, sc, issue.ID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "removed %s from %s\n", issueRef(p, issue), sc.Key())
				return nil
			})
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&issueRefArg, "issue", "", "issue id or reference such as ENG-4")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}
