package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/config"
	"github.com/hylla/tavla/internal/domain"
	"github.com/hylla/tavla/internal/grouping"
	"github.com/hylla/tavla/internal/platform"
	"github.com/hylla/tavla/internal/reorder"
	"github.com/hylla/tavla/internal/watcher"
)

// displayFlags overrides the display options of the scope's filter state.
type displayFlags struct {
	groupBy      string
	subGroupBy   string
	orderBy      string
	layout       string
	showEmpty    bool
	filters      []string
	clearFilters bool
}

func (d *displayFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&d.groupBy, "group-by", "", "group by: none, state, state_group, priority, labels, assignees, created_by, target_date")
	flags.StringVar(&d.subGroupBy, "sub-group-by", "", "swim-lane axis, same values as --group-by")
	flags.StringVar(&d.orderBy, "order-by", "", "order by: sort_order, -created_at, created_at, -updated_at, priority, start_date, target_date")
	flags.StringVar(&d.layout, "layout", "", "layout: list, kanban, calendar, spreadsheet, gantt")
	flags.BoolVar(&d.showEmpty, "show-empty", false, "keep buckets without issues")
	flags.StringArrayVar(&d.filters, "filter", nil, "filter as field=value[,value] (repeatable)")
	flags.BoolVar(&d.clearFilters, "clear-filters", false, "drop every saved filter predicate")
}

// apply returns fs with every flag the user set layered on top.
func (d displayFlags) apply(cmd *cobra.Command, fs domain.FilterState) (domain.FilterState, bool, error) {
	out := fs.Clone()
	changed := false
	flags := cmd.Flags()
	if flags.Changed("group-by") {
		out.GroupBy, changed = domain.GroupBy(d.groupBy), true
	}
	if flags.Changed("sub-group-by") {
		out.SubGroupBy, changed = domain.GroupBy(d.subGroupBy), true
	}
	if flags.Changed("order-by") {
		out.OrderBy, changed = domain.OrderBy(d.orderBy), true
	}
	if flags.Changed("layout") {
		out.Layout, changed = domain.Layout(d.layout), true
	}
	if flags.Changed("show-empty") {
		out.ShowEmptyGroups, changed = d.showEmpty, true
	}
	if d.clearFilters {
		out.Filters, changed = nil, true
	}
	if len(d.filters) > 0 {
		parsed, err := parseFilterFlags(d.filters)
		if err != nil {
			return domain.FilterState{}, false, err
		}
		if out.Filters == nil {
			out.Filters = map[domain.FilterField][]string{}
		}
		for field, values := range parsed {
			out.Filters[field] = values
		}
		changed = true
	}
	if !changed {
		return fs, false, nil
	}
	normalized, err := out.Normalize()
	if err != nil {
		return domain.FilterState{}, false, err
	}
	return normalized, true, nil
}

// openBoard opens the scope store and applies display overrides.
func openBoard(ctx context.Context, cmd *cobra.Command, svc *app.Service, scope domain.Scope, display displayFlags) (*app.ScopedStore, error) {
	store, err := svc.OpenScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	fs, changed, err := display.apply(cmd, store.FilterState())
	if err != nil {
		return nil, err
	}
	if changed {
		if err := store.SetFilterState(fs); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// printBoard writes the grouped view of store in format.
func printBoard(ctx context.Context, w io.Writer, format outputFormat, svc *app.Service, project domain.Project, store *app.ScopedStore) error {
	view, err := store.GroupedIssueIDs()
	if err != nil {
		return err
	}
	return writeBoard(ctx, w, format, svc, project, store, view)
}

func writeBoard(ctx context.Context, w io.Writer, format outputFormat, svc *app.Service, project domain.Project, store *app.ScopedStore, view grouping.View) error {
	scope := store.Scope()
	fs := store.FilterState()
	issues := svc.Issues().GetByIDs(view.IssueIDs())
	if format != formatText {
		doc := boardDocument{
			Scope:       scopeDocument{Kind: scope.Kind, ID: scope.ID, ProjectID: scope.ProjectID},
			FilterState: fs,
			View:        view,
			Issues:      make([]issueDocument, 0, len(issues)),
		}
		for _, issue := range issues {
			doc.Issues = append(doc.Issues, toIssueDocument(project, issue))
		}
		return writeStructured(w, format, doc)
	}
	catalog, err := svc.Catalog(ctx, project.ID)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}
	r := boardRenderer{project: project, catalog: catalog, issues: byID, fs: fs, scope: scope}
	_, err = io.WriteString(w, r.Render(view))
	return err
}

func newBoardCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		scope        scopeFlags
		display      displayFlags
		format       string
		save         bool
		saveDefaults bool
		watch        bool
	)
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print the grouped view of a project, cycle, module or saved view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "board", stderr, func(s *session) error {
				sc, project, err := scope.resolve(ctx, s.svc)
				if err != nil {
					return err
				}
				store, err := openBoard(ctx, cmd, s.svc, sc, display)
				if err != nil {
					return err
				}
				if save || saveDefaults {
					saved, err := s.svc.SaveFilterState(ctx, sc, store.FilterState())
					if err != nil {
						return err
					}
					s.logger.Info("filter state saved", "scope", sc.Key())
					if saveDefaults {
						if err := config.SaveBoardDefaults(s.configPath, saved); err != nil {
							return fmt.Errorf("save board defaults: %w", err)
						}
						s.logger.Info("board defaults written", "config_path", s.configPath)
					}
				}
				if err := printBoard(ctx, stdout, outFormat, s.svc, project, store); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return watchBoard(ctx, cmd, s, sc, project, display, outFormat, stdout)
			})
		},
	}
	scope.register(cmd)
	display.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&save, "save", false, "persist the resulting filter state for this scope")
	cmd.Flags().BoolVar(&saveDefaults, "save-defaults", false, "also write the filter state as [board] defaults in the config file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redraw when the config or database changes")
	return cmd
}

// watchBoard redraws the board whenever a watched file settles after a
// change. It returns when ctx is cancelled.
func watchBoard(ctx context.Context, cmd *cobra.Command, s *session, sc domain.Scope, project domain.Project, display displayFlags, format outputFormat, stdout io.Writer) error {
	window, err := s.cfg.Watch.DebounceDuration()
	if err != nil {
		return err
	}
	w, err := watcher.New(platform.WatchTargets(s.configPath, s.dbPath), watcher.NewDebouncer(window), s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("watching for changes", "targets", w.Targets(), "debounce", window)
	s.logger.SetConsoleEnabled(false)
	defer s.logger.SetConsoleEnabled(true)

	var mu sync.Mutex
	return w.Run(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		store, err := openBoard(ctx, cmd, s.svc, sc, display)
		if err != nil {
			s.logger.Error("reload board", "scope", sc.Key(), "err", err)
			return
		}
		_, _ = io.WriteString(stdout, "\n")
		if err := printBoard(ctx, stdout, format, s.svc, project, store); err != nil {
			s.logger.Error("render board", "scope", sc.Key(), "err", err)
		}
	})
}

func newMoveCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		scope   scopeFlags
		display displayFlags
		src     reorder.Location
		dst     reorder.Location
		format  string
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Drag one issue from a position in the grouped view to another",
		Long: "move resolves a drag from --from-group/--from-index to --to-group/--to-index " +
			"(or --trash) against the scope's current grouped view, applies it and persists it. " +
			"Stale and disallowed drags change nothing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "move", stderr, func(s *session) error {
				sc, project, err := scope.resolve(ctx, s.svc)
				if err != nil {
					return err
				}
				store, err := openBoard(ctx, cmd, s.svc, sc, display)
				if err != nil {
					return err
				}
				result, err := store.HandleDragAndDrop(ctx, src, dst)
				switch {
				case errors.Is(err, reorder.ErrStaleDrag), errors.Is(err, reorder.ErrDisallowedMove):
					_, _ = fmt.Fprintf(stdout, "no change: %v\n", err)
					return nil
				case err != nil:
					return err
				}
				res := result.Resolution
				switch {
				case res.IsNoop():
					_, _ = fmt.Fprintln(stdout, "no change")
				case res.Kind == reorder.KindRemove:
					_, _ = fmt.Fprintf(stdout, "removed %s from %s\n", issueRef(project, res.Issue), sc.Key())
				default:
					_, _ = fmt.Fprintf(stdout, "moved %s\n", issueRef(project, res.Issue))
				}
				if result.Renormalized {
					_, _ = fmt.Fprintln(stdout, "sort orders renormalized")
				}
				if quiet {
					return nil
				}
				return printBoard(ctx, stdout, outFormat, s.svc, project, store)
			})
		},
	}
	scope.register(cmd)
	display.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&src.LaneKey, "from-lane", "", "source swim-lane key")
	flags.StringVar(&src.GroupKey, "from-group", "", "source group key")
	flags.IntVar(&src.Index, "from-index", 0, "index of the dragged issue in the source group")
	flags.StringVar(&dst.LaneKey, "to-lane", "", "destination swim-lane key")
	flags.StringVar(&dst.GroupKey, "to-group", "", "destination group key")
	flags.IntVar(&dst.Index, "to-index", 0, "index the issue should land at in the destination group")
	flags.BoolVar(&dst.Trash, "trash", false, "drop on the removal zone")
	flags.StringVarP(&format, "format", "f", "text", "output format for the board printed after the move")
	flags.BoolVarP(&quiet, "quiet", "q", false, "do not print the board after the move")
	_ = cmd.MarkFlagRequired("from-group")
	cmd.MarkFlagsOneRequired("to-group", "trash")
	cmd.MarkFlagsMutuallyExclusive("to-group", "trash")
	return cmd
}

func newRenormalizeCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "renormalize",
		Short: "Respace every sort order of a project evenly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withSession(ctx, opts, "renormalize", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				if err := s.svc.RenormalizeProject(ctx, p.ID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "renormalized %s\n", p.Identifier)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// activityDocument is the printable form of a change event.
type activityDocument struct {
	ID         int64             `json:"id" yaml:"id"`
	IssueID    string            `json:"issue_id" yaml:"issue_id"`
	Operation  string            `json:"operation" yaml:"operation"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	OccurredAt string            `json:"occurred_at" yaml:"occurred_at"`
}

func newActivityCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		project string
		limit   int
		format  string
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List recent issue changes of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "activity", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				events, err := s.svc.ListProjectChangeEvents(ctx, p.ID, limit)
				if err != nil {
					return err
				}
				docs := make([]activityDocument, 0, len(events))
				for _, ev := range events {
					docs = append(docs, activityDocument{
						ID:         ev.ID,
						IssueID:    ev.IssueID,
						Operation:  string(ev.Operation),
						Metadata:   ev.Metadata,
						OccurredAt: ev.OccurredAt.UTC().Format(time.RFC3339),
					})
				}
				if outFormat != formatText {
					return writeStructured(stdout, outFormat, docs)
				}
				for _, doc := range docs {
					_, _ = fmt.Fprintf(stdout, "%s  %-11s %s\n", doc.OccurredAt, doc.Operation, doc.IssueID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
