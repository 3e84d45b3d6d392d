package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

// projectDocument is the printable form of a project.
type projectDocument struct {
	ID          string `json:"id" yaml:"id"`
	Identifier  string `json:"identifier" yaml:"identifier"`
	Slug        string `json:"slug" yaml:"slug"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Archived    bool   `json:"archived,omitempty" yaml:"archived,omitempty"`
}

func toProjectDocument(p domain.Project) projectDocument {
	return projectDocument{
		ID:          p.ID,
		Identifier:  p.Identifier,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		Archived:    p.ArchivedAt != nil,
	}
}

func newProjectCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}

	var in app.CreateProjectInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project with the configured workflow states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withSession(ctx, opts, "project create", stderr, func(s *session) error {
				p, err := s.svc.CreateProject(ctx, in)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "created project %s (%s)\n", p.Identifier, p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "project name")
	create.Flags().StringVar(&in.Identifier, "identifier", "", "short issue prefix, derived from the name when empty")
	create.Flags().StringVar(&in.Description, "description", "", "project description")
	_ = create.MarkFlagRequired("name")

	var (
		includeArchived bool
		format          string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "project list", stderr, func(s *session) error {
				projects, err := s.svc.ListProjects(ctx, includeArchived)
				if err != nil {
					return err
				}
				docs := make([]projectDocument, 0, len(projects))
				for _, p := range projects {
					docs = append(docs, toProjectDocument(p))
				}
				if outFormat != formatText {
					return writeStructured(stdout, outFormat, docs)
				}
				for _, doc := range docs {
					_, _ = fmt.Fprintf(stdout, "%-6s %s  %s\n", doc.Identifier, doc.Name, mutedStyle.Render(doc.ID))
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived projects")
	list.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")

	cmd.AddCommand(create, list)
	return cmd
}

// catalogDocument is the printable form of a project's catalog.
type catalogDocument struct {
	States  []catalogEntry `json:"states" yaml:"states"`
	Labels  []catalogEntry `json:"labels,omitempty" yaml:"labels,omitempty"`
	Members []catalogEntry `json:"members,omitempty" yaml:"members,omitempty"`
	Cycles  []catalogEntry `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Modules []catalogEntry `json:"modules,omitempty" yaml:"modules,omitempty"`
	Views   []catalogEntry `json:"views,omitempty" yaml:"views,omitempty"`
}

type catalogEntry struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
}

func newCatalogCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage project states, labels, members, cycles, modules and saved views",
	}
	cmd.AddCommand(
		newCatalogShowCommand(opts, stdout, stderr),
		newCatalogStateCommand(opts, stdout, stderr),
		newCatalogNamedCommand(opts, stdout, stderr, "label", "Add a label", func(s *session, projectID, name string, cmd *cobra.Command) (string, error) {
			l, err := s.svc.CreateLabel(cmd.Context(), projectID, name)
			return l.ID, err
		}),
		newCatalogNamedCommand(opts, stdout, stderr, "module", "Add a module", func(s *session, projectID, name string, cmd *cobra.Command) (string, error) {
			m, err := s.svc.CreateModule(cmd.Context(), projectID, name)
			return m.ID, err
		}),
		newCatalogMemberCommand(opts, stdout, stderr),
		newCatalogCycleCommand(opts, stdout, stderr),
		newCatalogViewCommand(opts, stdout, stderr),
	)
	return cmd
}

func newCatalogShowCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var project, format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a project's catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "catalog show", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				catalog, err := s.svc.Catalog(ctx, p.ID)
				if err != nil {
					return err
				}
				cycles, err := s.repo.ListCycles(ctx, p.ID)
				if err != nil {
					return err
				}
				modules, err := s.repo.ListModules(ctx, p.ID)
				if err != nil {
					return err
				}
				views, err := s.repo.ListViews(ctx, p.ID)
				if err != nil {
					return err
				}
				var doc catalogDocument
				for _, st := range catalog.SortedStates() {
					doc.States = append(doc.States, catalogEntry{ID: st.ID, Name: st.Name, Group: string(st.Group)})
				}
				for _, l := range catalog.SortedLabels() {
					doc.Labels = append(doc.Labels, catalogEntry{ID: l.ID, Name: l.Name})
				}
				for _, m := range catalog.SortedMembers() {
					doc.Members = append(doc.Members, catalogEntry{ID: m.ID, Name: m.DisplayName})
				}
				for _, c := range cycles {
					doc.Cycles = append(doc.Cycles, catalogEntry{ID: c.ID, Name: c.Name})
				}
				for _, m := range modules {
					doc.Modules = append(doc.Modules, catalogEntry{ID: m.ID, Name: m.Name})
				}
				for _, v := range views {
					doc.Views = append(doc.Views, catalogEntry{ID: v.ID, Name: v.Name})
				}
				if outFormat != formatText {
					return writeStructured(stdout, outFormat, doc)
				}
				sections := []struct {
					title   string
					entries []catalogEntry
				}{
					{"states", doc.States},
					{"labels", doc.Labels},
					{"members", doc.Members},
					{"cycles", doc.Cycles},
					{"modules", doc.Modules},
					{"views", doc.Views},
				}
				for _, section := range sections {
					if len(section.entries) == 0 {
						continue
					}
					_, _ = fmt.Fprintln(stdout, headerStyle.Render(section.title))
					for _, e := range section.entries {
						name := e.Name
						if e.Group != "" {
							name = fmt.Sprintf("%s [%s]", e.Name, e.Group)
						}
						_, _ = fmt.Fprintf(stdout, "  %s  %s\n", name, mutedStyle.Render(e.ID))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newCatalogStateCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		project string
		in      app.CreateStateInput
		group   string
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Add a workflow state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withSession(ctx, opts, "catalog state", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				in.ProjectID = p.ID
				in.Group = domain.StateGroup(group)
				st, err := s.svc.CreateState(ctx, in)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "created state %s (%s)\n", st.Name, st.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVar(&in.Name, "name", "", "state name")
	cmd.Flags().StringVar(&group, "group", "", "state group: backlog, unstarted, started, completed, cancelled")
	cmd.Flags().Float64Var(&in.Sequence, "sequence", 0, "position within the state group")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

type catalogCreateFunc func(s *session, projectID, name string, cmd *cobra.Command) (string, error)

// newCatalogNamedCommand builds a subcommand for catalog entries that only
// carry a name.
func newCatalogNamedCommand(opts *rootOptions, stdout, stderr io.Writer, kind, short string, create catalogCreateFunc) *cobra.Command {
	var project, name string
	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withSession(ctx, opts, "catalog "+kind, stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				id, err := create(s, p.ID, name, cmd)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "created %s %s (%s)\n", kind, strings.TrimSpace(name), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVar(&name, "name", "", kind+" name")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCatalogMemberCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var project, id, name string
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Add or rename a project member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withSession(ctx, opts, "catalog member", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				m, err := s.svc.UpsertMember(ctx, p.ID, id, name)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "saved member %s (%s)\n", m.DisplayName, m.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVar(&id, "id", "", "member id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCatalogCycleCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var project, name, start, end string
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Add a cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			startDate, err := domain.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			endDate, err := domain.ParseDate(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "catalog cycle", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				c, err := s.svc.CreateCycle(ctx, app.CreateCycleInput{ProjectID: p.ID, Name: name, StartDate: startDate, EndDate: endDate})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "created cycle %s (%s)\n", c.Name, c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVar(&name, "name", "", "cycle name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCatalogViewCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		project string
		name    string
		display displayFlags
	)
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Save a named view from display and filter flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs, _, err := display.apply(cmd, domain.FilterState{Layout: domain.LayoutKanban, GroupBy: domain.GroupByState})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "catalog view", stderr, func(s *session) error {
				p, err := resolveProject(ctx, s.svc, project)
				if err != nil {
					return err
				}
				v, err := s.svc.CreateView(ctx, p.ID, name, fs)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "created view %s (%s)\n", v.Name, v.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id, identifier or slug")
	cmd.Flags().StringVar(&name, "name", "", "view name")
	display.register(cmd)
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
