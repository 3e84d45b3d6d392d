package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"charm.land/lipgloss/v2"
	"gopkg.in/yaml.v3"

	"github.com/hylla/tavla/internal/domain"
	"github.com/hylla/tavla/internal/grouping"
)

// outputFormat names how a command prints its result.
type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func parseOutputFormat(raw string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return f, nil
	case "yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want text, json or yaml)", raw)
	}
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format outputFormat, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		encoded = append(encoded, '\n')
		_, err = w.Write(encoded)
		return err
	}
}

// issueDocument is the printable form of one issue.
type issueDocument struct {
	ID          string            `json:"id" yaml:"id"`
	Ref         string            `json:"ref" yaml:"ref"`
	Name        string            `json:"name" yaml:"name"`
	StateID     string            `json:"state_id" yaml:"state_id"`
	StateGroup  domain.StateGroup `json:"state_group" yaml:"state_group"`
	Priority    domain.Priority   `json:"priority" yaml:"priority"`
	LabelIDs    []string          `json:"label_ids,omitempty" yaml:"label_ids,omitempty"`
	AssigneeIDs []string          `json:"assignee_ids,omitempty" yaml:"assignee_ids,omitempty"`
	TargetDate  string            `json:"target_date,omitempty" yaml:"target_date,omitempty"`
	SortOrder   float64           `json:"sort_order" yaml:"sort_order"`
	CycleID     string            `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`
	ModuleIDs   []string          `json:"module_ids,omitempty" yaml:"module_ids,omitempty"`
}

func issueRef(project domain.Project, issue domain.Issue) string {
	return fmt.Sprintf("%s-%d", project.Identifier, issue.SequenceID)
}

func toIssueDocument(project domain.Project, issue domain.Issue) issueDocument {
	return issueDocument{
		ID:          issue.ID,
		Ref:         issueRef(project, issue),
		Name:        issue.Name,
		StateID:     issue.StateID,
		StateGroup:  issue.StateGroup,
		Priority:    issue.Priority,
		LabelIDs:    issue.LabelIDs,
		AssigneeIDs: issue.AssigneeIDs,
		TargetDate:  domain.DateKey(issue.TargetDate),
		SortOrder:   issue.SortOrder,
		CycleID:     issue.CycleID,
		ModuleIDs:   issue.ModuleIDs,
	}
}

// scopeDocument is the printable form of a scope.
type scopeDocument struct {
	Kind      domain.ScopeKind `json:"kind" yaml:"kind"`
	ID        string           `json:"id" yaml:"id"`
	ProjectID string           `json:"project_id" yaml:"project_id"`
}

// boardDocument is what `board --format json|yaml` prints.
type boardDocument struct {
	Scope       scopeDocument      `json:"scope" yaml:"scope"`
	FilterState domain.FilterState `json:"filter_state" yaml:"filter_state"`
	View        grouping.View      `json:"view" yaml:"view"`
	Issues      []issueDocument    `json:"issues" yaml:"issues"`
}

const (
	columnWidth  = 32
	maxNameWidth = columnWidth - 12
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	laneStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).MarginTop(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(columnWidth)
	sectionStyle = lipgloss.NewStyle().PaddingLeft(2)
)

// boardRenderer renders a grouped view as kanban columns or list sections.
type boardRenderer struct {
	project domain.Project
	catalog domain.Catalog
	issues  map[string]domain.Issue
	fs      domain.FilterState
	scope   domain.Scope
}

func (r boardRenderer) Render(view grouping.View) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s", r.project.Name, r.scopeLabel())))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("layout=%s group_by=%s sub_group_by=%s order_by=%s", r.fs.Layout, view.GroupBy, view.SubGroupBy, view.OrderBy)))
	b.WriteString("\n")
	if view.IsSubGrouped() {
		for _, lane := range view.Lanes {
			b.WriteString(laneStyle.Render(r.keyLabel(view.SubGroupBy, lane.Key)))
			b.WriteString("\n")
			b.WriteString(r.renderBuckets(view.GroupBy, lane.Groups))
			b.WriteString("\n")
		}
		return b.String()
	}
	b.WriteString(r.renderBuckets(view.GroupBy, view.Groups))
	b.WriteString("\n")
	return b.String()
}

func (r boardRenderer) renderBuckets(groupBy domain.GroupBy, buckets []grouping.Bucket) string {
	if len(buckets) == 0 {
		return mutedStyle.Render("(no issues)")
	}
	blocks := make([]string, 0, len(buckets))
	for _, bucket := range buckets {
		lines := []string{headerStyle.Render(fmt.Sprintf("%s (%d)", r.keyLabel(groupBy, bucket.Key), len(bucket.IssueIDs)))}
		for idx, id := range bucket.IssueIDs {
			lines = append(lines, fmt.Sprintf("%s %s", mutedStyle.Render(fmt.Sprintf("%2d", idx)), r.issueLine(id)))
		}
		if len(bucket.IssueIDs) == 0 {
			lines = append(lines, mutedStyle.Render("empty"))
		}
		body := strings.Join(lines, "\n")
		if r.fs.Layout == domain.LayoutKanban {
			blocks = append(blocks, columnStyle.Render(body))
			continue
		}
		blocks = append(blocks, sectionStyle.Render(body))
	}
	if r.fs.Layout == domain.LayoutKanban {
		return lipgloss.JoinHorizontal(lipgloss.Top, blocks...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (r boardRenderer) issueLine(id string) string {
	issue, ok := r.issues[id]
	if !ok {
		return id
	}
	return fmt.Sprintf("%s %s", issueRef(r.project, issue), truncate(issue.Name, maxNameWidth))
}

func (r boardRenderer) scopeLabel() string {
	if r.scope.Kind == domain.ScopeProject {
		return "all issues"
	}
	return fmt.Sprintf("%s %s", r.scope.Kind, r.scope.ID)
}

// keyLabel maps a bucket key to a readable name. Sentinel and value keys
// are shown as they are.
func (r boardRenderer) keyLabel(groupBy domain.GroupBy, key string) string {
	switch groupBy {
	case domain.GroupByState:
		if state, ok := r.catalog.StateByID(key); ok {
			return state.Name
		}
	case domain.GroupByLabels:
		for _, label := range r.catalog.Labels {
			if label.ID == key {
				return label.Name
			}
		}
	case domain.GroupByAssignees, domain.GroupByCreatedBy:
		for _, member := range r.catalog.Members {
			if member.ID == key {
				return member.DisplayName
			}
		}
	}
	return key
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
