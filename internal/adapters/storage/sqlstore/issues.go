package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

const issueColumns = `id, project_id, sequence_id, name, state_id, state_group, priority, label_ids_json, assignee_ids_json,
	created_by, start_date, target_date, sort_order, cycle_id, module_ids_json, created_at, updated_at`

// CreateIssue inserts an issue and records a create event in the same transaction.
func (r *Repository) CreateIssue(ctx context.Context, issue domain.Issue) error {
	labelsJSON, assigneesJSON, modulesJSON, err := encodeIssueLists(issue)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.q(`
		INSERT INTO issues(`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		issue.ID,
		issue.ProjectID,
		issue.SequenceID,
		issue.Name,
		issue.StateID,
		string(issue.StateGroup),
		string(issue.Priority),
		labelsJSON,
		assigneesJSON,
		issue.CreatedBy,
		nullableDate(issue.StartDate),
		nullableDate(issue.TargetDate),
		issue.SortOrder,
		issue.CycleID,
		modulesJSON,
		ts(issue.CreatedAt),
		ts(issue.UpdatedAt),
	)
	if err != nil {
		return err
	}

	err = r.insertChangeEvent(ctx, tx, domain.ChangeEvent{
		ProjectID: issue.ProjectID,
		IssueID:   issue.ID,
		Operation: domain.ChangeOperationCreate,
		Metadata: map[string]string{
			"name":       issue.Name,
			"state_id":   issue.StateID,
			"sort_order": formatOrder(issue.SortOrder),
		},
		OccurredAt: issue.CreatedAt,
	})
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// UpdateIssue replaces an issue and records the classified change event.
func (r *Repository) UpdateIssue(ctx context.Context, issue domain.Issue) error {
	labelsJSON, assigneesJSON, modulesJSON, err := encodeIssueLists(issue)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prev, err := r.getIssue(ctx, tx, issue.ID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, r.q(`
		UPDATE issues
		SET sequence_id = ?, name = ?, state_id = ?, state_group = ?, priority = ?, label_ids_json = ?, assignee_ids_json = ?,
			created_by = ?, start_date = ?, target_date = ?, sort_order = ?, cycle_id = ?, module_ids_json = ?, updated_at = ?
		WHERE id = ?
	`),
		issue.SequenceID,
		issue.Name,
		issue.StateID,
		string(issue.StateGroup),
		string(issue.Priority),
		labelsJSON,
		assigneesJSON,
		issue.CreatedBy,
		nullableDate(issue.StartDate),
		nullableDate(issue.TargetDate),
		issue.SortOrder,
		issue.CycleID,
		modulesJSON,
		ts(issue.UpdatedAt),
		issue.ID,
	)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}

	op, metadata := classifyIssueTransition(prev, issue)
	err = r.insertChangeEvent(ctx, tx, domain.ChangeEvent{
		ProjectID:  issue.ProjectID,
		IssueID:    issue.ID,
		Operation:  op,
		Metadata:   metadata,
		OccurredAt: issue.UpdatedAt,
	})
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// GetIssue returns issue.
func (r *Repository) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return r.getIssue(ctx, r.db, id)
}

// ListIssues lists the issues of a project in sort order.
func (r *Repository) ListIssues(ctx context.Context, projectID string) ([]domain.Issue, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+issueColumns+`
		FROM issues
		WHERE project_id = ?
		ORDER BY sort_order ASC, id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

// DeleteIssue deletes issue.
func (r *Repository) DeleteIssue(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	issue, err := r.getIssue(ctx, tx, id)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM issues WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}

	err = r.insertChangeEvent(ctx, tx, domain.ChangeEvent{
		ProjectID: issue.ProjectID,
		IssueID:   issue.ID,
		Operation: domain.ChangeOperationDelete,
		Metadata: map[string]string{
			"name":     issue.Name,
			"state_id": issue.StateID,
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// RenumberIssues rewrites sort orders for a project in one transaction.
func (r *Repository) RenumberIssues(ctx context.Context, projectID string, orders map[string]float64, now time.Time) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, r.q(`UPDATE issues SET sort_order = ?, updated_at = ? WHERE id = ? AND project_id = ?`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		var res sql.Result
		res, err = stmt.ExecContext(ctx, orders[id], ts(now), id, projectID)
		if err != nil {
			return err
		}
		if err = translateNoRows(res); err != nil {
			return fmt.Errorf("renumber issue %q: %w", id, err)
		}
	}

	err = r.insertChangeEvent(ctx, tx, domain.ChangeEvent{
		ProjectID:  projectID,
		Operation:  domain.ChangeOperationRenormalize,
		Metadata:   map[string]string{"count": strconv.Itoa(len(orders))},
		OccurredAt: now,
	})
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// ListProjectChangeEvents lists recent project events for activity-log consumption.
func (r *Repository) ListProjectChangeEvents(ctx context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, project_id, issue_id, operation, metadata_json, created_at
		FROM change_events
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.ProjectID, &event.IssueID, &opRaw, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = normalizeChangeOperation(opRaw)
		event.OccurredAt = parseTS(createdRaw)
		event.Metadata, err = decodeMetadata(metadataRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

func (r *Repository) getIssue(ctx context.Context, q queryRower, id string) (domain.Issue, error) {
	row := q.QueryRowContext(ctx, r.q(`
		SELECT `+issueColumns+`
		FROM issues
		WHERE id = ?
	`), id)
	return scanIssue(row)
}

// insertChangeEvent inserts a change-event ledger record.
func (r *Repository) insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	if event.Metadata == nil {
		metadataJSON = []byte("{}")
	}
	_, err = execer.ExecContext(ctx, r.q(`
		INSERT INTO change_events(project_id, issue_id, operation, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`),
		event.ProjectID,
		event.IssueID,
		string(event.Operation),
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// classifyIssueTransition derives the operation category and metadata for an issue update.
func classifyIssueTransition(prev, next domain.Issue) (domain.ChangeOperation, map[string]string) {
	if prev.CycleID != "" && next.CycleID == "" {
		return domain.ChangeOperationRemove, map[string]string{"cycle_id": prev.CycleID}
	}
	if dropped := missingIDs(prev.ModuleIDs, next.ModuleIDs); len(dropped) > 0 {
		return domain.ChangeOperationRemove, map[string]string{"module_ids": strings.Join(dropped, ",")}
	}
	if prev.SortOrder != next.SortOrder || prev.StateID != next.StateID {
		metadata := map[string]string{
			"from_sort_order": formatOrder(prev.SortOrder),
			"to_sort_order":   formatOrder(next.SortOrder),
		}
		if prev.StateID != next.StateID {
			metadata["from_state_id"] = prev.StateID
			metadata["to_state_id"] = next.StateID
		}
		if fields := changedIssueFields(prev, next); len(fields) > 0 {
			metadata["changed_fields"] = strings.Join(fields, ",")
		}
		return domain.ChangeOperationMove, metadata
	}
	metadata := map[string]string{}
	if fields := changedIssueFields(prev, next); len(fields) > 0 {
		metadata["changed_fields"] = strings.Join(fields, ",")
	}
	return domain.ChangeOperationUpdate, metadata
}

// changedIssueFields lists the grouping-relevant fields that differ, in a fixed order.
func changedIssueFields(prev, next domain.Issue) []string {
	changed := make([]string, 0)
	if prev.Name != next.Name {
		changed = append(changed, "name")
	}
	if prev.Priority != next.Priority {
		changed = append(changed, "priority")
	}
	if !slices.Equal(prev.LabelIDs, next.LabelIDs) {
		changed = append(changed, "label_ids")
	}
	if !slices.Equal(prev.AssigneeIDs, next.AssigneeIDs) {
		changed = append(changed, "assignee_ids")
	}
	if domain.DateKey(prev.StartDate) != domain.DateKey(next.StartDate) {
		changed = append(changed, "start_date")
	}
	if domain.DateKey(prev.TargetDate) != domain.DateKey(next.TargetDate) {
		changed = append(changed, "target_date")
	}
	if prev.CycleID != next.CycleID {
		changed = append(changed, "cycle_id")
	}
	if !slices.Equal(prev.ModuleIDs, next.ModuleIDs) {
		changed = append(changed, "module_ids")
	}
	return changed
}

func missingIDs(prev, next []string) []string {
	var out []string
	for _, id := range prev {
		if !slices.Contains(next, id) {
			out = append(out, id)
		}
	}
	return out
}

// normalizeChangeOperation canonicalizes persisted operation values.
func normalizeChangeOperation(raw string) domain.ChangeOperation {
	op := domain.ChangeOperation(strings.TrimSpace(strings.ToLower(raw)))
	switch op {
	case domain.ChangeOperationCreate,
		domain.ChangeOperationUpdate,
		domain.ChangeOperationMove,
		domain.ChangeOperationRemove,
		domain.ChangeOperationDelete,
		domain.ChangeOperationRenormalize:
		return op
	default:
		return domain.ChangeOperationUpdate
	}
}

// normalizeEventTS ensures event timestamps are always populated and UTC-normalized.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

func scanIssue(s scanner) (domain.Issue, error) {
	var (
		issue        domain.Issue
		stateGroup   string
		priority     string
		labelsRaw    string
		assigneesRaw string
		modulesRaw   string
		startRaw     sql.NullString
		targetRaw    sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := s.Scan(
		&issue.ID,
		&issue.ProjectID,
		&issue.SequenceID,
		&issue.Name,
		&issue.StateID,
		&stateGroup,
		&priority,
		&labelsRaw,
		&assigneesRaw,
		&issue.CreatedBy,
		&startRaw,
		&targetRaw,
		&issue.SortOrder,
		&issue.CycleID,
		&modulesRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Issue{}, app.ErrNotFound
		}
		return domain.Issue{}, err
	}
	var err error
	if issue.LabelIDs, err = decodeIDs(labelsRaw, "label_ids_json"); err != nil {
		return domain.Issue{}, err
	}
	if issue.AssigneeIDs, err = decodeIDs(assigneesRaw, "assignee_ids_json"); err != nil {
		return domain.Issue{}, err
	}
	if issue.ModuleIDs, err = decodeIDs(modulesRaw, "module_ids_json"); err != nil {
		return domain.Issue{}, err
	}
	issue.StateGroup = domain.StateGroup(stateGroup)
	issue.Priority = domain.NormalizePriority(domain.Priority(priority))
	issue.StartDate = parseNullDate(startRaw)
	issue.TargetDate = parseNullDate(targetRaw)
	issue.CreatedAt = parseTS(createdRaw)
	issue.UpdatedAt = parseTS(updatedRaw)
	return issue, nil
}

func encodeIssueLists(issue domain.Issue) (labels, assignees, modules string, err error) {
	if labels, err = encodeIDs(issue.LabelIDs); err != nil {
		return "", "", "", err
	}
	if assignees, err = encodeIDs(issue.AssigneeIDs); err != nil {
		return "", "", "", err
	}
	if modules, err = encodeIDs(issue.ModuleIDs); err != nil {
		return "", "", "", err
	}
	return labels, assignees, modules, nil
}
