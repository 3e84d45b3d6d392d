package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/tavla/internal/domain"
)

// GetFilterState returns the filter state saved for scope, if any.
func (r *Repository) GetFilterState(ctx context.Context, scope domain.Scope) (domain.FilterState, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT filters_json
		FROM view_states
		WHERE scope_key = ?
	`), scope.Key()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FilterState{}, false, nil
	}
	if err != nil {
		return domain.FilterState{}, false, err
	}
	var fs domain.FilterState
	if err := json.Unmarshal([]byte(raw), &fs); err != nil {
		return domain.FilterState{}, false, fmt.Errorf("decode view_states.filters_json: %w", err)
	}
	return fs, true, nil
}

// SaveFilterState stores fs as the filter state of scope.
func (r *Repository) SaveFilterState(ctx context.Context, scope domain.Scope, fs domain.FilterState) error {
	raw, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("encode view state: %w", err)
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO view_states(scope_key, scope_kind, scope_id, project_id, filters_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET filters_json = excluded.filters_json, updated_at = excluded.updated_at
	`), scope.Key(), string(scope.Kind), scope.ID, scope.ProjectID, string(raw), ts(time.Now()))
	return err
}
