package domain

import "time"

// ChangeOperation describes a persisted activity operation for an issue.
type ChangeOperation string

// ChangeOperation values used by the local activity ledger.
const (
	ChangeOperationCreate      ChangeOperation = "create"
	ChangeOperationUpdate      ChangeOperation = "update"
	ChangeOperationMove        ChangeOperation = "move"
	ChangeOperationRemove      ChangeOperation = "remove"
	ChangeOperationDelete      ChangeOperation = "delete"
	ChangeOperationRenormalize ChangeOperation = "renormalize"
)

// ChangeEvent represents a single activity-log entry for a project issue.
type ChangeEvent struct {
	ID         int64
	ProjectID  string
	IssueID    string
	Operation  ChangeOperation
	Metadata   map[string]string
	OccurredAt time.Time
}
