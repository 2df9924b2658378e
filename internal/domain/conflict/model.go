package conflict

import (
	"time"

	"tether/internal/domain/table"
)

type Reason string

const (
	ReasonPreconditionFailed Reason = "update_precondition_failed"
	ReasonDeletedOnServer    Reason = "deleted_on_server"
	ReasonOther              Reason = "other"
)

type Status string

const (
	StatusPendingReview    Status = "pending_review"
	StatusManuallyResolved Status = "manually_resolved"
	StatusDismissed        Status = "dismissed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusManuallyResolved, StatusDismissed:
		return true
	}
	return false
}

// Entry records a rejected local mutation next to the server row that won.
// ServerRow is nil when the record no longer exists remotely.
type Entry struct {
	ConflictID string     `json:"conflict_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Table      table.Name `json:"table"`
	RecordID   string     `json:"record_id"`
	ServerRow  table.Row  `json:"server_row"`
	LocalRow   table.Row  `json:"local_row"`
	Reason     Reason     `json:"reason"`
	Status     Status     `json:"status"`
	Note       *string    `json:"note,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
