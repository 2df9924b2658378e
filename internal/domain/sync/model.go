package sync

import (
	"time"

	"tether/internal/domain/outbox"
	"tether/internal/domain/table"
)

// Operation is the kind of change recorded in the server change log.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ChangeLogEntry is one row of the server's append-only change log.
type ChangeLogEntry struct {
	Seq       int64     `json:"seq"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Operation Operation `json:"operation"`
	RowData   table.Row `json:"row_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Mutation is a local create, edit or delete of one record.
type Mutation struct {
	Table    table.Name
	Op       outbox.Op
	RecordID string
	Payload  table.Row
}

// Phase is the step a sync tick is currently in.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePush      Phase = "push"
	PhasePull      Phase = "pull"
	PhaseReconcile Phase = "reconcile"
)

type PushResult struct {
	Attempted int `json:"attempted"`
	Applied   int `json:"applied"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
	// Deferred counts transactions held back behind an earlier unsynced
	// transaction for the same record.
	Deferred int `json:"deferred"`
}

type PullResult struct {
	Applied      int   `json:"applied"`
	Cursor       int64 `json:"cursor"`
	HasMore      bool  `json:"has_more"`
	Bootstrapped bool  `json:"bootstrapped"`
}

type DrainResult struct {
	Pages   int   `json:"pages"`
	Applied int   `json:"applied"`
	Cursor  int64 `json:"cursor"`
	HasMore bool  `json:"has_more"`
}

type TickResult struct {
	Push PushResult  `json:"push"`
	Pull DrainResult `json:"pull"`
	// Refreshed counts discarded rows replaced by their server copy.
	Refreshed int `json:"refreshed"`
}
