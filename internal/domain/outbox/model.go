package outbox

import (
	"time"

	"tether/internal/domain/table"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (o Op) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Unsynced lists the statuses of transactions that still owe the server a write.
var Unsynced = []Status{StatusPending, StatusSyncing, StatusError}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusError, StatusCanceled:
		return true
	}
	return false
}

// Transaction is one queued local mutation awaiting delivery.
type Transaction struct {
	TxID          string     `json:"tx_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Table         table.Name `json:"table"`
	Op            Op         `json:"op"`
	RecordID      string     `json:"record_id"`
	Payload       table.Row  `json:"payload"`
	BaseUpdatedAt *time.Time `json:"base_updated_at,omitempty"`
	Status        Status     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     *string    `json:"last_error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

// Patch carries the optional fields UpdateStatus merges into a transaction.
type Patch struct {
	AttemptCount  *int
	LastError     *string
	NextRetryAt   *time.Time
	SyncedAt      *time.Time
	BaseUpdatedAt *time.Time
	// ClearRetry drops a scheduled retry time.
	ClearRetry bool
}

func (p Patch) apply(tx *Transaction) {
	if p.AttemptCount != nil {
		tx.AttemptCount = *p.AttemptCount
	}
	if p.LastError != nil {
		msg := *p.LastError
		tx.LastError = &msg
	}
	if p.NextRetryAt != nil {
		at := *p.NextRetryAt
		tx.NextRetryAt = &at
	}
	if p.ClearRetry {
		tx.NextRetryAt = nil
	}
	if p.SyncedAt != nil {
		at := *p.SyncedAt
		tx.SyncedAt = &at
	}
	if p.BaseUpdatedAt != nil {
		at := *p.BaseUpdatedAt
		tx.BaseUpdatedAt = &at
	}
}

// RetryPolicy computes capped exponential delays for failed transactions.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 5 * time.Second, Max: 5 * time.Minute}
}

// Delay returns Base*2^(attempt-1), capped at Max.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
