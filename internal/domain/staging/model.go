package staging

import (
	"time"

	"tether/internal/domain/table"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCanceled   QueueStatus = "canceled"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed, QueueCanceled:
		return true
	}
	return false
}

// QueueItem is one free-form input waiting for extraction.
type QueueItem struct {
	InputID   string         `json:"input_id"`
	CreatedAt time.Time      `json:"created_at"`
	Text      string         `json:"text"`
	Context   map[string]any `json:"context,omitempty"`
	Status    QueueStatus    `json:"status"`
	Position  int            `json:"position"`
	Result    *string        `json:"result,omitempty"`
	Error     *string        `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type StagedStatus string

const (
	StagedProposed  StagedStatus = "proposed"
	StagedAccepted  StagedStatus = "accepted"
	StagedRejected  StagedStatus = "rejected"
	StagedEdited    StagedStatus = "edited"
	StagedCommitted StagedStatus = "committed"
)

func (s StagedStatus) Valid() bool {
	switch s {
	case StagedProposed, StagedAccepted, StagedRejected, StagedEdited, StagedCommitted:
		return true
	}
	return false
}

// StagedRow is an extracted row awaiting review before it becomes a local insert.
type StagedRow struct {
	StagedID         string       `json:"staged_id"`
	CreatedAt        time.Time    `json:"created_at"`
	InputID          string       `json:"input_id"`
	Table            table.Name   `json:"table"`
	ProposedRow      table.Row    `json:"proposed_row"`
	Status           StagedStatus `json:"status"`
	ValidationErrors []string     `json:"validation_errors,omitempty"`
	OriginLabel      *string      `json:"origin_label,omitempty"`
}

// Candidate is a row proposed by an Extractor.
type Candidate struct {
	Table  table.Name
	Row    table.Row
	Origin string
}

type CommitError struct {
	StagedID string `json:"staged_id"`
	Error    string `json:"error"`
}

type CommitResult struct {
	Committed int           `json:"committed"`
	Failed    int           `json:"failed"`
	Errors    []CommitError `json:"errors,omitempty"`
}
