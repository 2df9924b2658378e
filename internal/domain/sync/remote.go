package sync

import (
	"context"
	"time"

	"tether/internal/domain/table"
)

// RemoteStore is the authoritative server as seen by the sync pipelines.
type RemoteStore interface {
	// Insert creates the row, or returns the existing one when the id is taken.
	Insert(ctx context.Context, name table.Name, row table.Row) (table.Row, error)
	// UpdateIf applies patch only while the server row's updated_at equals
	// base; otherwise it returns ErrPreconditionFailed.
	UpdateIf(ctx context.Context, name table.Name, id string, base time.Time, patch table.Row) (table.Row, error)
	// Fetch returns ErrRemoteNotFound for unknown ids.
	Fetch(ctx context.Context, name table.Name, id string) (table.Row, error)
	// FetchTable pages through a table by id, starting after the given id.
	FetchTable(ctx context.Context, name table.Name, after string, limit int) ([]table.Row, error)
	ChangesSince(ctx context.Context, seq int64, limit int) ([]ChangeLogEntry, error)
	MaxSeq(ctx context.Context) (int64, error)
}

type AuthProvider interface {
	IsAuthenticated() bool
}
