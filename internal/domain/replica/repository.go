package replica

import (
	"context"
	"time"

	"tether/internal/domain/table"
)

// Repository persists replica rows. Implementations join the storage
// transaction carried by ctx when there is one.
type Repository interface {
	Get(ctx context.Context, name table.Name, id string) (*Row, error)
	Touch(ctx context.Context, name table.Name, id string, at time.Time) error
	// Put writes the row and its envelope unconditionally.
	Put(ctx context.Context, row Row) error
	// PutClean writes server rows, leaving locally dirty rows untouched.
	// It returns the number of rows written.
	PutClean(ctx context.Context, name table.Name, rows []table.Row, at time.Time) (int, error)
	// DeleteClean physically removes rows that are not locally dirty.
	DeleteClean(ctx context.Context, name table.Name, ids []string) (int, error)
	ListByUpdatedAt(ctx context.Context, name table.Name, limit int) ([]Row, error)
	ListDirty(ctx context.Context, name table.Name) ([]Row, error)
	Count(ctx context.Context, name table.Name) (int, error)

	// EvictionCandidates returns least recently accessed rows across all
	// tables that are clean, not deleted and not referenced by an unsynced
	// outbox transaction.
	EvictionCandidates(ctx context.Context, limit int) ([]Key, error)
	// DeleteKeys removes rows regardless of their envelope.
	DeleteKeys(ctx context.Context, keys []Key) (int, error)

	// MarkStale clears the dirty flag of a row and queues it for a refetch.
	MarkStale(ctx context.Context, key Key, at time.Time) error
	// ListStale returns queued rows, oldest mark first.
	ListStale(ctx context.Context, limit int) ([]Key, error)
	ClearStale(ctx context.Context, key Key) error
}
