package conflict

import (
	"context"

	"tether/internal/domain/table"
)

// Repository stores conflict entries. Entries are never deleted.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	Get(ctx context.Context, conflictID string) (*Entry, error)
	Update(ctx context.Context, entry Entry) error
	// ListByStatus returns newest first; an empty status lists everything.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error)
	ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Entry, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
}
