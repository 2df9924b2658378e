package outbox

import (
	"context"
	"time"

	"tether/internal/domain/table"
)

type Repository interface {
	Insert(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, txID string) (*Transaction, error)
	Update(ctx context.Context, tx Transaction) error

	// ListByStatus returns transactions in created_at order. A non-positive
	// limit returns every match; no statuses means any status.
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Transaction, error)
	// ListRetryable returns errored transactions whose next_retry_at is due.
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]Transaction, error)
	ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Transaction, error)
	CountByStatus(ctx context.Context, status Status) (int, error)

	// Rebase sets base_updated_at on the pending and errored transactions of a record.
	Rebase(ctx context.Context, name table.Name, recordID string, base time.Time) (int, error)
	// Claim moves a pending or errored transaction to syncing and reports
	// whether this caller won it.
	Claim(ctx context.Context, txID string) (bool, error)
	// ResetStatus moves every transaction in one status to another.
	ResetStatus(ctx context.Context, from, to Status) (int, error)
}
