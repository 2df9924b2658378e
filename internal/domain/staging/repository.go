package staging

import "context"

type Repository interface {
	InsertItem(ctx context.Context, item QueueItem) error
	GetItem(ctx context.Context, inputID string) (*QueueItem, error)
	UpdateItem(ctx context.Context, item QueueItem) error
	// ListItems orders by position; an empty status lists everything.
	ListItems(ctx context.Context, status QueueStatus) ([]QueueItem, error)
	// NextPending returns the pending item with the lowest position or ErrQueueEmpty.
	NextPending(ctx context.Context) (*QueueItem, error)
	NextPosition(ctx context.Context) (int, error)

	InsertStaged(ctx context.Context, row StagedRow) error
	GetStaged(ctx context.Context, stagedID string) (*StagedRow, error)
	UpdateStaged(ctx context.Context, row StagedRow) error
	// ListStaged filters by status and input id when they are not empty.
	ListStaged(ctx context.Context, status StagedStatus, inputID string) ([]StagedRow, error)
}
