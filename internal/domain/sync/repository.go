package sync

import "context"

const (
	// CursorKey is the sync_state key holding the last applied change-log seq.
	CursorKey = "sync_log.last_seq"
	// BootstrappedKey is set once a full snapshot has been loaded, since an
	// empty change log leaves the cursor at 0.
	BootstrappedKey = "sync_log.bootstrapped"
)

// StateRepository is a small key/value store for sync bookkeeping.
type StateRepository interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// Transactor runs fn inside one storage transaction carried by the context
// passed to fn. Nested calls join the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
