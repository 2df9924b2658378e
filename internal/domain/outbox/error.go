package outbox

import "errors"

var (
	ErrNotFound           = errors.New("outbox transaction not found")
	ErrImmutable          = errors.New("synced transaction is immutable")
	ErrInvalidTransaction = errors.New("invalid outbox transaction")
	ErrInvalidTransition  = errors.New("invalid outbox status transition")
)
