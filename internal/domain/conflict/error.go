package conflict

import "errors"

var (
	ErrNotFound      = errors.New("conflict not found")
	ErrAlreadyClosed = errors.New("conflict already closed")
	ErrInvalidEntry  = errors.New("invalid conflict entry")
	ErrInvalidStatus = errors.New("invalid conflict status")
)
