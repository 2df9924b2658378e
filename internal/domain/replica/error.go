package replica

import "errors"

var (
	ErrNotFound     = errors.New("replica row not found")
	ErrInvalidRow   = errors.New("invalid replica row")
	ErrInvalidLimit = errors.New("limit must be positive")
)
