package table

import "errors"

var (
	ErrUnknownTable   = errors.New("unknown table")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrMissingID      = errors.New("row has no id")
)
