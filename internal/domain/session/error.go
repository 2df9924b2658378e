package session

import "errors"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNotFound     = errors.New("token not found")
	ErrEmptyLabel   = errors.New("token label is required")
)
