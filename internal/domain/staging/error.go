package staging

import "errors"

var (
	ErrNotFound          = errors.New("staging item not found")
	ErrQueueEmpty        = errors.New("input queue is empty")
	ErrInvalidTransition = errors.New("invalid staging status transition")
	ErrEmptyInput        = errors.New("input text is empty")
	ErrInvalidRow        = errors.New("staged row does not pass validation")
)
