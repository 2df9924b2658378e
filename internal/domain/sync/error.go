package sync

import "errors"

var (
	// ErrPreconditionFailed reports a conditional update whose base no longer
	// matches the server row.
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrRemoteNotFound     = errors.New("remote row not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrTickInProgress     = errors.New("sync tick already in progress")
	ErrRecordExists       = errors.New("record already exists")
	ErrMissingBase        = errors.New("update has no base version")
	ErrConflictClosed     = errors.New("conflict is not pending review")
)
