package stillsuit

import "errors"

var (
	ErrItemNotFound         = errors.New("item not found")
	ErrItemAlreadyExists    = errors.New("item already exists")
	ErrNoActiveSession      = errors.New("no active session")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrScopeClosed          = errors.New("unit of work already finished")
	ErrNotTracked           = errors.New("entity is not tracked by the session")
	ErrUnknownEntity        = errors.New("entity type is not registered")
	ErrUnknownPath          = errors.New("unknown fetch path")
)
