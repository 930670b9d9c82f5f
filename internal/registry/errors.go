package registry

import "errors"

// Contract violations returned synchronously to callers, matchable with
// errors.Is.
var (
	ErrDuplicateSession      = errors.New("session already exists")
	ErrSessionNotFound       = errors.New("session not found")
	ErrEntryIndexOutOfBounds = errors.New("entry index out of bounds")
)
