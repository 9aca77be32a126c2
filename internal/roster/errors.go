package roster

import "errors"

// Registry errors
var (
	ErrUnknownParticipant = errors.New("participant is not joined")
	ErrEmptyConnectionID  = errors.New("connection id cannot be empty")
)
