package session

import "errors"

// Poll session errors. None of them are fatal; the session stays usable.
var (
	ErrPollAlreadyActive = errors.New("a poll is already active")
	ErrNoActivePoll      = errors.New("no active poll")
	ErrDuplicateAnswer   = errors.New("participant has already answered")
	ErrInvalidOption     = errors.New("option index out of range")
	ErrInvalidPoll       = errors.New("invalid poll")
)
