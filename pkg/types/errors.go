package types

import "errors"

// Poll rule violations, reported back to the teacher who sent the poll.
var (
	ErrQuestionRequired   = errors.New("question cannot be empty")
	ErrQuestionTooLong    = errors.New("question exceeds maximum length")
	ErrTooFewOptions      = errors.New("poll needs more options")
	ErrEmptyOption        = errors.New("option text cannot be empty")
	ErrInvalidTimeLimit   = errors.New("time limit is not one of the allowed values")
	ErrInvalidRole        = errors.New("invalid role: must be 'teacher' or 'student'")
	ErrInvalidDisplayName = errors.New("display name must be at most 50 characters")
	ErrInvalidChatMessage = errors.New("chat message must be 1-500 characters")
)
