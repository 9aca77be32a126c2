package coordinator

import "errors"

// Lifecycle errors
var (
	ErrAlreadyRunning     = errors.New("coordinator is already running")
	ErrNotRunning         = errors.New("coordinator is not running")
	ErrCommandChannelFull = errors.New("command channel is full")
)

// Command errors, reported to the sending connection as command:rejected
var (
	ErrNotPermitted     = errors.New("not permitted for this role")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
)
