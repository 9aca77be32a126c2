package interfaces

import "livepoll/pkg/types"

// Transport is the live connection set. Implementations must not block on
// network I/O: Send queues the event and returns.
type Transport interface {
	// Send delivers a named event to one connection.
	Send(connectionID string, event string, payload interface{}) error

	// ConnectionIDs returns every live connection, joined or not.
	ConnectionIDs() []string

	// Disconnect forcibly closes a connection. Closing an unknown or already
	// closed connection is not an error.
	Disconnect(connectionID string) error
}

// Audience resolves role-scoped recipients from the participant roster.
type Audience interface {
	ConnectionIDs(role types.Role) []string
}

// StudentCounter reports how many students are currently registered.
type StudentCounter interface {
	StudentCount() int
}
