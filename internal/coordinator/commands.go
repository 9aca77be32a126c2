package coordinator

import "livepoll/pkg/types"

// Command is an inbound request for the coordinator loop. The set of
// commands is closed: only types in this package implement it.
type Command interface {
	// Origin is the connection that issued the command, empty for internal ones.
	Origin() string
	command()
}

// CreatePoll asks to start a new poll. Teachers only.
type CreatePoll struct {
	ConnectionID     string
	Question         string
	Options          []types.PollOption
	TimeLimitSeconds int
}

// SubmitAnswer records a student's choice on the active poll.
type SubmitAnswer struct {
	ConnectionID string
	OptionIndex  int
}

// EndPoll closes the active poll early. Teachers only.
type EndPoll struct {
	ConnectionID string
}

// Join adds the connection to the roster under role.
type Join struct {
	ConnectionID string
	DisplayName  string
	Role         types.Role
}

// Leave is submitted by the transport when a connection goes away.
type Leave struct {
	ConnectionID string
}

// Kick removes a student and closes its connection. Teachers only.
type Kick struct {
	ConnectionID string
	TargetID     string
}

// Chat relays a message to every connection.
type Chat struct {
	ConnectionID string
	Text         string
}

// RequestHistory asks for the closed poll results.
type RequestHistory struct {
	ConnectionID string
}

// pollExpired is enqueued by the poll countdown.
type pollExpired struct {
	pollID string
}

func (c CreatePoll) Origin() string     { return c.ConnectionID }
func (c SubmitAnswer) Origin() string   { return c.ConnectionID }
func (c EndPoll) Origin() string        { return c.ConnectionID }
func (c Join) Origin() string           { return c.ConnectionID }
func (c Leave) Origin() string          { return c.ConnectionID }
func (c Kick) Origin() string           { return c.ConnectionID }
func (c Chat) Origin() string           { return c.ConnectionID }
func (c RequestHistory) Origin() string { return c.ConnectionID }
func (pollExpired) Origin() string      { return "" }

func (CreatePoll) command()     {}
func (SubmitAnswer) command()   {}
func (EndPoll) command()        {}
func (Join) command()           {}
func (Leave) command()          {}
func (Kick) command()           {}
func (Chat) command()           {}
func (RequestHistory) command() {}
func (pollExpired) command()    {}
