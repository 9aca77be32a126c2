package broadcast

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// Broadcaster fans events out to scoped audiences. It holds no state of its
// own: the transport knows the live connections and the audience knows who
// joined with which role.
type Broadcaster struct {
	transport interfaces.Transport
	audience  interfaces.Audience
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broadcaster) { b.logger = logger }
}

// WithClock overrides the time source used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// New creates a Broadcaster over transport and audience.
func New(transport interfaces.Transport, audience interfaces.Audience, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		transport: transport,
		audience:  audience,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ToAll sends to every live connection, joined or not. It returns the number
// of connections the event was queued for.
func (b *Broadcaster) ToAll(event string, payload interface{}) int {
	return b.deliver(b.transport.ConnectionIDs(), event, payload)
}

// ToRole sends to every participant joined with role.
func (b *Broadcaster) ToRole(role types.Role, event string, payload interface{}) int {
	return b.deliver(b.audience.ConnectionIDs(role), event, payload)
}

// ToOne sends to a single connection.
func (b *Broadcaster) ToOne(connectionID string, event string, payload interface{}) bool {
	return b.deliver([]string{connectionID}, event, payload) == 1
}

// Chat stamps a message from sender and relays it to everyone. A nil or
// non-student sender is shown as "Teacher".
func (b *Broadcaster) Chat(sender *types.Participant, text string) types.ChatMessage {
	name := "Teacher"
	if sender != nil && sender.Role == types.RoleStudent && sender.DisplayName != "" {
		name = sender.DisplayName
	}

	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    name,
		Text:      text,
		Timestamp: b.now(),
	}
	b.ToAll(types.EventChatMessage, msg)
	return msg
}

// deliver keeps going past failed recipients; one bad connection never
// stops the rest of the fan-out.
func (b *Broadcaster) deliver(ids []string, event string, payload interface{}) int {
	sent := 0
	for _, id := range ids {
		if err := b.transport.Send(id, event, payload); err != nil {
			b.logger.Warn("delivery failed",
				zap.String("connection_id", id),
				zap.String("event", event),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
