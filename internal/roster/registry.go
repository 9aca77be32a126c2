package roster

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"livepoll/pkg/types"
)

// Disconnecter forcibly closes a transport connection.
type Disconnecter interface {
	Disconnect(connectionID string) error
}

// Registry tracks joined participants keyed by connection id, with a
// per-role index for recipient lookups.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]types.Participant
	byRole       map[types.Role]map[string]struct{}

	transport Disconnecter
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the time source used for JoinedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty roster. transport is used by Kick and may be nil.
func NewRegistry(transport Disconnecter, opts ...Option) *Registry {
	r := &Registry{
		participants: make(map[string]types.Participant),
		byRole: map[types.Role]map[string]struct{}{
			types.RoleTeacher: {},
			types.RoleStudent: {},
		},
		transport: transport,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds or updates the participant for connectionID and reports whether
// the entry is new. A repeated join keeps the original JoinedAt; a role change
// moves the entry between role indexes.
func (r *Registry) Join(connectionID, displayName string, role types.Role) (types.Participant, bool, error) {
	if connectionID == "" {
		return types.Participant{}, false, ErrEmptyConnectionID
	}
	if !types.IsValidRole(role) {
		return types.Participant{}, false, types.ErrInvalidRole
	}
	name, err := types.NormalizeDisplayName(displayName, role)
	if err != nil {
		return types.Participant{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.participants[connectionID]
	p := types.Participant{
		ConnectionID: connectionID,
		DisplayName:  name,
		Role:         role,
		JoinedAt:     r.now(),
	}
	if exists {
		p.JoinedAt = existing.JoinedAt
		delete(r.byRole[existing.Role], connectionID)
	}
	r.participants[connectionID] = p
	r.byRole[role][connectionID] = struct{}{}

	if !exists {
		r.logger.Debug("participant joined",
			zap.String("connection_id", connectionID),
			zap.String("role", string(role)),
			zap.String("name", name))
	}
	return p, !exists, nil
}

// Leave removes connectionID and returns the prior entry. Leaving twice is a no-op.
func (r *Registry) Leave(connectionID string) (types.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID)
}

// Kick removes a participant and closes its connection. The transport is
// called after the registry lock is released.
func (r *Registry) Kick(connectionID string) (types.Participant, error) {
	r.mu.Lock()
	p, ok := r.removeLocked(connectionID)
	r.mu.Unlock()

	if !ok {
		return types.Participant{}, ErrUnknownParticipant
	}

	if r.transport != nil {
		if err := r.transport.Disconnect(connectionID); err != nil {
			r.logger.Warn("disconnect after kick failed",
				zap.String("connection_id", connectionID),
				zap.Error(err))
		}
	}
	r.logger.Info("participant kicked",
		zap.String("connection_id", connectionID),
		zap.String("name", p.DisplayName))
	return p, nil
}

func (r *Registry) removeLocked(connectionID string) (types.Participant, bool) {
	p, ok := r.participants[connectionID]
	if !ok {
		return types.Participant{}, false
	}
	delete(r.participants, connectionID)
	delete(r.byRole[p.Role], connectionID)
	return p, true
}

// Get returns the participant for connectionID.
func (r *Registry) Get(connectionID string) (types.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connectionID]
	return p, ok
}

// Roster returns the joined students ordered by join time, then connection id.
func (r *Registry) Roster() []types.Participant {
	r.mu.RLock()
	out := make([]types.Participant, 0, len(r.byRole[types.RoleStudent]))
	for id := range r.byRole[types.RoleStudent] {
		out = append(out, r.participants[id])
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// StudentCount returns the number of joined students.
func (r *Registry) StudentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRole[types.RoleStudent])
}

// ConnectionIDs returns the connection ids joined with role, sorted.
func (r *Registry) ConnectionIDs(role types.Role) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byRole[role]))
	for id := range r.byRole[role] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// GetStats returns roster counts for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"participants": len(r.participants),
		"teachers":     len(r.byRole[types.RoleTeacher]),
		"students":     len(r.byRole[types.RoleStudent]),
	}
}
