package websocket

import (
	"sort"
	"sync"
)

// Registry is the live connection set, keyed by connection id. It is the
// transport the coordinator broadcasts through.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty connection set.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// RegisterConnection adds conn under its id.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
	return nil
}

// UnregisterConnection removes conn if it is still the registered instance
// for its id. Safe to call more than once.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if registered, ok := r.connections[conn.ID()]; ok && registered == conn {
		delete(r.connections, conn.ID())
	}
}

// GetConnection looks up a connection by id.
func (r *Registry) GetConnection(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// Send queues an event for one connection.
func (r *Registry) Send(connectionID string, event string, payload interface{}) error {
	conn, ok := r.GetConnection(connectionID)
	if !ok {
		return ErrUnknownConnection
	}
	return conn.Send(event, payload)
}

// ConnectionIDs returns every registered connection id, sorted.
func (r *Registry) ConnectionIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Disconnect flushes and closes a connection. Unknown ids are ignored.
func (r *Registry) Disconnect(connectionID string) error {
	conn, ok := r.GetConnection(connectionID)
	if !ok {
		return nil
	}
	conn.Shutdown()
	return nil
}

// CloseAll tears down every connection, used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Shutdown()
	}
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
	}
}
