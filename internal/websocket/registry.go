package websocket

import (
	"sort"
	"sync"
)

// Registry tracks viewer connections by class
// TECHNICAL DISCOVERY: RWMutex optimizes for the read-heavy broadcast path
type Registry struct {
	mu      sync.RWMutex
	classes map[string]map[string]*Connection // classID -> connID -> Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]map[string]*Connection)}
}

// Register adds conn under its class.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.ClassID() == "" {
		return ErrMissingClass
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	viewers, ok := r.classes[conn.ClassID()]
	if !ok {
		viewers = make(map[string]*Connection)
		r.classes[conn.ClassID()] = viewers
	}
	viewers[conn.ID()] = conn
	return nil
}

// Unregister removes conn. Idempotent.
// RACE CONDITION FIX: only the registered instance is removed
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	viewers, ok := r.classes[conn.ClassID()]
	if !ok || viewers[conn.ID()] != conn {
		return
	}
	delete(viewers, conn.ID())
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if len(viewers) == 0 {
		delete(r.classes, conn.ClassID())
	}
}

// ClassConnections returns a snapshot of the viewers of classID.
func (r *Registry) ClassConnections(classID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	viewers := r.classes[classID]
	conns := make([]*Connection, 0, len(viewers))
	for _, c := range viewers {
		conns = append(conns, c)
	}
	return conns
}

// Stats reports viewer counts.
type Stats struct {
	Connections int            `json:"connections"`
	Classes     map[string]int `json:"classes"`
}

// GetStats returns viewer counts per class.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Classes: make(map[string]int, len(r.classes))}
	for id, viewers := range r.classes {
		stats.Classes[id] = len(viewers)
		stats.Connections += len(viewers)
	}
	return stats
}

// Classes returns the classes with at least one viewer, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.classes))
	for id := range r.classes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every viewer connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	classes := r.classes
	r.classes = make(map[string]map[string]*Connection)
	r.mu.Unlock()

	for _, viewers := range classes {
		for _, c := range viewers {
			_ = c.Close()
		}
	}
}
