package server

import (
	"github.com/NicolasHaas/gomingle/pkg/model"
)

// Registry is the single source of truth mapping connection id -> Session.
//
// Not safe for concurrent use on its own; the Coordinator serialises all
// access under its lock.
type Registry struct {
	sessions map[string]*model.Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*model.Session),
	}
}

// Register stores a session, filling defaults for missing optional
// attributes. Re-registering an id replaces its record.
func (r *Registry) Register(sess *model.Session) {
	sess.ApplyDefaults()
	r.sessions[sess.ID] = sess
}

// Get retrieves a session by id, or nil when absent. Callers treat nil as a
// silent no-op: a racing disconnect may have already removed the session.
func (r *Registry) Get(id string) *model.Session {
	return r.sessions[id]
}

// Remove deletes the record. No-op when absent.
func (r *Registry) Remove(id string) {
	delete(r.sessions, id)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	return len(r.sessions)
}
