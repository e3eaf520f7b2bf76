package bench

import (
	"sync"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/metrics"
)

// Registry maps live connections to their sessions. Actions on one session
// are serialized; different sessions proceed in parallel.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	metrics  *metrics.Recorder
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

// NewRegistry returns an empty registry. rec may be nil.
func NewRegistry(rec *metrics.Recorder) *Registry {
	return &Registry{sessions: make(map[string]*entry), metrics: rec}
}

// Insert registers s, replacing any session with the same id.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; !ok {
		r.metrics.SessionOpened()
	}
	r.sessions[s.ID()] = &entry{session: s}
}

// Remove drops the session. The stored record is untouched so the client can
// resume later.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.metrics.SessionClosed()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Do runs fn with exclusive access to the session.
func (r *Registry) Do(id string, fn func(*Session) error) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return errors.NewNotFound("session", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}
