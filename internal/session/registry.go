package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds the open sessions, one per viewer.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	backend  Backend
	opts     Options
}

// NewRegistry creates an empty registry whose sessions talk to backend.
func NewRegistry(backend Backend, opts Options) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		backend:  backend,
		opts:     opts.withDefaults(),
	}
}

// Open starts a new session.
func (r *Registry) Open() *Session {
	s := New(uuid.NewString(), r.backend, r.opts)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	r.opts.Logger.Info().Str("session", s.ID()).Msg("session opened")
	return s
}

// Get retrieves a session by ID and marks it as used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Close stops and removes a session. It reports whether it existed.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Close()
		r.opts.Logger.Info().Str("session", id).Msg("session closed")
	}
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PruneIdle closes sessions that haven't been used for timeout.
func (r *Registry) PruneIdle(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		r.opts.Logger.Info().Int("count", len(stale)).Msg("pruned idle sessions")
	}
	return len(stale)
}

// RunCleanup prunes idle sessions every interval until ctx is done, then
// closes every remaining session.
func (r *Registry) RunCleanup(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.PruneIdle(timeout)
		case <-ctx.Done():
			r.CloseAll()
			return
		}
	}
}

// CloseAll stops every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
