package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/snapquiz/internal/quiz/session"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds a new session with the given id.
type Factory func(id string) *session.Session

// Registry holds the live sessions of the server.
type Registry struct {
	factory Factory
	ttl     time.Duration
	newID   func() string
	now     func() time.Time
	log     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewRegistry creates a registry. Sessions idle for longer than ttl are
// removed by Start; ttl <= 0 keeps them forever.
func NewRegistry(factory Factory, ttl time.Duration) *Registry {
	return &Registry{
		factory:  factory,
		ttl:      ttl,
		newID:    uuid.NewString,
		now:      time.Now,
		log:      slog.Default().With("component", "registry"),
		sessions: make(map[string]*session.Session),
	}
}

// Create starts a new session on the title screen.
func (r *Registry) Create() *session.Session {
	s := r.factory(r.newID())

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete aborts and removes a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Abort()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start evicts idle sessions until ctx is done.
func (r *Registry) Start(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(max(r.ttl/4, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Info("Evicted idle sessions", "count", n)
			}
		}
	}
}

// Sweep removes sessions idle for longer than the ttl and returns how many
// were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	var expired []*session.Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Abort()
	}
	return len(expired)
}
