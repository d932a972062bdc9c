package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/observability"
)

// Registry tracks every session handed out by the matchmaker.
// All methods are safe for concurrent use.
type Registry struct {
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry. metrics may be nil.
func NewRegistry(logger *zap.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Add registers s.
//
// Postcondition: Returns an error if a session with the same ID is already registered.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("session %q already registered", s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove unregisters the session with the given ID.
//
// Postcondition: Returns an error if not found.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.sessions[id]
	if !exists {
		return fmt.Errorf("session %q not found", id)
	}
	delete(r.sessions, id)
	r.metrics.SessionFinished(s.Status().String())
	return nil
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session whose IsActive is false.
//
// A session reaped before its Run noticed the lost participant is still in a
// round state; it is recorded as ABORTED since it can no longer finish.
//
// Postcondition: Returns the number of sessions removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.IsActive() {
			continue
		}
		delete(r.sessions, id)
		status := s.Status()
		if !status.Terminal() {
			r.logger.Debug("reaping unfinished session",
				zap.String("session", id),
				zap.Stringer("status", status),
				zap.Int("round", s.Round()),
			)
			status = StatusAborted
		}
		r.metrics.SessionFinished(status.String())
		removed++
	}
	if removed > 0 {
		r.logger.Debug("swept sessions", zap.Int("removed", removed), zap.Int("remaining", len(r.sessions)))
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
//
// Precondition: interval must be > 0.
// Postcondition: Returns ctx.Err().
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}
