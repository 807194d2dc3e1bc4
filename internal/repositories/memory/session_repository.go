package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/formation-desk/api/internal/domain"
	"github.com/formation-desk/api/internal/repositories"
)

// SessionRepository keeps checkout sessions in process memory. It backs local
// development and tests; sessions are lost on restart.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.CheckoutSession
}

var (
	_ repositories.SessionRepository = (*SessionRepository)(nil)
	_ repositories.SessionCleaner    = (*SessionRepository)(nil)
)

// NewSessionRepository returns an empty in-memory repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.CheckoutSession)}
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}
	id := strings.TrimSpace(sessionID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.CheckoutSession{}, notFound("sessions.get", id)
	}
	return session.Clone(), nil
}

func (r *SessionRepository) Save(ctx context.Context, session domain.CheckoutSession, expectedUpdatedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("memory session repository: session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if expectedUpdatedAt != nil {
		current, ok := r.sessions[id]
		if !ok {
			return notFound("sessions.save", id)
		}
		if !current.UpdatedAt.Equal(*expectedUpdatedAt) {
			return conflict("sessions.save", id)
		}
	}
	r.sessions[id] = session.Clone()
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return notFound("sessions.delete", id)
	}
	delete(r.sessions, id)
	return nil
}

// CleanupExpired drops every session whose idle deadline is at or before now.
func (r *SessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, session := range r.sessions {
		if session.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many sessions are stored.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
