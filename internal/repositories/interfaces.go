package repositories

import (
	"context"
	"time"

	"github.com/formation-desk/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SessionRepository persists checkout sessions.
type SessionRepository interface {
	// Get returns the session or a RepositoryError with IsNotFound.
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	// Save writes the session. When expectedUpdatedAt is non-nil the stored
	// session must carry that UpdatedAt, otherwise a conflict is returned.
	Save(ctx context.Context, session domain.CheckoutSession, expectedUpdatedAt *time.Time) error
	Delete(ctx context.Context, sessionID string) error
}

// SessionCleaner removes sessions whose idle deadline passed.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
