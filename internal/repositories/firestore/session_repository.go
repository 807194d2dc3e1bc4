package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/formation-desk/api/internal/domain"
	pfirestore "github.com/formation-desk/api/internal/platform/firestore"
	"github.com/formation-desk/api/internal/repositories"
)

const (
	defaultSessionCollection = "checkoutSessions"
	cleanupBatchSize         = 200
)

// SessionRepository persists checkout sessions as one document per session.
type SessionRepository struct {
	provider   *pfirestore.Provider
	collection string
}

var (
	_ repositories.SessionRepository = (*SessionRepository)(nil)
	_ repositories.SessionCleaner    = (*SessionRepository)(nil)
)

// NewSessionRepository constructs a Firestore-backed session repository. An empty collection uses the default.
func NewSessionRepository(provider *pfirestore.Provider, collection string) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultSessionCollection
	}
	return &SessionRepository{provider: provider, collection: collection}, nil
}

func (r *SessionRepository) doc(ctx context.Context, sessionID string) (*firestore.DocumentRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("session repository not initialised")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("session repository: session id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection).Doc(id), nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	ref, err := r.doc(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.CheckoutSession{}, pfirestore.WrapError("sessions.get", err)
	}
	var doc sessionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CheckoutSession{}, pfirestore.WrapError("sessions.decode", err)
	}
	return doc.toDomain(ref.ID), nil
}

// Save writes the session. With expectedUpdatedAt set the write happens in a
// transaction that first compares the stored updatedAt field.
func (r *SessionRepository) Save(ctx context.Context, session domain.CheckoutSession, expectedUpdatedAt *time.Time) error {
	ref, err := r.doc(ctx, session.ID)
	if err != nil {
		return err
	}
	doc := newSessionDocument(session)

	if expectedUpdatedAt == nil {
		_, err := ref.Set(ctx, doc)
		return pfirestore.WrapError("sessions.save", err)
	}

	expected := storedTime(*expectedUpdatedAt)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("sessions.save", err)
		}
		var current sessionDocument
		if err := snap.DataTo(&current); err != nil {
			return pfirestore.WrapError("sessions.decode", err)
		}
		if !current.UpdatedAt.Equal(expected) {
			return pfirestore.ConflictError("sessions.save", "session "+ref.ID+" was modified concurrently")
		}
		return tx.Set(ref, doc)
	})
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	ref, err := r.doc(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("sessions.delete", err)
	}
	return nil
}

// CleanupExpired deletes sessions whose expiresAt is at or before now, in batches.
func (r *SessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("session repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for {
		iter := client.Collection(r.collection).
			Where("expiresAt", "<=", now.UTC()).
			Limit(cleanupBatchSize).
			Documents(ctx)

		writer := client.BulkWriter(ctx)
		var jobs []*firestore.BulkWriterJob
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				writer.End()
				return removed, pfirestore.WrapError("sessions.cleanup", err)
			}
			job, err := writer.Delete(snap.Ref)
			if err != nil {
				iter.Stop()
				writer.End()
				return removed, pfirestore.WrapError("sessions.cleanup", err)
			}
			jobs = append(jobs, job)
		}
		iter.Stop()
		writer.End()

		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return removed, pfirestore.WrapError("sessions.cleanup", err)
			}
			removed++
		}
		if len(jobs) < cleanupBatchSize {
			return removed, nil
		}
	}
}
