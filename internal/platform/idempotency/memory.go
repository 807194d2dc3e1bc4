package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs single-instance deployments and tests. Records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, id := now.UTC(), documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, found := s.records[id]
	if found {
		state, replace, err := classify(existing, fingerprint, now)
		switch {
		case err != nil:
			return Reservation{}, err
		case !replace:
			return Reservation{State: state, Record: existing}, nil
		}
	}
	fresh := newPending(key, fingerprint, now, normalizeTTL(ttl))
	s.records[id] = fresh
	return Reservation{State: ReservationStateNew, Record: fresh}, nil
}

// Complete stores resp. A key released or swept since Reserve is recreated.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl, id := now.UTC(), normalizeTTL(ttl), documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	record, found := s.records[id]
	if !found {
		record = newPending(key, fingerprint, now, ttl)
	} else if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = withResponse(record, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, documentID(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for id, r := range s.records {
		if r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
