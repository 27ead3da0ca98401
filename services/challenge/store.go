package challenge

import (
	"context"
	"sync"
	"time"
)

// Store persists one Record per principal. Swap is the only mutation path for
// an existing record: it writes next only while the stored record still has
// prev's nonce and attempt count and is not consumed.
type Store interface {
	Get(ctx context.Context, principalID string) (*Record, error)

	Put(ctx context.Context, rec *Record) error

	Swap(ctx context.Context, prev, next *Record) (bool, error)

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) Get(ctx context.Context, principalID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principalID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.PrincipalID] = rec.clone()
	return nil
}

func (s *MemoryStore) Swap(ctx context.Context, prev, next *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[prev.PrincipalID]
	if !ok || cur.Nonce != prev.Nonce || cur.Attempts != prev.Attempts || cur.Consumed {
		return false, nil
	}

	s.records[prev.PrincipalID] = next.clone()
	return true, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.records {
		if rec.ExpiresAt.Before(before) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
