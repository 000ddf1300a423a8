package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

// Store is an in-memory implementation of idempotency.Store.
// It is safe for concurrent use; Insert is atomic under the store mutex.
type Store struct {
	mu sync.RWMutex
	m  map[idempotency.Token]idempotency.Entry
}

func NewStore() *Store {
	return &Store{
		m: make(map[idempotency.Token]idempotency.Entry),
	}
}

func (s *Store) Get(ctx context.Context, token idempotency.Token) (idempotency.Entry, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[token]
	if !ok {
		return idempotency.Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

func (s *Store) Insert(ctx context.Context, e idempotency.Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[e.Token]; ok {
		return idempotency.ErrAlreadyExists
	}
	s.m[e.Token] = cloneEntry(e)
	return nil
}

func (s *Store) Complete(ctx context.Context, e idempotency.Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[e.Token]
	if !ok || cur.Status != idempotency.StatusProcessing {
		return idempotency.ErrNotFound
	}
	s.m[e.Token] = cloneEntry(e)
	return nil
}

func (s *Store) Delete(ctx context.Context, token idempotency.Token) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, token)
	return nil
}

func (s *Store) DeleteIfExpired(ctx context.Context, token idempotency.Token, now time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[token]; ok && e.IsExpired(now) {
		delete(s.m, token)
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.m {
		if e.IsExpired(now) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (idempotency.Stats, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st idempotency.Stats
	for _, e := range s.m {
		st.Total++
		if e.IsExpired(now) {
			st.Expired++
		}
		switch e.Status {
		case idempotency.StatusProcessing:
			st.Processing++
		case idempotency.StatusCompleted:
			st.Completed++
		}
	}
	return st, nil
}

func cloneEntry(e idempotency.Entry) idempotency.Entry {
	out := e
	out.Response.Body = append([]byte(nil), e.Response.Body...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
