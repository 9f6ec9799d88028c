package api

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samcharles93/greedo/internal/inference"
	"github.com/samcharles93/greedo/internal/metrics"
)

// SessionFactory builds a fresh engine for the given session id.
type SessionFactory func(id string) (inference.Engine, error)

type sessionRecord struct {
	ID        string
	Engine    inference.Engine
	CreatedAt time.Time
}

// SessionStore owns the live sessions of a server. The map is guarded here;
// each engine guards its own state.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionRecord
	factory  SessionFactory
	limit    int
}

// NewSessionStore returns a store that creates engines with factory.
// limit <= 0 means unbounded.
func NewSessionStore(factory SessionFactory, limit int) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionRecord),
		factory:  factory,
		limit:    limit,
	}
}

func (s *SessionStore) Create(now time.Time) (*sessionRecord, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("session factory not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.sessions) >= s.limit {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, s.limit)
	}

	id := newSessionID()
	engine, err := s.factory(id)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	rec := &sessionRecord{ID: id, Engine: engine, CreatedAt: now}
	s.sessions[id] = rec
	metrics.SessionOpened()
	return rec, nil
}

func (s *SessionStore) Get(id string) (*sessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	metrics.SessionClosed()
	return true
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// List returns the records ordered by creation time.
func (s *SessionStore) List() []*sessionRecord {
	s.mu.Lock()
	out := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
