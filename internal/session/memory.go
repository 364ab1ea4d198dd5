package session

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
)

// entry wraps a stored value with its expiry. A zero expiry never expires.
type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// MemoryStore is an in-memory Store. It is thread-safe and suitable for
// single-instance deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]entry[*Session]
	messages map[string]entry[[]contextwindow.Message]
	agents   map[string]entry[[]AgentState]

	now func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock injects a clock so tests can advance virtual time through TTLs.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]entry[*Session]),
		messages: make(map[string]entry[[]contextwindow.Message]),
		agents:   make(map[string]entry[[]AgentState]),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	copied := *e.value
	return &copied, nil
}

// PutSession implements Store.
func (s *MemoryStore) PutSession(ctx context.Context, session *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	s.sessions[session.ID] = entry[*Session]{value: &stored, expiresAt: s.expiry(ttl)}
	return nil
}

// DeleteSession implements Store.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	delete(s.agents, sessionID)
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(ctx context.Context, sessionID string) ([]contextwindow.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.messages[sessionID]
	if !ok || e.expired(s.now()) {
		return nil, nil
	}
	out := make([]contextwindow.Message, len(e.value))
	copy(out, e.value)
	return out, nil
}

// PutMessages implements Store.
func (s *MemoryStore) PutMessages(ctx context.Context, sessionID string, msgs []contextwindow.Message, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]contextwindow.Message, len(msgs))
	copy(stored, msgs)
	s.messages[sessionID] = entry[[]contextwindow.Message]{value: stored, expiresAt: s.expiry(ttl)}
	return nil
}

// AgentStates implements Store.
func (s *MemoryStore) AgentStates(ctx context.Context, sessionID string) ([]AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.agents[sessionID]
	if !ok || e.expired(s.now()) {
		return nil, nil
	}
	out := make([]AgentState, len(e.value))
	copy(out, e.value)
	return out, nil
}

// PutAgentStates implements Store.
func (s *MemoryStore) PutAgentStates(ctx context.Context, sessionID string, states []AgentState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]AgentState, len(states))
	copy(stored, states)
	s.agents[sessionID] = entry[[]AgentState]{value: stored, expiresAt: s.expiry(ttl)}
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if e.expired(now) {
			delete(s.sessions, id)
			delete(s.messages, id)
			delete(s.agents, id)
			removed++
		}
	}
	for id, e := range s.messages {
		if e.expired(now) {
			delete(s.messages, id)
		}
	}
	for id, e := range s.agents {
		if e.expired(now) {
			delete(s.agents, id)
		}
	}
	return removed, nil
}
