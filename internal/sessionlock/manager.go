// Package sessionlock provides advisory, TTL-bounded mutual exclusion per
// (session, operation class) pair. Locks are cooperative: every mutating
// session operation acquires before mutating and releases on every exit
// path. A lock whose TTL has elapsed is considered abandoned and may be
// re-granted without an explicit release, which recovers from crashed
// holders.
package sessionlock

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation classes used by the session layer. Callers may use their own
// strings; locks only collide within the same class.
const (
	OpSession    = "session"
	OpMessage    = "message"
	OpAgentState = "agent_state"
	OpWorkflow   = "workflow"
)

// ErrLockHeld is returned by Acquire when an unexpired lock exists for the
// same (session, operation) pair.
var ErrLockHeld = errors.New("session lock already held")

// Lock is one granted advisory lock.
type Lock struct {
	SessionID string    `json:"session_id"`
	Operation string    `json:"operation"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager grants and releases advisory session locks.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*Lock
	ttl   time.Duration
	now   func() time.Time

	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock, letting tests advance virtual time instead of
// sleeping through TTLs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a lock manager whose grants expire after ttl.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		locks:  make(map[string]*Lock),
		ttl:    ttl,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func key(sessionID, operation string) string {
	return sessionID + ":" + operation
}

// Acquire grants a lock for (sessionID, operation) and returns its opaque
// token. It fails with ErrLockHeld while an unexpired lock exists for the
// same pair; an expired lock is silently replaced.
func (m *Manager) Acquire(sessionID, operation string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(sessionID, operation)
	now := m.now()

	if existing, ok := m.locks[k]; ok {
		if existing.ExpiresAt.After(now) {
			return "", ErrLockHeld
		}
		m.logger.Debug("reclaiming expired session lock",
			zap.String("session_id", sessionID),
			zap.String("operation", operation),
		)
	}

	lock := &Lock{
		SessionID: sessionID,
		Operation: operation,
		Token:     "lk_" + uuid.New().String()[:8],
		ExpiresAt: now.Add(m.ttl),
	}
	m.locks[k] = lock
	return lock.Token, nil
}

// Release releases the lock identified by token. It is idempotent and never
// fails: releasing an unknown, expired or mismatched token is a no-op, so
// callers can release unconditionally on every exit path.
func (m *Manager) Release(sessionID, token, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(sessionID, operation)
	existing, ok := m.locks[k]
	if !ok || existing.Token != token {
		return
	}
	delete(m.locks, k)
}

// Held reports whether an unexpired lock exists for the pair.
func (m *Manager) Held(sessionID, operation string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key(sessionID, operation)]
	return ok && existing.ExpiresAt.After(m.now())
}

// Sweep drops expired locks and returns how many were removed. It is an
// idempotent maintenance entry point for the background scheduler.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, lock := range m.locks {
		if !lock.ExpiresAt.After(now) {
			delete(m.locks, k)
			removed++
		}
	}
	return removed
}
