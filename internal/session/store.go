package session

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
)

// Store errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Store is the durable keyed store contract the session service runs on.
// Implementations are expected to support per-key expiry; the in-memory
// store in this package honors TTLs on Sweep. A database-backed
// implementation lives outside this repository.
type Store interface {
	// GetSession returns a session by ID.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// PutSession stores a session with the given TTL. A zero TTL means no
	// expiry.
	PutSession(ctx context.Context, session *Session, ttl time.Duration) error

	// DeleteSession removes a session and its messages and agent states.
	DeleteSession(ctx context.Context, sessionID string) error

	// Messages returns the session's conversation in sequence order.
	Messages(ctx context.Context, sessionID string) ([]contextwindow.Message, error)

	// PutMessages replaces the session's conversation.
	PutMessages(ctx context.Context, sessionID string, msgs []contextwindow.Message, ttl time.Duration) error

	// AgentStates returns the session's per-phase agent states.
	AgentStates(ctx context.Context, sessionID string) ([]AgentState, error)

	// PutAgentStates replaces the session's agent states.
	PutAgentStates(ctx context.Context, sessionID string, states []AgentState, ttl time.Duration) error

	// Sweep removes expired keys and returns how many sessions were
	// dropped. Idempotent; safe to call from a background scheduler.
	Sweep(ctx context.Context) (int, error)
}
