package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
	"github.com/fyrsmithlabs/flowd/internal/sessionlock"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// Config tunes the session service.
type Config struct {
	// TTL is the per-key expiry handed to the store. Zero disables expiry.
	TTL time.Duration `koanf:"ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour}
}

// Service is the session layer: it owns all mutation of sessions, messages
// and agent states, serialized per session through the advisory lock
// manager. Reads bypass locks by design and may trail concurrent writers.
type Service struct {
	store  Store
	locks  *sessionlock.Manager
	window *contextwindow.Manager
	config Config

	logger *zap.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service's logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithServiceClock injects a clock for deterministic timestamps in tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a session service.
func NewService(store Store, locks *sessionlock.Manager, window *contextwindow.Manager, cfg Config, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if window == nil {
		return nil, fmt.Errorf("context window manager is required")
	}
	s := &Service{
		store:  store,
		locks:  locks,
		window: window,
		config: cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create creates a new session.
func (s *Service) Create(ctx context.Context, metadata map[string]string) (*Session, error) {
	now := s.now()
	session := &Session{
		ID:        "sn_" + uuid.New().String()[:8],
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.store.PutSession(ctx, session, s.config.TTL); err != nil {
		return nil, err
	}
	s.logger.Info("session created", zap.String("session_id", session.ID))
	return session, nil
}

// Get returns a session by ID. Unlocked read.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Update applies mutate to the session under the session lock.
func (s *Service) Update(ctx context.Context, sessionID string, mutate func(*Session)) (*Session, error) {
	token, err := s.locks.Acquire(sessionID, sessionlock.OpSession)
	if err != nil {
		return nil, workflow.Errorf(workflow.CodeConcurrency,
			"session %s is locked for update", sessionID)
	}
	defer s.locks.Release(sessionID, token, sessionlock.OpSession)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	mutate(session)
	session.UpdatedAt = s.now()
	if err := s.store.PutSession(ctx, session, s.config.TTL); err != nil {
		return nil, err
	}
	return session, nil
}

// AppendMessage validates and appends a message under the message lock,
// assigning the next sequence number and a token estimate.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, sender contextwindow.Sender, content string) (*contextwindow.Message, error) {
	if err := s.window.ValidateMessage(content); err != nil {
		return nil, workflow.Errorf(workflow.CodeValidation, "%v", err)
	}

	token, err := s.locks.Acquire(sessionID, sessionlock.OpMessage)
	if err != nil {
		return nil, workflow.Errorf(workflow.CodeConcurrency,
			"session %s is locked for message append", sessionID)
	}
	defer s.locks.Release(sessionID, token, sessionlock.OpMessage)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.LastSequence++
	msg := contextwindow.Message{
		ID:             "ms_" + uuid.New().String()[:8],
		SessionID:      sessionID,
		Sender:         sender,
		Content:        content,
		SequenceNumber: session.LastSequence,
		TokenCount:     contextwindow.EstimateTokens(content),
	}

	// The counter is made durable before the message. A failed message write
	// then leaves a gap in the sequence, never a reused number.
	session.UpdatedAt = s.now()
	if err := s.store.PutSession(ctx, session, s.config.TTL); err != nil {
		return nil, err
	}
	msgs = append(msgs, msg)
	if err := s.store.PutMessages(ctx, sessionID, msgs, s.config.TTL); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns the session's conversation in sequence order. Unlocked
// read.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]contextwindow.Message, error) {
	return s.store.Messages(ctx, sessionID)
}

// Window returns the token-bounded context window over the session's
// conversation.
func (s *Service) Window(ctx context.Context, sessionID string) (*contextwindow.Window, error) {
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.window.CreateWindow(msgs)
}

// UpdateAgentState upserts one phase's agent state under the agent-state
// lock.
func (s *Service) UpdateAgentState(ctx context.Context, sessionID string, phase workflow.Phase, status workflow.ExecutionStatus) error {
	token, err := s.locks.Acquire(sessionID, sessionlock.OpAgentState)
	if err != nil {
		return workflow.Errorf(workflow.CodeConcurrency,
			"session %s is locked for agent state update", sessionID)
	}
	defer s.locks.Release(sessionID, token, sessionlock.OpAgentState)

	states, err := s.store.AgentStates(ctx, sessionID)
	if err != nil {
		return err
	}

	now := s.now()
	updated := false
	for i := range states {
		if states[i].Phase == phase {
			states[i].Status = status
			states[i].UpdatedAt = now
			updated = true
			break
		}
	}
	if !updated {
		states = append(states, AgentState{
			SessionID: sessionID,
			Phase:     phase,
			Status:    status,
			UpdatedAt: now,
		})
	}
	return s.store.PutAgentStates(ctx, sessionID, states, s.config.TTL)
}

// AgentStates returns the session's per-phase agent states. Unlocked read.
func (s *Service) AgentStates(ctx context.Context, sessionID string) ([]AgentState, error) {
	return s.store.AgentStates(ctx, sessionID)
}

// Delete removes the session and everything keyed under it, under the
// session lock.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	token, err := s.locks.Acquire(sessionID, sessionlock.OpSession)
	if err != nil {
		return workflow.Errorf(workflow.CodeConcurrency,
			"session %s is locked for delete", sessionID)
	}
	defer s.locks.Release(sessionID, token, sessionlock.OpSession)

	return s.store.DeleteSession(ctx, sessionID)
}

// Sweep drops expired sessions and expired locks. Idempotent maintenance
// entry point for the background scheduler.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	expiredLocks := s.locks.Sweep()
	removed, err := s.store.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 || expiredLocks > 0 {
		s.logger.Info("session sweep",
			zap.Int("sessions_removed", removed),
			zap.Int("locks_expired", expiredLocks),
		)
	}
	return removed, nil
}
