package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
	"github.com/fyrsmithlabs/flowd/internal/sessionlock"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore wraps a Store and fails message writes on demand.
type faultyStore struct {
	Store
	failPutMessages bool
}

var errStoreDown = errors.New("store unavailable")

func (s *faultyStore) PutMessages(ctx context.Context, sessionID string, msgs []contextwindow.Message, ttl time.Duration) error {
	if s.failPutMessages {
		return errStoreDown
	}
	return s.Store.PutMessages(ctx, sessionID, msgs, ttl)
}

func newTestService(t *testing.T, clock *fakeClock, ttl time.Duration) (*Service, *sessionlock.Manager) {
	t.Helper()

	svc, locks, _ := newTestServiceWithStore(t, clock, ttl)
	return svc, locks
}

func newTestServiceWithStore(t *testing.T, clock *fakeClock, ttl time.Duration) (*Service, *sessionlock.Manager, *faultyStore) {
	t.Helper()

	window, err := contextwindow.NewManager(contextwindow.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	locks := sessionlock.NewManager(30*time.Second, sessionlock.WithClock(clock.Now))
	store := &faultyStore{Store: NewMemoryStore(WithClock(clock.Now))}
	svc, err := NewService(store, locks, window,
		Config{TTL: ttl},
		WithServiceClock(clock.Now),
	)
	require.NoError(t, err)
	return svc, locks, store
}

func TestService_CreateAndGet(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, map[string]string{"project": "greenfield"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ID, "sn_"), "session ID %q", created.ID)
	assert.Equal(t, StatusActive, created.Status)
	assert.Equal(t, clock.Now(), created.CreatedAt)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "greenfield", got.Metadata["project"])

	// The store hands out copies; mutating a read must not leak back.
	got.Status = StatusPaused
	again, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
}

func TestService_GetMissing(t *testing.T) {
	svc, _ := newTestService(t, newFakeClock(), 0)

	_, err := svc.Get(context.Background(), "sn_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_Update(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	updated, err := svc.Update(ctx, created.ID, func(s *Session) {
		s.Status = StatusComplete
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, updated.Status)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func TestService_UpdateLockContention(t *testing.T) {
	clock := newFakeClock()
	svc, locks := newTestService(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	_, err = locks.Acquire(created.ID, sessionlock.OpSession)
	require.NoError(t, err)
	_, err = svc.Update(ctx, created.ID, func(s *Session) { s.Status = StatusPaused })
	assert.Equal(t, workflow.CodeConcurrency, workflow.CodeOf(err))
}

func TestService_AppendMessageSequencing(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	first, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "I want to build a marketplace")
	require.NoError(t, err)
	second, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderAgent, "Tell me about your target users")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.ID, "ms_"), "message ID %q", first.ID)
	assert.Equal(t, 1, first.SequenceNumber)
	assert.Equal(t, 2, second.SequenceNumber)
	assert.Equal(t, contextwindow.EstimateTokens(first.Content), first.TokenCount)

	msgs, err := svc.Messages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, contextwindow.SenderUser, msgs[0].Sender)
	assert.Equal(t, contextwindow.SenderAgent, msgs[1].Sender)

	sess, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.LastSequence)
}

func TestService_AppendMessageFailedWriteNeverReusesSequence(t *testing.T) {
	clock := newFakeClock()
	svc, _, store := newTestServiceWithStore(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	first, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "first")
	require.NoError(t, err)
	assert.Equal(t, 1, first.SequenceNumber)

	// The counter is persisted before the message, so a failed message write
	// consumes its sequence number.
	store.failPutMessages = true
	_, err = svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "lost")
	require.ErrorIs(t, err, errStoreDown)

	sess, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.LastSequence)

	// The next append leaves a gap; sequence 2 is never reissued.
	store.failPutMessages = false
	third, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "third")
	require.NoError(t, err)
	assert.Equal(t, 3, third.SequenceNumber)

	msgs, err := svc.Messages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].SequenceNumber)
	assert.Equal(t, 3, msgs[1].SequenceNumber)
}

func TestService_AppendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t, newFakeClock(), 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  "},
		{"over token limit", strings.Repeat("x", 2001*4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, tt.content)
			assert.Equal(t, workflow.CodeValidation, workflow.CodeOf(err))
		})
	}
}

func TestService_AppendMessageLockContention(t *testing.T) {
	clock := newFakeClock()
	svc, locks := newTestService(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	_, err = locks.Acquire(created.ID, sessionlock.OpMessage)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "hello")
	assert.Equal(t, workflow.CodeConcurrency, workflow.CodeOf(err))

	// The session lock is a different operation and stays available.
	_, err = svc.Update(ctx, created.ID, func(s *Session) {})
	assert.NoError(t, err)
}

func TestService_AppendMessageMissingSession(t *testing.T) {
	svc, _ := newTestService(t, newFakeClock(), 0)

	_, err := svc.AppendMessage(context.Background(), "sn_missing", contextwindow.SenderUser, "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_UpdateAgentStateUpsert(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateAgentState(ctx, created.ID, workflow.PhaseAnalyst, workflow.ExecutionPending))
	require.NoError(t, svc.UpdateAgentState(ctx, created.ID, workflow.PhasePM, workflow.ExecutionPending))

	clock.Advance(time.Minute)
	require.NoError(t, svc.UpdateAgentState(ctx, created.ID, workflow.PhaseAnalyst, workflow.ExecutionComplete))

	states, err := svc.AgentStates(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, states, 2)

	byPhase := map[workflow.Phase]AgentState{}
	for _, st := range states {
		byPhase[st.Phase] = st
	}
	assert.Equal(t, workflow.ExecutionComplete, byPhase[workflow.PhaseAnalyst].Status)
	assert.Equal(t, workflow.ExecutionPending, byPhase[workflow.PhasePM].Status)
	assert.True(t, byPhase[workflow.PhaseAnalyst].UpdatedAt.After(byPhase[workflow.PhasePM].UpdatedAt),
		"upsert did not refresh UpdatedAt")
}

func TestService_WindowOverConversation(t *testing.T) {
	svc, _ := newTestService(t, newFakeClock(), 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	for _, content := range []string{"first message", "second message", "third message"} {
		_, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, content)
		require.NoError(t, err)
	}

	win, err := svc.Window(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, win.Messages, 3)
	assert.Nil(t, win.Summary, "small conversation should not be summarized")
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService(t, newFakeClock(), 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "hello")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))

	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	msgs, err := svc.Messages(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "messages survived delete")

	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrSessionNotFound)
}

func TestService_TTLExpiryAndSweep(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, time.Hour)
	ctx := context.Background()

	expired, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, expired.ID, contextwindow.SenderUser, "stale")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	fresh, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)

	// 75 minutes past the first session's write, 45 past the second's.
	_, err = svc.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	removed, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestService_AppendRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	// Keep the session alive with activity just before each expiry.
	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Minute)
		_, err := svc.AppendMessage(ctx, created.ID, contextwindow.SenderUser, "still here")
		require.NoError(t, err, "round %d", i)
	}

	clock.Advance(50 * time.Minute)
	sess, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.LastSequence)
}
