package statemachine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// HookKind categorizes hook events emitted around a transition.
type HookKind string

const (
	HookStateExit        HookKind = "state_exit"
	HookStateEntry       HookKind = "state_entry"
	HookTransitionAction HookKind = "transition_action"
	HookWorkflowComplete HookKind = "workflow_complete"
)

// HookEvent is a named side-effect request emitted by the state machine.
// Hooks are best-effort: the state change that produced an event is already
// committed by the time the event is observed, and a failing hook never
// rolls it back.
type HookEvent struct {
	Kind       HookKind         `json:"kind"`
	WorkflowID string           `json:"workflow_id"`
	SessionID  string           `json:"session_id"`
	State      workflow.State   `json:"state,omitempty"`
	Trigger    workflow.Trigger `json:"trigger,omitempty"`
	Action     string           `json:"action,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// HookEmitter receives hook events. Implementations must not block the
// caller; the state machine emits synchronously from inside a transition.
type HookEmitter interface {
	Emit(event HookEvent)
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit implements HookEmitter.
func (NopEmitter) Emit(HookEvent) {}

// HookFunc executes one named hook action.
type HookFunc func(ctx context.Context, event HookEvent) error

// AsyncHookExecutor consumes hook events over a channel and dispatches them
// to registered actions on a dedicated worker. Events arriving faster than
// the worker drains them are dropped with a log line, preserving the
// non-transactional contract.
type AsyncHookExecutor struct {
	mu      sync.RWMutex
	actions map[string]HookFunc

	events chan HookEvent
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewAsyncHookExecutor creates an executor with the given queue depth.
func NewAsyncHookExecutor(queueSize int, logger *zap.Logger) *AsyncHookExecutor {
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncHookExecutor{
		actions: make(map[string]HookFunc),
		events:  make(chan HookEvent, queueSize),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register binds a named action to a hook function. State entry and exit
// events dispatch under the names "entry:<state>" and "exit:<state>";
// transition actions dispatch under their action name.
func (e *AsyncHookExecutor) Register(name string, fn HookFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[name] = fn
}

// Emit implements HookEmitter. Never blocks.
func (e *AsyncHookExecutor) Emit(event HookEvent) {
	select {
	case e.events <- event:
	default:
		e.logger.Warn("hook queue full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("workflow_id", event.WorkflowID),
			zap.String("action", event.Action),
		)
	}
}

// Start launches the worker. Subsequent calls are no-ops.
func (e *AsyncHookExecutor) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.run(ctx)
	})
}

// Close stops the worker after the in-flight event finishes.
func (e *AsyncHookExecutor) Close() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
}

func (e *AsyncHookExecutor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case event := <-e.events:
			e.dispatch(ctx, event)
		}
	}
}

func (e *AsyncHookExecutor) dispatch(ctx context.Context, event HookEvent) {
	name := event.Action
	switch event.Kind {
	case HookStateEntry:
		name = "entry:" + string(event.State)
	case HookStateExit:
		name = "exit:" + string(event.State)
	case HookWorkflowComplete:
		name = "workflow_complete"
	}

	e.mu.RLock()
	fn, ok := e.actions[name]
	e.mu.RUnlock()
	if !ok {
		return
	}

	if err := fn(ctx, event); err != nil {
		// Best effort: log and move on.
		e.logger.Warn("hook action failed",
			zap.String("action", name),
			zap.String("workflow_id", event.WorkflowID),
			zap.Error(err),
		)
	}
}
