// Package statemachine implements the per-workflow finite-state machine: it
// evaluates transition legality against an immutable definition, commits
// state changes with an append-only audit log, and emits entry/exit/action
// hooks as events for an external executor.
package statemachine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// TransitionResult reports the outcome of one transition attempt. Failures
// are carried as structured errors, never panics.
type TransitionResult struct {
	Success         bool                    `json:"success"`
	FromState       workflow.State          `json:"from_state"`
	ToState         workflow.State          `json:"to_state"`
	Trigger         workflow.Trigger        `json:"trigger"`
	TransitionID    string                  `json:"transition_id,omitempty"`
	ExecutedActions []string                `json:"executed_actions,omitempty"`
	Completed       bool                    `json:"completed,omitempty"`
	Errors          []*workflow.EngineError `json:"errors,omitempty"`
}

// Machine drives one workflow execution. It owns its ExecutionState: all
// mutation goes through Transition and ForceTransition. Transition is not
// reentrant; a concurrent call fails fast with TRANSITION_IN_PROGRESS
// instead of queueing.
type Machine struct {
	def   *workflow.Definition
	state *workflow.ExecutionState

	emitter HookEmitter
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	inProgress atomic.Bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithMetrics sets the machine's metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithClock injects a clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine for the given definition and execution state. The
// definition must validate and the state's current state must be a member of
// it.
func New(def *workflow.Definition, state *workflow.ExecutionState, emitter HookEmitter, opts ...Option) (*Machine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if !def.HasState(state.CurrentState) {
		return nil, workflow.Errorf(workflow.CodeInvalidState,
			"state %s is not part of definition %s", state.CurrentState, def.ID)
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}

	m := &Machine{
		def:     def,
		state:   state,
		emitter: emitter,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the execution state owned by this machine. Callers must not
// mutate it; reads may observe a slightly stale snapshot while a transition
// is in flight.
func (m *Machine) State() *workflow.ExecutionState {
	return m.state
}

// Definition returns the immutable definition this machine runs.
func (m *Machine) Definition() *workflow.Definition {
	return m.def
}

// Validate checks the current state is still a member of the definition.
func (m *Machine) Validate() error {
	if !m.def.HasState(m.state.CurrentState) {
		return workflow.Errorf(workflow.CodeInvalidState,
			"state %s is not part of definition %s", m.state.CurrentState, m.def.ID)
	}
	return nil
}

// Transition attempts to fire trigger from the current state. It finds the
// first edge matching (currentState, trigger) whose conditions all hold,
// commits the state change with an audit record, and emits exit, entry and
// action hooks as events. When no edge matches, the state is left unchanged
// and the result carries NO_VALID_TRANSITION.
func (m *Machine) Transition(ctx context.Context, trigger workflow.Trigger) TransitionResult {
	from := m.state.CurrentState

	if !m.inProgress.CompareAndSwap(false, true) {
		m.metrics.RecordFailure(ctx, trigger, workflow.CodeTransitionInProgress)
		return TransitionResult{
			FromState: from,
			ToState:   from,
			Trigger:   trigger,
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeTransitionInProgress,
					"a transition is already executing on workflow %s", m.state.ID),
			},
		}
	}
	defer m.inProgress.Store(false)

	start := m.now()

	edge, ok := m.matchEdge(trigger)
	if !ok {
		m.metrics.RecordFailure(ctx, trigger, workflow.CodeNoValidTransition)
		return TransitionResult{
			FromState: from,
			ToState:   from,
			Trigger:   trigger,
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeNoValidTransition,
					"no transition for trigger %s from state %s", trigger, from),
			},
		}
	}

	result := m.commit(ctx, edge, trigger, false, "")
	m.metrics.RecordTransition(ctx, trigger, m.now().Sub(start))
	return result
}

// ForceTransition moves the workflow to an arbitrary member state without a
// matching edge. It is the escape hatch behind the FORCE_TRANSITION trigger,
// used for resume-from-pause and operator intervention; normal flow never
// calls it.
func (m *Machine) ForceTransition(ctx context.Context, to workflow.State, reason string) TransitionResult {
	from := m.state.CurrentState

	if !m.inProgress.CompareAndSwap(false, true) {
		m.metrics.RecordFailure(ctx, workflow.TriggerForceTransition, workflow.CodeTransitionInProgress)
		return TransitionResult{
			FromState: from,
			ToState:   from,
			Trigger:   workflow.TriggerForceTransition,
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeTransitionInProgress,
					"a transition is already executing on workflow %s", m.state.ID),
			},
		}
	}
	defer m.inProgress.Store(false)

	if !m.def.HasState(to) {
		m.metrics.RecordFailure(ctx, workflow.TriggerForceTransition, workflow.CodeInvalidState)
		return TransitionResult{
			FromState: from,
			ToState:   from,
			Trigger:   workflow.TriggerForceTransition,
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeInvalidState,
					"state %s is not part of definition %s", to, m.def.ID),
			},
		}
	}

	edge := workflow.Transition{From: from, To: to, Trigger: workflow.TriggerForceTransition}
	return m.commit(ctx, edge, workflow.TriggerForceTransition, true, reason)
}

// matchEdge returns the first edge for (currentState, trigger) whose
// conditions all evaluate true.
func (m *Machine) matchEdge(trigger workflow.Trigger) (workflow.Transition, bool) {
	for _, edge := range m.def.TransitionsFrom(m.state.CurrentState, trigger) {
		if evaluateAll(m.state, edge.Conditions) {
			return edge, true
		}
	}
	return workflow.Transition{}, false
}

// commit applies an already-matched edge: exit hooks, state mutation, audit
// record, entry hooks, action hooks, and the completion notification when
// the new state is final. Hooks are events for an external executor; a
// failing hook never rolls the state change back.
func (m *Machine) commit(ctx context.Context, edge workflow.Transition, trigger workflow.Trigger, forced bool, reason string) TransitionResult {
	now := m.now()
	from := m.state.CurrentState

	m.emit(HookEvent{
		Kind:       HookStateExit,
		WorkflowID: m.state.ID,
		SessionID:  m.state.SessionID,
		State:      from,
		Trigger:    trigger,
		Timestamp:  now,
	})

	m.state.CurrentState = edge.To
	m.applyControlStateBookkeeping(from, edge.To, now)

	record := workflow.TransitionRecord{
		ID:              "tr_" + uuid.New().String()[:8],
		From:            from,
		To:              edge.To,
		Trigger:         trigger,
		Timestamp:       now,
		ExecutedActions: edge.Actions,
		Forced:          forced,
		Reason:          reason,
	}
	m.state.Transitions = append(m.state.Transitions, record)

	m.emit(HookEvent{
		Kind:       HookStateEntry,
		WorkflowID: m.state.ID,
		SessionID:  m.state.SessionID,
		State:      edge.To,
		Trigger:    trigger,
		Timestamp:  now,
	})
	for _, action := range edge.Actions {
		m.emit(HookEvent{
			Kind:       HookTransitionAction,
			WorkflowID: m.state.ID,
			SessionID:  m.state.SessionID,
			State:      edge.To,
			Trigger:    trigger,
			Action:     action,
			Timestamp:  now,
		})
	}

	completed := m.def.IsFinal(edge.To)
	if completed {
		end := now
		m.state.EndTime = &end
		m.metrics.RecordCompletion(ctx, edge.To)
		m.emit(HookEvent{
			Kind:       HookWorkflowComplete,
			WorkflowID: m.state.ID,
			SessionID:  m.state.SessionID,
			State:      edge.To,
			Trigger:    trigger,
			Timestamp:  now,
		})
	}

	m.logger.Info("workflow transition",
		zap.String("workflow_id", m.state.ID),
		zap.String("from", string(from)),
		zap.String("to", string(edge.To)),
		zap.String("trigger", string(trigger)),
		zap.Bool("completed", completed),
	)

	return TransitionResult{
		Success:         true,
		FromState:       from,
		ToState:         edge.To,
		Trigger:         trigger,
		TransitionID:    record.ID,
		ExecutedActions: edge.Actions,
		Completed:       completed,
	}
}

// applyControlStateBookkeeping maintains the pause timestamps around the
// PAUSED control state.
func (m *Machine) applyControlStateBookkeeping(from, to workflow.State, now time.Time) {
	if to == workflow.StatePaused {
		paused := now
		m.state.PausedAt = &paused
		m.state.PausedFrom = from
		return
	}
	if from == workflow.StatePaused {
		m.state.PausedAt = nil
		m.state.PausedFrom = ""
	}
}

// emit sends a hook event, guarding against a panicking emitter: hook
// delivery is best-effort and must not abort a committed transition.
func (m *Machine) emit(event HookEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("hook emitter panicked",
				zap.String("workflow_id", event.WorkflowID),
				zap.Any("panic", r),
			)
		}
	}()
	m.emitter.Emit(event)
}
