// Package orchestrator is the top-level registry of active workflows. It
// maps external interaction intents onto state-machine triggers, drives
// agent phases through the coordinator, enforces the concurrent-workflow
// cap, and reaps idle workflows. It is the outermost boundary for
// unexpected faults: panics from below are mapped to EXECUTION_ERROR and
// the workflow is left in its last good state.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
	"github.com/fyrsmithlabs/flowd/internal/coordinator"
	"github.com/fyrsmithlabs/flowd/internal/sessionlock"
	"github.com/fyrsmithlabs/flowd/internal/statemachine"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// Action is an external interaction intent.
type Action string

const (
	ActionContinue Action = "continue"
	ActionPause    Action = "pause"
	ActionRestart  Action = "restart"
	ActionCancel   Action = "cancel"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrentWorkflows caps the active registry.
	MaxConcurrentWorkflows int `koanf:"max_concurrent_workflows"`

	// MaxWorkflowDuration plus GracePeriod is how long a workflow may sit
	// idle before the reaper removes it.
	MaxWorkflowDuration time.Duration `koanf:"max_workflow_duration"`
	GracePeriod         time.Duration `koanf:"grace_period"`

	// ReapInterval is the period of the background reaper loop.
	ReapInterval time.Duration `koanf:"reap_interval"`

	// AutoAdvance moves a workflow from P_COMPLETE straight into the next
	// phase's active state after a successful execution. When false the
	// workflow waits in P_COMPLETE for an explicit continue.
	AutoAdvance bool `koanf:"auto_advance"`

	// StartRatePerSecond and StartBurst rate-limit workflow starts per
	// instance.
	StartRatePerSecond float64 `koanf:"start_rate_per_second"`
	StartBurst         int     `koanf:"start_burst"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkflows: 50,
		MaxWorkflowDuration:    30 * time.Minute,
		GracePeriod:            5 * time.Minute,
		ReapInterval:           time.Minute,
		AutoAdvance:            true,
		StartRatePerSecond:     5,
		StartBurst:             10,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MaxConcurrentWorkflows <= 0 {
		return fmt.Errorf("max_concurrent_workflows must be > 0")
	}
	if c.MaxWorkflowDuration <= 0 {
		return fmt.Errorf("max_workflow_duration must be > 0")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be > 0")
	}
	if c.StartRatePerSecond <= 0 || c.StartBurst <= 0 {
		return fmt.Errorf("start rate limit must be > 0")
	}
	return nil
}

// Sessions is the slice of the session layer the orchestrator records
// conversation and agent-state updates through. Optional; a nil Sessions
// disables recording.
type Sessions interface {
	AppendMessage(ctx context.Context, sessionID string, sender contextwindow.Sender, content string) (*contextwindow.Message, error)
	UpdateAgentState(ctx context.Context, sessionID string, phase workflow.Phase, status workflow.ExecutionStatus) error
}

// instance pairs a state machine with its reaper bookkeeping. mu serializes
// all access to the machine and its execution state, so status views read a
// consistent snapshot while a phase executes; lastActivity is guarded by the
// orchestrator's registry lock instead.
type instance struct {
	mu           sync.Mutex
	machine      *statemachine.Machine
	lastActivity time.Time
	lastHandoff  *coordinator.HandoffPackage
}

// Orchestrator owns the active-workflow registry. The registry is mutated
// only by the orchestrator itself and is never exposed for direct external
// mutation.
type Orchestrator struct {
	mu     sync.RWMutex
	active map[string]*instance

	definition  *workflow.Definition
	coordinator *coordinator.Coordinator
	locks       *sessionlock.Manager
	sessions    Sessions
	emitter     statemachine.HookEmitter

	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *Metrics
	smMet   *statemachine.Metrics
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessions wires the session layer for conversation recording.
func WithSessions(s Sessions) Option {
	return func(o *Orchestrator) { o.sessions = s }
}

// WithHookEmitter wires the hook event sink used by every state machine the
// orchestrator creates.
func WithHookEmitter(e statemachine.HookEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the orchestrator's metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStateMachineMetrics sets the metrics handed to created machines.
func WithStateMachineMetrics(m *statemachine.Metrics) Option {
	return func(o *Orchestrator) { o.smMet = m }
}

// WithClock injects a clock, letting tests drive the reaper deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator running the given definition.
func New(def *workflow.Definition, coord *coordinator.Coordinator, locks *sessionlock.Manager, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		active:      make(map[string]*instance),
		definition:  def,
		coordinator: coord,
		locks:       locks,
		emitter:     statemachine.NopEmitter{},
		config:      cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.StartRatePerSecond), cfg.StartBurst),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// StartWorkflow registers a new workflow for the session and fires START,
// leaving it in the first phase's active state. Rejected with
// RESOURCE_LIMIT_ERROR when the start rate or the concurrent-workflow cap
// is exceeded.
func (o *Orchestrator) StartWorkflow(ctx context.Context, sessionID, projectInput string) (*ExecutionView, error) {
	if sessionID == "" {
		return nil, workflow.Errorf(workflow.CodeValidation, "session id is required")
	}
	if !o.limiter.Allow() {
		o.metrics.RecordRejection(ctx, "rate_limit")
		return nil, workflow.Errorf(workflow.CodeResourceLimit, "workflow start rate exceeded")
	}

	token, err := o.locks.Acquire(sessionID, sessionlock.OpWorkflow)
	if err != nil {
		return nil, workflow.Errorf(workflow.CodeConcurrency,
			"session %s has a workflow operation in flight", sessionID)
	}
	defer o.locks.Release(sessionID, token, sessionlock.OpWorkflow)

	state := workflow.NewExecutionState(o.definition, sessionID, workflow.NewProjectContext(projectInput), o.now())
	machine, err := statemachine.New(o.definition, state, o.emitter,
		statemachine.WithLogger(o.logger),
		statemachine.WithMetrics(o.smMet),
		statemachine.WithClock(o.now),
	)
	if err != nil {
		return nil, err
	}

	inst := &instance{machine: machine, lastActivity: o.now()}

	o.mu.Lock()
	if len(o.active) >= o.config.MaxConcurrentWorkflows {
		o.mu.Unlock()
		o.metrics.RecordRejection(ctx, "cap")
		return nil, workflow.Errorf(workflow.CodeResourceLimit,
			"concurrent workflow cap of %d reached", o.config.MaxConcurrentWorkflows)
	}
	o.active[state.ID] = inst
	o.mu.Unlock()

	inst.mu.Lock()
	res := machine.Transition(ctx, workflow.TriggerStart)
	if !res.Success {
		inst.mu.Unlock()
		o.removeWorkflow(ctx, state.ID)
		return nil, res.Errors[0]
	}
	view := buildView(state)
	inst.mu.Unlock()

	o.metrics.RecordStart(ctx)
	o.logger.Info("workflow started",
		zap.String("workflow_id", state.ID),
		zap.String("session_id", sessionID),
	)
	return view, nil
}

// GetWorkflowStatus returns a view of the workflow, or nil when it is not
// in the active registry.
func (o *Orchestrator) GetWorkflowStatus(workflowID string) *ExecutionView {
	o.mu.RLock()
	inst, ok := o.active[workflowID]
	o.mu.RUnlock()
	if !ok {
		return nil
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return buildView(inst.machine.State())
}

// ActiveCount returns the size of the active registry.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// ProcessInteraction maps an external intent onto the workflow. All failures
// are structured; a panic from below is caught here, mapped to
// EXECUTION_ERROR, and leaves the workflow in its last good state.
func (o *Orchestrator) ProcessInteraction(ctx context.Context, workflowID string, action Action, userInput string) (result *InteractionResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("interaction panicked",
				zap.String("workflow_id", workflowID),
				zap.Any("panic", r),
			)
			result = &InteractionResult{
				Action: action,
				Errors: []*workflow.EngineError{
					workflow.Errorf(workflow.CodeExecution, "internal fault: %v", r),
				},
			}
		}
		o.metrics.RecordInteraction(ctx, action, result != nil && result.Success)
	}()

	inst := o.touch(workflowID)
	if inst == nil {
		return &InteractionResult{
			Action: action,
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeNotFound, "workflow %s not found", workflowID),
			},
		}
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	machine := inst.machine
	state := machine.State()

	if userInput != "" {
		o.recordUserInput(ctx, machine, userInput)
	}

	switch action {
	case ActionContinue:
		return o.handleContinue(ctx, inst)
	case ActionPause:
		return o.applyTrigger(ctx, machine, action, workflow.TriggerPause)
	case ActionCancel:
		return o.applyTrigger(ctx, machine, action, workflow.TriggerCancel)
	case ActionRestart:
		return o.handleRestart(ctx, workflowID, inst)
	default:
		return &InteractionResult{
			Action: action,
			View:   buildView(state),
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeValidation, "unknown action %q", action),
			},
		}
	}
}

// touch returns the instance and refreshes its activity timestamp.
func (o *Orchestrator) touch(workflowID string) *instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.active[workflowID]
	if !ok {
		return nil
	}
	inst.lastActivity = o.now()
	return inst
}

// recordUserInput counts the interaction, fires the USER_INPUT self-edge
// when one exists, and appends the input to the session conversation.
func (o *Orchestrator) recordUserInput(ctx context.Context, machine *statemachine.Machine, input string) {
	state := machine.State()
	state.Metrics.UserInteractions++

	// Self-edge only exists on active states; elsewhere the input is
	// recorded without a transition.
	machine.Transition(ctx, workflow.TriggerUserInput)

	if o.sessions == nil {
		return
	}
	if _, err := o.sessions.AppendMessage(ctx, state.SessionID, contextwindow.SenderUser, input); err != nil {
		o.logger.Warn("failed to record user input",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
	}
}

// handleContinue performs the next unit of work: resume when paused,
// advance when parked in a completed phase, execute the current phase when
// active.
func (o *Orchestrator) handleContinue(ctx context.Context, inst *instance) *InteractionResult {
	machine := inst.machine
	state := machine.State()

	if o.definition.IsFinal(state.CurrentState) {
		return &InteractionResult{
			Action: ActionContinue,
			View:   buildView(state),
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeValidation,
					"workflow %s already reached terminal state %s", state.ID, state.CurrentState),
			},
		}
	}

	if state.CurrentState == workflow.StatePaused {
		res := machine.ForceTransition(ctx, state.PausedFrom, "resume after pause")
		return interactionFrom(ActionContinue, state, res)
	}

	phase, active := state.CurrentPhase()
	if !active {
		return &InteractionResult{
			Action: ActionContinue,
			View:   buildView(state),
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeValidation,
					"workflow %s cannot continue from state %s", state.ID, state.CurrentState),
			},
		}
	}

	// Parked in P_COMPLETE with auto-advance off: a continue advances into
	// the next phase without executing it.
	if state.CurrentState == phase.CompleteState() {
		res := machine.Transition(ctx, workflow.TriggerAgentComplete)
		return interactionFrom(ActionContinue, state, res)
	}

	return o.executePhase(ctx, inst, phase)
}

// executePhase drives one agent phase through the coordinator and advances
// the state machine on success.
func (o *Orchestrator) executePhase(ctx context.Context, inst *instance, phase workflow.Phase) *InteractionResult {
	machine := inst.machine
	state := machine.State()

	token, err := o.locks.Acquire(state.SessionID, sessionlock.OpWorkflow)
	if err != nil {
		return &InteractionResult{
			Action: ActionContinue,
			View:   buildView(state),
			Errors: []*workflow.EngineError{
				workflow.Errorf(workflow.CodeConcurrency,
					"session %s has a workflow operation in flight", state.SessionID),
			},
		}
	}
	defer o.locks.Release(state.SessionID, token, sessionlock.OpWorkflow)

	// Only completed results feed sequencing and context merge; recorded
	// failures from earlier attempts of this phase must not block a retry.
	res := o.coordinator.ExecuteAgent(ctx, phase, state.SessionID, state.ID, state.Context, state.CompletedResults())

	// Every attempt is recorded, including failed ones.
	if res.Result != nil {
		state.AgentResults = append(state.AgentResults, res.Result)
	}

	if !res.Success {
		// Left in the active state so the caller can decide to retry,
		// cancel, or surface the failure.
		return &InteractionResult{
			Action: ActionContinue,
			View:   buildView(state),
			Errors: res.Errors,
		}
	}

	state.Context.Merge(res.Result.ContextOutput)
	state.Metrics.AgentSwitches++
	state.Metrics.TotalTokensUsed += res.Result.Metrics.TokensUsed
	state.Metrics.TotalCost += res.Result.Metrics.Cost
	inst.lastHandoff = res.Handoff

	o.recordPhaseOutcome(ctx, state, phase, res)

	tr := machine.Transition(ctx, workflow.TriggerAgentComplete)
	if tr.Success && o.config.AutoAdvance && !tr.Completed {
		machine.Transition(ctx, workflow.TriggerAgentComplete)
	}

	out := interactionFrom(ActionContinue, state, tr)
	out.Handoff = res.Handoff
	return out
}

// recordPhaseOutcome mirrors a successful execution into the session layer.
func (o *Orchestrator) recordPhaseOutcome(ctx context.Context, state *workflow.ExecutionState, phase workflow.Phase, res *coordinator.AgentTransitionResult) {
	if o.sessions == nil {
		return
	}
	if err := o.sessions.UpdateAgentState(ctx, state.SessionID, phase, workflow.ExecutionComplete); err != nil {
		o.logger.Warn("failed to record agent state",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
	}
	if len(res.Result.Interactions) > 0 {
		content := res.Result.Interactions[0].Content
		if _, err := o.sessions.AppendMessage(ctx, state.SessionID, contextwindow.SenderAgent, content); err != nil {
			o.logger.Warn("failed to record agent output",
				zap.String("session_id", state.SessionID),
				zap.Error(err),
			)
		}
	}
}

// handleRestart cancels the current execution and registers a fresh one for
// the same session and project input. The old execution stays in the
// registry, terminal, until the reaper collects it; its audit log is never
// rewritten.
func (o *Orchestrator) handleRestart(ctx context.Context, workflowID string, inst *instance) *InteractionResult {
	state := inst.machine.State()

	if !o.definition.IsFinal(state.CurrentState) {
		inst.machine.Transition(ctx, workflow.TriggerCancel)
	}

	view, err := o.StartWorkflow(ctx, state.SessionID, state.Context.ProjectInput)
	if err != nil {
		return &InteractionResult{
			Action: ActionRestart,
			View:   buildView(state),
			Errors: []*workflow.EngineError{asEngineError(err)},
		}
	}

	o.logger.Info("workflow restarted",
		zap.String("old_workflow_id", workflowID),
		zap.String("new_workflow_id", view.WorkflowID),
	)
	return &InteractionResult{Success: true, Action: ActionRestart, View: view}
}

// applyTrigger fires a plain trigger and wraps the result.
func (o *Orchestrator) applyTrigger(ctx context.Context, machine *statemachine.Machine, action Action, trigger workflow.Trigger) *InteractionResult {
	res := machine.Transition(ctx, trigger)
	return interactionFrom(action, machine.State(), res)
}

// Sweep removes workflows idle longer than MaxWorkflowDuration plus
// GracePeriod. It iterates over a snapshot without acquiring session locks,
// so a workflow touched mid-sweep may survive one extra cycle.
func (o *Orchestrator) Sweep(ctx context.Context) int {
	deadline := o.now().Add(-(o.config.MaxWorkflowDuration + o.config.GracePeriod))

	o.mu.RLock()
	candidates := make([]string, 0, len(o.active))
	for id, inst := range o.active {
		if inst.lastActivity.Before(deadline) {
			candidates = append(candidates, id)
		}
	}
	o.mu.RUnlock()

	removed := 0
	for _, id := range candidates {
		o.mu.Lock()
		inst, ok := o.active[id]
		if ok && inst.lastActivity.Before(deadline) {
			delete(o.active, id)
			removed++
		}
		o.mu.Unlock()
	}

	if removed > 0 {
		o.metrics.RecordReaped(ctx, removed)
		o.logger.Info("reaped idle workflows", zap.Int("count", removed))
	}
	return removed
}

// RunReaper periodically sweeps idle workflows until ctx is cancelled.
func (o *Orchestrator) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(o.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Sweep(ctx)
		}
	}
}

// removeWorkflow drops a workflow from the registry outside the reaper.
func (o *Orchestrator) removeWorkflow(ctx context.Context, workflowID string) {
	o.mu.Lock()
	_, ok := o.active[workflowID]
	delete(o.active, workflowID)
	o.mu.Unlock()
	if ok {
		o.metrics.RecordRemoved(ctx)
	}
}

func interactionFrom(action Action, state *workflow.ExecutionState, res statemachine.TransitionResult) *InteractionResult {
	return &InteractionResult{
		Success: res.Success,
		Action:  action,
		View:    buildView(state),
		Errors:  res.Errors,
	}
}

func asEngineError(err error) *workflow.EngineError {
	if ee, ok := err.(*workflow.EngineError); ok {
		return ee
	}
	return workflow.Errorf(workflow.CodeExecution, "%v", err)
}
