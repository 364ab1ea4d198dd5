// Package coordinator executes one agent phase at a time: it merges
// cross-phase context with provenance, validates phase preconditions and
// sequencing, invokes the opaque agent backend, validates postconditions,
// and builds the handoff package for the next phase. All failures are
// returned as structured results; the coordinator never retries and never
// panics across its boundary.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// conversationWindowKey is the Extra key under which a conversation excerpt
// is injected into the enriched context.
const conversationWindowKey = "conversationWindow"

// BackendResult is what the opaque agent execution collaborator returns.
type BackendResult struct {
	Interactions  []workflow.Interaction
	Artifacts     []workflow.Artifact
	ContextOutput *workflow.ProjectContext
	Metrics       workflow.AgentMetrics
}

// Backend is the external agent-execution collaborator. It may fail or time
// out; the coordinator calls it at most once per invocation and never
// retries internally.
type Backend interface {
	Execute(ctx context.Context, phase workflow.Phase, enriched *workflow.ProjectContext) (*BackendResult, error)
}

// MessageProvider supplies a session's conversation history for context
// excerpts. Typically implemented by the session service.
type MessageProvider interface {
	Messages(ctx context.Context, sessionID string) ([]contextwindow.Message, error)
}

// HandoffPackage is the structured summary one phase passes to the next.
type HandoffPackage struct {
	FromAgent           workflow.Phase      `json:"from_agent"`
	ToAgent             workflow.Phase      `json:"to_agent"`
	ContextSummary      string              `json:"context_summary"`
	KeyFindings         []string            `json:"key_findings,omitempty"`
	Recommendations     []string            `json:"recommendations,omitempty"`
	Artifacts           []workflow.Artifact `json:"artifacts,omitempty"`
	ValidationChecklist []string            `json:"validation_checklist,omitempty"`
	Confidence          float64             `json:"confidence"`
	Timestamp           time.Time           `json:"timestamp"`
}

// AgentTransitionResult is the coordinator's structured outcome. On failure
// Errors is populated and Result may hold a partial execution record; the
// orchestrator decides whether to retry, pause, or surface the error.
type AgentTransitionResult struct {
	Success bool                           `json:"success"`
	Phase   workflow.Phase                 `json:"phase"`
	Result  *workflow.AgentExecutionResult `json:"result,omitempty"`
	Handoff *HandoffPackage                `json:"handoff,omitempty"`
	Errors  []*workflow.EngineError        `json:"errors,omitempty"`
}

// Coordinator validates and runs phase executions.
type Coordinator struct {
	backend  Backend
	windows  *contextwindow.Manager
	messages MessageProvider

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMessageProvider wires a conversation source for context excerpts.
func WithMessageProvider(p MessageProvider) Option {
	return func(c *Coordinator) { c.messages = p }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the coordinator's metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock injects a clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator around the given backend and window manager.
func New(backend Backend, windows *contextwindow.Manager, opts ...Option) (*Coordinator, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if windows == nil {
		return nil, fmt.Errorf("context window manager is required")
	}
	c := &Coordinator{
		backend: backend,
		windows: windows,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExecuteAgent runs one phase: merge prior outputs, check preconditions and
// sequencing, invoke the backend, check postconditions, and build the
// handoff package for the next phase (omitted for the terminal phase).
func (c *Coordinator) ExecuteAgent(
	ctx context.Context,
	phase workflow.Phase,
	sessionID, workflowID string,
	base *workflow.ProjectContext,
	prior []*workflow.AgentExecutionResult,
) *AgentTransitionResult {
	if !phase.Valid() {
		return failure(phase, workflow.Errorf(workflow.CodeValidation, "unknown phase %q", phase))
	}

	enriched := c.enrich(phase, base, prior)

	if err := c.checkPreconditions(phase, enriched); err != nil {
		c.metrics.RecordFailure(ctx, phase, workflow.CodeOf(err))
		return failure(phase, err)
	}
	if err := checkSequence(phase, prior); err != nil {
		c.metrics.RecordFailure(ctx, phase, workflow.CodeOf(err))
		return failure(phase, err)
	}

	c.injectConversationWindow(ctx, sessionID, enriched)

	result, err := c.invoke(ctx, phase, workflowID, enriched)
	if err != nil {
		c.metrics.RecordFailure(ctx, phase, workflow.CodeOf(err))
		return &AgentTransitionResult{
			Phase:  phase,
			Result: result,
			Errors: []*workflow.EngineError{asEngineError(err)},
		}
	}

	if err := checkPostconditions(phase, result); err != nil {
		c.metrics.RecordFailure(ctx, phase, workflow.CodeOf(err))
		return &AgentTransitionResult{
			Phase:  phase,
			Result: result,
			Errors: []*workflow.EngineError{asEngineError(err)},
		}
	}

	c.metrics.RecordExecution(ctx, phase, result.Metrics)

	out := &AgentTransitionResult{
		Success: true,
		Phase:   phase,
		Result:  result,
	}
	if next, ok := phase.Next(); ok {
		out.Handoff = buildHandoff(phase, next, result, c.now())
	}
	return out
}

// enrich merges the contextOutput of every COMPLETE prior result into a copy
// of the base context, appending one enrichment record per merge for
// provenance.
func (c *Coordinator) enrich(phase workflow.Phase, base *workflow.ProjectContext, prior []*workflow.AgentExecutionResult) *workflow.ProjectContext {
	merged := base.Clone()
	if merged == nil {
		merged = workflow.NewProjectContext("")
	}

	for _, r := range prior {
		if r == nil || r.Status != workflow.ExecutionComplete || r.ContextOutput == nil {
			continue
		}
		input := merged.Snapshot()
		merged.Merge(r.ContextOutput)
		merged.Enrichments = append(merged.Enrichments, workflow.Enrichment{
			Timestamp:     c.now(),
			AgentPhase:    r.AgentPhase,
			InputContext:  input,
			OutputContext: merged.Snapshot(),
			Confidence:    confidenceOf(r),
		})
	}
	return merged
}

// checkPreconditions verifies the phase's required context fields are
// populated before any execution cost is incurred.
func (c *Coordinator) checkPreconditions(phase workflow.Phase, ctx *workflow.ProjectContext) error {
	var missing []string
	for _, field := range phase.RequiredFields() {
		if _, ok := ctx.Field(field); !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return workflow.Errorf(workflow.CodeValidation,
			"phase %s requires context fields: %s", phase, strings.Join(missing, ", "))
	}
	return nil
}

// checkSequence enforces the fixed phase order: when prior results exist,
// the last one must be the phase immediately preceding the requested one.
func checkSequence(phase workflow.Phase, prior []*workflow.AgentExecutionResult) error {
	expected, hasPrev := phase.Prev()

	if len(prior) == 0 {
		if hasPrev {
			return workflow.Errorf(workflow.CodeSequence,
				"phase %s requires a completed %s result", phase, expected)
		}
		return nil
	}

	last := prior[len(prior)-1]
	if !hasPrev {
		return workflow.Errorf(workflow.CodeSequence,
			"phase %s is the first phase but prior results were supplied", phase)
	}
	if last.AgentPhase != expected {
		return workflow.Errorf(workflow.CodeSequence,
			"phase %s must follow %s, but the last result is from %s", phase, expected, last.AgentPhase)
	}
	return nil
}

// injectConversationWindow attaches a token-bounded conversation excerpt to
// the enriched context. Absent provider or history is not an error.
func (c *Coordinator) injectConversationWindow(ctx context.Context, sessionID string, enriched *workflow.ProjectContext) {
	if c.messages == nil || sessionID == "" {
		return
	}
	msgs, err := c.messages.Messages(ctx, sessionID)
	if err != nil {
		c.logger.Warn("failed to load conversation history",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	if len(msgs) == 0 {
		return
	}
	window, err := c.windows.CreateWindow(msgs)
	if err != nil {
		c.logger.Warn("failed to build context window",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	enriched.Extra[conversationWindowKey] = renderWindow(window)
}

// invoke calls the backend once, recording wall-clock duration and wrapping
// the outcome in an immutable execution result.
func (c *Coordinator) invoke(ctx context.Context, phase workflow.Phase, workflowID string, enriched *workflow.ProjectContext) (*workflow.AgentExecutionResult, error) {
	start := c.now()
	result := &workflow.AgentExecutionResult{
		AgentPhase:   phase,
		ExecutionID:  "ex_" + uuid.New().String()[:8],
		StartTime:    start,
		Status:       workflow.ExecutionPending,
		ContextInput: enriched,
	}

	c.logger.Info("executing agent phase",
		zap.String("workflow_id", workflowID),
		zap.String("phase", string(phase)),
		zap.String("execution_id", result.ExecutionID),
	)

	backendResult, err := c.backend.Execute(ctx, phase, enriched.Clone())
	end := c.now()
	result.EndTime = end
	result.Metrics.Duration = end.Sub(start)

	if err != nil {
		result.Status = workflow.ExecutionError
		result.Errors = append(result.Errors, err.Error())
		return result, workflow.Errorf(workflow.CodeExecution,
			"agent backend failed for phase %s: %v", phase, err)
	}

	result.Status = workflow.ExecutionComplete
	result.Interactions = backendResult.Interactions
	result.Artifacts = backendResult.Artifacts
	result.ContextOutput = backendResult.ContextOutput
	duration := result.Metrics.Duration
	result.Metrics = backendResult.Metrics
	result.Metrics.Duration = duration
	if result.Metrics.InteractionCount == 0 {
		result.Metrics.InteractionCount = len(result.Interactions)
	}
	return result, nil
}

// checkPostconditions verifies the backend produced a usable result: status
// COMPLETE, at least one interaction, and the phase's output field
// populated.
func checkPostconditions(phase workflow.Phase, result *workflow.AgentExecutionResult) error {
	if result.Status != workflow.ExecutionComplete {
		return workflow.Errorf(workflow.CodeExecution,
			"phase %s finished with status %s", phase, result.Status)
	}
	if len(result.Interactions) == 0 {
		return workflow.Errorf(workflow.CodeExecution,
			"phase %s produced no interactions", phase)
	}
	field := phase.OutputField()
	if result.ContextOutput == nil {
		return workflow.Errorf(workflow.CodeExecution,
			"phase %s produced no context output", phase)
	}
	if _, ok := result.ContextOutput.Field(field); !ok {
		return workflow.Errorf(workflow.CodeExecution,
			"phase %s did not populate %s", phase, field)
	}
	return nil
}

func failure(phase workflow.Phase, err error) *AgentTransitionResult {
	return &AgentTransitionResult{
		Phase:  phase,
		Errors: []*workflow.EngineError{asEngineError(err)},
	}
}

func asEngineError(err error) *workflow.EngineError {
	if ee, ok := err.(*workflow.EngineError); ok {
		return ee
	}
	return workflow.Errorf(workflow.CodeExecution, "%v", err)
}

func confidenceOf(r *workflow.AgentExecutionResult) float64 {
	// Interaction-free results never pass postconditions, so any merged
	// result carries at least baseline confidence.
	switch {
	case len(r.Interactions) >= 3:
		return 0.9
	case len(r.Interactions) == 2:
		return 0.8
	default:
		return 0.7
	}
}

func renderWindow(w *contextwindow.Window) string {
	var sb strings.Builder
	if w.Summary != nil {
		sb.WriteString(*w.Summary)
		sb.WriteString("\n")
	}
	for _, msg := range w.Messages {
		fmt.Fprintf(&sb, "[%s] %s\n", msg.Sender, msg.Content)
	}
	return sb.String()
}
