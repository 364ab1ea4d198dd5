package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/flowd/internal/coordinator"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// WorkflowStatus is the caller-facing lifecycle status of a workflow.
type WorkflowStatus string

const (
	StatusRunning   WorkflowStatus = "running"
	StatusPaused    WorkflowStatus = "paused"
	StatusCompleted WorkflowStatus = "completed"
	StatusCancelled WorkflowStatus = "cancelled"
	StatusFailed    WorkflowStatus = "failed"
)

// ExecutionView is a read-only snapshot of a workflow composed for callers.
// Views are derived on demand and may trail a concurrent writer.
type ExecutionView struct {
	WorkflowID   string         `json:"workflow_id"`
	SessionID    string         `json:"session_id"`
	DefinitionID string         `json:"definition_id"`
	CurrentState workflow.State `json:"current_state"`
	Phase        workflow.Phase `json:"phase,omitempty"`
	Status       WorkflowStatus `json:"status"`

	// Progress is the fraction of pipeline phases completed, in [0, 1].
	Progress float64 `json:"progress"`

	StartTime time.Time  `json:"start_time"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Metrics         workflow.ExecutionMetrics  `json:"metrics"`
	ResultCount     int                        `json:"result_count"`
	TransitionCount int                        `json:"transition_count"`
	LastTransition  *workflow.TransitionRecord `json:"last_transition,omitempty"`
}

// InteractionResult is the outcome of ProcessInteraction.
type InteractionResult struct {
	Success bool                        `json:"success"`
	Action  Action                      `json:"action"`
	View    *ExecutionView              `json:"view,omitempty"`
	Handoff *coordinator.HandoffPackage `json:"handoff,omitempty"`
	Errors  []*workflow.EngineError     `json:"errors,omitempty"`
}

// buildView derives an ExecutionView from execution state.
func buildView(state *workflow.ExecutionState) *ExecutionView {
	view := &ExecutionView{
		WorkflowID:   state.ID,
		SessionID:    state.SessionID,
		DefinitionID: state.DefinitionID,
		CurrentState: state.CurrentState,
		Status:       statusOf(state),
		Progress:     progressOf(state),
		StartTime:    state.StartTime,
		PausedAt:     state.PausedAt,
		EndTime:      state.EndTime,
		Metrics:      state.Metrics,
		ResultCount:  len(state.AgentResults),
	}
	if phase, ok := state.CurrentPhase(); ok {
		view.Phase = phase
	}
	view.TransitionCount = len(state.Transitions)
	if n := len(state.Transitions); n > 0 {
		last := state.Transitions[n-1]
		view.LastTransition = &last
	}
	return view
}

func statusOf(state *workflow.ExecutionState) WorkflowStatus {
	switch state.CurrentState {
	case workflow.StateCancelled:
		return StatusCancelled
	case workflow.StateError:
		return StatusFailed
	case workflow.StatePaused:
		return StatusPaused
	}
	if state.EndTime != nil {
		return StatusCompleted
	}
	return StatusRunning
}

// progressOf counts distinct completed phases against the pipeline length.
func progressOf(state *workflow.ExecutionState) float64 {
	done := make(map[workflow.Phase]struct{})
	for _, r := range state.AgentResults {
		if r.Status == workflow.ExecutionComplete {
			done[r.AgentPhase] = struct{}{}
		}
	}
	return float64(len(done)) / float64(len(workflow.AllPhases()))
}
