package workflow

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionMetrics aggregates counters over the lifetime of one workflow.
type ExecutionMetrics struct {
	AgentSwitches    int     `json:"agent_switches"`
	UserInteractions int     `json:"user_interactions"`
	TotalTokensUsed  int     `json:"total_tokens_used"`
	TotalCost        float64 `json:"total_cost"`
}

// TransitionRecord is one entry of the append-only transition audit log.
type TransitionRecord struct {
	ID              string    `json:"id"`
	From            State     `json:"from"`
	To              State     `json:"to"`
	Trigger         Trigger   `json:"trigger"`
	Timestamp       time.Time `json:"timestamp"`
	ExecutedActions []string  `json:"executed_actions,omitempty"`
	Forced          bool      `json:"forced,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

// ExecutionState is the mutable state of one running workflow. It is owned by
// a single state machine instance; CurrentState is always a member of the
// owning definition's state set, and Transitions is append-only.
type ExecutionState struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	DefinitionID string `json:"definition_id"`

	CurrentState State           `json:"current_state"`
	Context      *ProjectContext `json:"context"`

	AgentResults []*AgentExecutionResult `json:"agent_results,omitempty"`
	Transitions  []TransitionRecord      `json:"transitions,omitempty"`

	StartTime time.Time  `json:"start_time"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// PausedFrom remembers the state a PAUSE trigger left, so RESUME can
	// return to it.
	PausedFrom State `json:"paused_from,omitempty"`

	Metrics ExecutionMetrics `json:"metrics"`
}

// NewExecutionState creates execution state positioned at the definition's
// initial state.
func NewExecutionState(def *Definition, sessionID string, ctx *ProjectContext, now time.Time) *ExecutionState {
	if ctx == nil {
		ctx = NewProjectContext("")
	}
	return &ExecutionState{
		ID:           "wf_" + uuid.New().String()[:8],
		SessionID:    sessionID,
		DefinitionID: def.ID,
		CurrentState: def.InitialState,
		Context:      ctx,
		StartTime:    now,
	}
}

// CompletedResults returns the agent results with status COMPLETE, in append
// order.
func (s *ExecutionState) CompletedResults() []*AgentExecutionResult {
	var done []*AgentExecutionResult
	for _, r := range s.AgentResults {
		if r.Status == ExecutionComplete {
			done = append(done, r)
		}
	}
	return done
}

// CurrentPhase returns the pipeline phase the workflow currently occupies,
// or false while in a control state.
func (s *ExecutionState) CurrentPhase() (Phase, bool) {
	return PhaseForState(s.CurrentState)
}
