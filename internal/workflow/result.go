package workflow

import "time"

// ExecutionStatus is the lifecycle status of a single agent execution.
type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "PENDING"
	ExecutionComplete ExecutionStatus = "COMPLETE"
	ExecutionError    ExecutionStatus = "ERROR"
)

// Interaction is one exchange between an agent and its backend during a
// phase execution.
type Interaction struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is a work product emitted by a phase.
type Artifact struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

// AgentMetrics aggregates resource usage for one phase execution.
type AgentMetrics struct {
	TokensUsed       int           `json:"tokens_used"`
	Cost             float64       `json:"cost"`
	InteractionCount int           `json:"interaction_count"`
	Duration         time.Duration `json:"duration"`
}

// AgentExecutionResult is created once per phase execution attempt and is
// immutable after creation.
type AgentExecutionResult struct {
	AgentPhase    Phase           `json:"agent_phase"`
	ExecutionID   string          `json:"execution_id"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        ExecutionStatus `json:"status"`
	Interactions  []Interaction   `json:"interactions,omitempty"`
	ContextInput  *ProjectContext `json:"context_input,omitempty"`
	ContextOutput *ProjectContext `json:"context_output,omitempty"`
	Artifacts     []Artifact      `json:"artifacts,omitempty"`
	Metrics       AgentMetrics    `json:"metrics"`
	Errors        []string        `json:"errors,omitempty"`
}

// OutputField maps a phase to the context field its execution must populate.
func (p Phase) OutputField() string {
	switch p {
	case PhaseAnalyst:
		return FieldBusinessAnalysis
	case PhasePM:
		return FieldProjectScope
	case PhaseUXExpert:
		return FieldUserExperience
	case PhaseArchitect:
		return FieldTechnicalArchitecture
	}
	return ""
}

// RequiredFields maps a phase to the context fields that must be populated
// before it may execute. Each phase requires the outputs of all phases
// before it, plus the raw project input.
func (p Phase) RequiredFields() []string {
	fields := []string{FieldProjectInput}
	for _, prior := range AllPhases() {
		if prior == p {
			break
		}
		fields = append(fields, prior.OutputField())
	}
	return fields
}
