package workflow

import "fmt"

// State is a named node in a workflow definition.
type State string

// Control states shared by every pipeline definition.
const (
	StateCreated   State = "CREATED"
	StatePaused    State = "PAUSED"
	StateCancelled State = "CANCELLED"
	StateError     State = "ERROR"
)

// Trigger is the vocabulary of events that drive transitions.
type Trigger string

const (
	TriggerStart           Trigger = "START"
	TriggerAgentComplete   Trigger = "AGENT_COMPLETE"
	TriggerUserInput       Trigger = "USER_INPUT"
	TriggerPause           Trigger = "PAUSE"
	TriggerResume          Trigger = "RESUME"
	TriggerError           Trigger = "ERROR"
	TriggerCancel          Trigger = "CANCEL"
	TriggerForceTransition Trigger = "FORCE_TRANSITION"
)

// ConditionOperator compares a dot-path field of the execution state against
// a literal value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpExists      ConditionOperator = "exists"
	OpNotExists   ConditionOperator = "not_exists"
)

// Valid reports whether the operator is part of the supported set.
func (op ConditionOperator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpExists, OpNotExists:
		return true
	}
	return false
}

// Condition guards a transition. Field is a dot-path into the execution
// state, e.g. "metrics.agentSwitches" or "context.businessAnalysis".
type Condition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    any               `json:"value,omitempty" yaml:"value,omitempty"`
}

// Transition is a directed edge in a workflow definition.
type Transition struct {
	From       State       `json:"from" yaml:"from"`
	To         State       `json:"to" yaml:"to"`
	Trigger    Trigger     `json:"trigger" yaml:"trigger"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []string    `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Definition is an immutable workflow graph. It is loaded once at startup and
// never mutated afterwards.
type Definition struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	States       []State      `json:"states" yaml:"states"`
	Transitions  []Transition `json:"transitions" yaml:"transitions"`
	InitialState State        `json:"initial_state" yaml:"initial_state"`
	FinalStates  []State      `json:"final_states" yaml:"final_states"`
}

// HasState reports whether s is a member of the definition's state set.
func (d *Definition) HasState(s State) bool {
	for _, state := range d.States {
		if state == s {
			return true
		}
	}
	return false
}

// IsFinal reports whether s is a terminal state of the definition.
func (d *Definition) IsFinal(s State) bool {
	for _, state := range d.FinalStates {
		if state == s {
			return true
		}
	}
	return false
}

// TransitionsFrom returns every edge leaving s for the given trigger, in
// definition order.
func (d *Definition) TransitionsFrom(s State, trigger Trigger) []Transition {
	var edges []Transition
	for _, t := range d.Transitions {
		if t.From == s && t.Trigger == trigger {
			edges = append(edges, t)
		}
	}
	return edges
}

// Validate checks graph integrity: non-empty ID and state set, a member
// initial state, final states that are a subset of the state set, transitions
// that reference member states, and supported condition operators.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	if len(d.States) == 0 {
		return fmt.Errorf("definition %s has no states", d.ID)
	}
	seen := make(map[State]struct{}, len(d.States))
	for _, s := range d.States {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("definition %s declares state %s twice", d.ID, s)
		}
		seen[s] = struct{}{}
	}
	if !d.HasState(d.InitialState) {
		return fmt.Errorf("definition %s: initial state %s is not a member state", d.ID, d.InitialState)
	}
	for _, s := range d.FinalStates {
		if !d.HasState(s) {
			return fmt.Errorf("definition %s: final state %s is not a member state", d.ID, s)
		}
	}
	for i, t := range d.Transitions {
		if !d.HasState(t.From) {
			return fmt.Errorf("definition %s: transition %d leaves unknown state %s", d.ID, i, t.From)
		}
		if !d.HasState(t.To) {
			return fmt.Errorf("definition %s: transition %d enters unknown state %s", d.ID, i, t.To)
		}
		if t.Trigger == "" {
			return fmt.Errorf("definition %s: transition %d has no trigger", d.ID, i)
		}
		for _, c := range t.Conditions {
			if !c.Operator.Valid() {
				return fmt.Errorf("definition %s: transition %d uses unsupported operator %q", d.ID, i, c.Operator)
			}
			if c.Field == "" {
				return fmt.Errorf("definition %s: transition %d has a condition without a field", d.ID, i)
			}
		}
	}
	return nil
}
