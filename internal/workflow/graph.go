package workflow

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// PipelineDefinitionID identifies the built-in four-phase pipeline graph.
const PipelineDefinitionID = "agent-pipeline-v1"

// PipelineDefinition builds the canonical four-phase workflow graph:
//
//	CREATED --START--> ANALYST_ACTIVE
//	P_ACTIVE --AGENT_COMPLETE--> P_COMPLETE
//	P_COMPLETE --AGENT_COMPLETE--> next P_ACTIVE
//
// PAUSED, CANCELLED and ERROR are reachable from every active state, and
// ARCHITECT_COMPLETE is the sole terminal success state. USER_INPUT is a
// self-edge on active states so interactions are recorded without moving the
// workflow.
func PipelineDefinition() *Definition {
	def := &Definition{
		ID:           PipelineDefinitionID,
		Name:         "Four-phase agent pipeline",
		InitialState: StateCreated,
		States:       []State{StateCreated, StatePaused, StateCancelled, StateError},
	}

	phases := AllPhases()
	for _, p := range phases {
		def.States = append(def.States, p.ActiveState(), p.CompleteState())
	}

	def.Transitions = append(def.Transitions, Transition{
		From:    StateCreated,
		To:      phases[0].ActiveState(),
		Trigger: TriggerStart,
		Actions: []string{"initialize_context"},
	})

	for i, p := range phases {
		active := p.ActiveState()
		complete := p.CompleteState()

		def.Transitions = append(def.Transitions,
			Transition{From: active, To: complete, Trigger: TriggerAgentComplete, Actions: []string{"record_handoff"}},
			Transition{From: active, To: active, Trigger: TriggerUserInput},
			Transition{From: active, To: StatePaused, Trigger: TriggerPause},
			Transition{From: active, To: StateError, Trigger: TriggerError},
			Transition{From: active, To: StateCancelled, Trigger: TriggerCancel},
		)

		if i < len(phases)-1 {
			def.Transitions = append(def.Transitions, Transition{
				From:    complete,
				To:      phases[i+1].ActiveState(),
				Trigger: TriggerAgentComplete,
				Actions: []string{"advance_phase"},
			})
			def.Transitions = append(def.Transitions, Transition{
				From:    complete,
				To:      StateCancelled,
				Trigger: TriggerCancel,
			})
		}
	}

	def.Transitions = append(def.Transitions,
		Transition{From: StatePaused, To: StateCancelled, Trigger: TriggerCancel},
		Transition{From: StateError, To: StateCancelled, Trigger: TriggerCancel},
	)

	def.FinalStates = []State{phases[len(phases)-1].CompleteState(), StateCancelled, StateError}
	return def
}

// LoadDefinition parses a workflow definition from YAML and validates it.
// Used by the flowd CLI to check operator-supplied graph variants.
func LoadDefinition(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
