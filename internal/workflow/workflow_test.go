package workflow

import (
	"strings"
	"testing"
	"time"
)

func TestPhase_Order(t *testing.T) {
	phases := AllPhases()
	if len(phases) != 4 {
		t.Fatalf("AllPhases() returned %d phases, want 4", len(phases))
	}

	want := []Phase{PhaseAnalyst, PhasePM, PhaseUXExpert, PhaseArchitect}
	for i, p := range want {
		if phases[i] != p {
			t.Errorf("AllPhases()[%d] = %s, want %s", i, phases[i], p)
		}
	}

	if next, ok := PhaseAnalyst.Next(); !ok || next != PhasePM {
		t.Errorf("Analyst.Next() = %s, %v, want PM, true", next, ok)
	}
	if _, ok := PhaseArchitect.Next(); ok {
		t.Error("Architect.Next() ok = true, want false for terminal phase")
	}
	if prev, ok := PhasePM.Prev(); !ok || prev != PhaseAnalyst {
		t.Errorf("PM.Prev() = %s, %v, want ANALYST, true", prev, ok)
	}
	if _, ok := PhaseAnalyst.Prev(); ok {
		t.Error("Analyst.Prev() ok = true, want false for first phase")
	}
	if Phase("INTERN").Valid() {
		t.Error("unknown phase reported valid")
	}
}

func TestPhase_States(t *testing.T) {
	if got := PhasePM.ActiveState(); got != State("PM_ACTIVE") {
		t.Errorf("ActiveState() = %s, want PM_ACTIVE", got)
	}
	if got := PhaseUXExpert.CompleteState(); got != State("UX_EXPERT_COMPLETE") {
		t.Errorf("CompleteState() = %s, want UX_EXPERT_COMPLETE", got)
	}

	if p, ok := PhaseForState(State("ARCHITECT_ACTIVE")); !ok || p != PhaseArchitect {
		t.Errorf("PhaseForState(ARCHITECT_ACTIVE) = %s, %v", p, ok)
	}
	if _, ok := PhaseForState(StatePaused); ok {
		t.Error("PhaseForState(PAUSED) ok = true, want false for control state")
	}
}

func TestPipelineDefinition_Valid(t *testing.T) {
	def := PipelineDefinition()
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if def.InitialState != StateCreated {
		t.Errorf("InitialState = %s, want CREATED", def.InitialState)
	}
	if !def.IsFinal(PhaseArchitect.CompleteState()) {
		t.Error("ARCHITECT_COMPLETE is not final")
	}
	if !def.IsFinal(StateCancelled) || !def.IsFinal(StateError) {
		t.Error("CANCELLED and ERROR must be final")
	}
	if def.IsFinal(PhasePM.CompleteState()) {
		t.Error("PM_COMPLETE must not be final")
	}

	// Every active state carries the USER_INPUT self-edge.
	for _, p := range AllPhases() {
		edges := def.TransitionsFrom(p.ActiveState(), TriggerUserInput)
		if len(edges) != 1 || edges[0].To != p.ActiveState() {
			t.Errorf("%s missing USER_INPUT self-edge", p.ActiveState())
		}
	}

	// No edge leaves the terminal success state.
	if edges := def.TransitionsFrom(PhaseArchitect.CompleteState(), TriggerAgentComplete); len(edges) != 0 {
		t.Errorf("ARCHITECT_COMPLETE has %d outgoing AGENT_COMPLETE edges, want 0", len(edges))
	}
}

func TestDefinition_Validate(t *testing.T) {
	base := func() *Definition {
		return &Definition{
			ID:           "test",
			States:       []State{"A", "B"},
			InitialState: "A",
			FinalStates:  []State{"B"},
			Transitions:  []Transition{{From: "A", To: "B", Trigger: "GO"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr string
	}{
		{"valid", func(d *Definition) {}, ""},
		{"missing id", func(d *Definition) { d.ID = "" }, "id is required"},
		{"duplicate state", func(d *Definition) { d.States = append(d.States, "A") }, "twice"},
		{"unknown initial", func(d *Definition) { d.InitialState = "Z" }, "initial state"},
		{"unknown final", func(d *Definition) { d.FinalStates = []State{"Z"} }, "final state"},
		{"edge from unknown state", func(d *Definition) {
			d.Transitions = []Transition{{From: "Z", To: "B", Trigger: "GO"}}
		}, "unknown state"},
		{"edge without trigger", func(d *Definition) {
			d.Transitions = []Transition{{From: "A", To: "B"}}
		}, "no trigger"},
		{"bad operator", func(d *Definition) {
			d.Transitions = []Transition{{From: "A", To: "B", Trigger: "GO",
				Conditions: []Condition{{Field: "sessionId", Operator: "matches"}}}}
		}, "unsupported operator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(def)
			err := def.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	doc := `
id: custom-v1
name: Custom graph
states: [CREATED, WORKING, DONE]
initial_state: CREATED
final_states: [DONE]
transitions:
  - from: CREATED
    to: WORKING
    trigger: START
  - from: WORKING
    to: DONE
    trigger: AGENT_COMPLETE
    conditions:
      - field: metrics.agentSwitches
        operator: equals
        value: 1
`
	def, err := LoadDefinition(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadDefinition() error = %v", err)
	}
	if def.ID != "custom-v1" {
		t.Errorf("ID = %s, want custom-v1", def.ID)
	}
	if len(def.Transitions) != 2 {
		t.Fatalf("Transitions = %d, want 2", len(def.Transitions))
	}
	cond := def.Transitions[1].Conditions[0]
	if cond.Field != "metrics.agentSwitches" || cond.Operator != OpEquals {
		t.Errorf("condition = %+v", cond)
	}

	if _, err := LoadDefinition(strings.NewReader("id: broken\nstates: []\n")); err == nil {
		t.Error("LoadDefinition() accepted a definition without states")
	}
	if _, err := LoadDefinition(strings.NewReader(": not yaml")); err == nil {
		t.Error("LoadDefinition() accepted malformed YAML")
	}
}

func TestProjectContext_MergeAndClone(t *testing.T) {
	base := NewProjectContext("build a todo app")
	other := &ProjectContext{
		BusinessAnalysis: "analysis text",
		Extra:            map[string]any{"region": "eu"},
	}

	base.Merge(other)
	if base.BusinessAnalysis != "analysis text" {
		t.Errorf("BusinessAnalysis = %q after merge", base.BusinessAnalysis)
	}
	if base.ProjectInput != "build a todo app" {
		t.Error("merge overwrote ProjectInput with empty value")
	}
	if base.Extra["region"] != "eu" {
		t.Error("Extra entry not merged")
	}

	clone := base.Clone()
	clone.SetField(FieldProjectScope, "scope")
	clone.Extra["region"] = "us"
	if base.ProjectScope != "" {
		t.Error("mutating clone changed original typed field")
	}
	if base.Extra["region"] != "eu" {
		t.Error("mutating clone changed original Extra map")
	}
}

func TestProjectContext_Fields(t *testing.T) {
	ctx := NewProjectContext("input")

	if _, ok := ctx.Field(FieldBusinessAnalysis); ok {
		t.Error("empty typed field reported present")
	}

	ctx.SetField(FieldBusinessAnalysis, "done")
	if v, ok := ctx.Field(FieldBusinessAnalysis); !ok || v != "done" {
		t.Errorf("Field() = %v, %v", v, ok)
	}

	ctx.SetField("custom", "value")
	if v, ok := ctx.Field("custom"); !ok || v != "value" {
		t.Errorf("Extra Field() = %v, %v", v, ok)
	}

	snap := ctx.Snapshot()
	if snap[FieldProjectInput] != "input" || snap[FieldBusinessAnalysis] != "done" {
		t.Errorf("Snapshot() = %v", snap)
	}
	if _, ok := snap[FieldProjectScope]; ok {
		t.Error("Snapshot() includes empty field")
	}
}

func TestPhase_RequiredFieldsCumulative(t *testing.T) {
	tests := []struct {
		phase Phase
		want  []string
	}{
		{PhaseAnalyst, []string{FieldProjectInput}},
		{PhasePM, []string{FieldProjectInput, FieldBusinessAnalysis}},
		{PhaseUXExpert, []string{FieldProjectInput, FieldBusinessAnalysis, FieldProjectScope}},
		{PhaseArchitect, []string{FieldProjectInput, FieldBusinessAnalysis, FieldProjectScope, FieldUserExperience}},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			got := tt.phase.RequiredFields()
			if len(got) != len(tt.want) {
				t.Fatalf("RequiredFields() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("RequiredFields()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPhase_OutputField(t *testing.T) {
	if got := PhaseAnalyst.OutputField(); got != FieldBusinessAnalysis {
		t.Errorf("Analyst.OutputField() = %s", got)
	}
	if got := PhaseArchitect.OutputField(); got != FieldTechnicalArchitecture {
		t.Errorf("Architect.OutputField() = %s", got)
	}
}

func TestExecutionState_New(t *testing.T) {
	def := PipelineDefinition()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := NewExecutionState(def, "sn_001", NewProjectContext("input"), now)

	if state.ID == "" || !strings.HasPrefix(state.ID, "wf_") {
		t.Errorf("ID = %q, want wf_ prefix", state.ID)
	}
	if state.CurrentState != StateCreated {
		t.Errorf("CurrentState = %s, want CREATED", state.CurrentState)
	}
	if !state.StartTime.Equal(now) {
		t.Errorf("StartTime = %v, want %v", state.StartTime, now)
	}
	if state.SessionID != "sn_001" {
		t.Errorf("SessionID = %s", state.SessionID)
	}

	if _, active := state.CurrentPhase(); active {
		t.Error("CurrentPhase() reported a phase in CREATED")
	}
}

func TestEngineError_Code(t *testing.T) {
	err := Errorf(CodeSequence, "phase %s out of order", PhasePM)
	if CodeOf(err) != CodeSequence {
		t.Errorf("CodeOf() = %s, want SEQUENCE_ERROR", CodeOf(err))
	}
	if !strings.Contains(err.Error(), "PM") {
		t.Errorf("Error() = %q", err.Error())
	}

	if CodeOf(plainError{}) != CodeExecution {
		t.Error("CodeOf(non-engine error) != EXECUTION_ERROR")
	}
}

type plainError struct{}

func (plainError) Error() string { return "boom" }
