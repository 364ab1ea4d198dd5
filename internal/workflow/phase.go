package workflow

// Phase represents one of the four fixed expert roles in the pipeline.
type Phase string

const (
	// PhaseAnalyst analyzes the raw project input into a business analysis.
	PhaseAnalyst Phase = "ANALYST"

	// PhasePM turns the business analysis into a project scope.
	PhasePM Phase = "PM"

	// PhaseUXExpert designs the user experience from the project scope.
	PhaseUXExpert Phase = "UX_EXPERT"

	// PhaseArchitect produces the technical architecture. Terminal phase.
	PhaseArchitect Phase = "ARCHITECT"
)

// AllPhases returns the phases in pipeline order.
func AllPhases() []Phase {
	return []Phase{PhaseAnalyst, PhasePM, PhaseUXExpert, PhaseArchitect}
}

// Index returns the position of the phase in the pipeline, or -1 when the
// phase is unknown.
func (p Phase) Index() int {
	for i, phase := range AllPhases() {
		if phase == p {
			return i
		}
	}
	return -1
}

// Valid reports whether the phase is one of the four pipeline phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the phase that follows p, or false when p is terminal or
// unknown.
func (p Phase) Next() (Phase, bool) {
	idx := p.Index()
	phases := AllPhases()
	if idx < 0 || idx == len(phases)-1 {
		return "", false
	}
	return phases[idx+1], true
}

// Prev returns the phase that precedes p, or false when p is the first phase
// or unknown.
func (p Phase) Prev() (Phase, bool) {
	idx := p.Index()
	if idx <= 0 {
		return "", false
	}
	return AllPhases()[idx-1], true
}

// ActiveState returns the state a workflow occupies while p is executing.
func (p Phase) ActiveState() State {
	return State(string(p) + "_ACTIVE")
}

// CompleteState returns the state a workflow occupies once p has finished.
func (p Phase) CompleteState() State {
	return State(string(p) + "_COMPLETE")
}

// PhaseForState returns the phase a pipeline state belongs to, or false for
// control states such as PAUSED or CANCELLED.
func PhaseForState(s State) (Phase, bool) {
	for _, p := range AllPhases() {
		if s == p.ActiveState() || s == p.CompleteState() {
			return p, true
		}
	}
	return "", false
}
