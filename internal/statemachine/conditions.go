package statemachine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// resolveField resolves a dot-path condition field against execution state.
// Supported roots: currentState, sessionId, metrics.*, context.*.
func resolveField(state *workflow.ExecutionState, field string) (any, bool) {
	switch field {
	case "currentState":
		return string(state.CurrentState), true
	case "sessionId":
		return state.SessionID, state.SessionID != ""
	}

	root, rest, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}

	switch root {
	case "metrics":
		switch rest {
		case "agentSwitches":
			return state.Metrics.AgentSwitches, true
		case "userInteractions":
			return state.Metrics.UserInteractions, true
		case "totalTokensUsed":
			return state.Metrics.TotalTokensUsed, true
		case "totalCost":
			return state.Metrics.TotalCost, true
		}
		return nil, false
	case "context":
		return state.Context.Field(rest)
	}
	return nil, false
}

// evaluateCondition applies one condition operator against execution state.
// Unknown fields are treated as absent, never as an error: a malformed
// condition makes its edge unmatchable rather than failing the transition
// call.
func evaluateCondition(state *workflow.ExecutionState, c workflow.Condition) bool {
	value, present := resolveField(state, c.Field)

	switch c.Operator {
	case workflow.OpExists:
		return present
	case workflow.OpNotExists:
		return !present
	case workflow.OpEquals:
		return present && literal(value) == literal(c.Value)
	case workflow.OpNotEquals:
		return !present || literal(value) != literal(c.Value)
	case workflow.OpContains:
		return present && strings.Contains(literal(value), literal(c.Value))
	case workflow.OpNotContains:
		return !present || !strings.Contains(literal(value), literal(c.Value))
	}
	return false
}

// evaluateAll reports whether every condition holds.
func evaluateAll(state *workflow.ExecutionState, conditions []workflow.Condition) bool {
	for _, c := range conditions {
		if !evaluateCondition(state, c) {
			return false
		}
	}
	return true
}

// literal normalizes condition operands to a comparable string form.
// Numeric values compare by value, so a YAML literal 3 matches an int field
// holding 3 and a float64 holding 3.0.
func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return literal(float64(t))
	default:
		return fmt.Sprint(t)
	}
}
