package workflow

import "fmt"

// ErrorCode classifies failures returned across component boundaries.
// Failures are carried in typed results rather than thrown; the orchestrator
// decides policy (surface, retry, transition to ERROR) without unwinding a
// call stack.
type ErrorCode string

const (
	// CodeValidation covers missing required context fields, overlong
	// messages and invalid input.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeSequence covers out-of-order phase execution.
	CodeSequence ErrorCode = "SEQUENCE_ERROR"

	// CodeNoValidTransition means no edge matched (currentState, trigger)
	// with all conditions true.
	CodeNoValidTransition ErrorCode = "NO_VALID_TRANSITION"

	// CodeTransitionInProgress means a transition was rejected because one
	// is already executing on the same instance.
	CodeTransitionInProgress ErrorCode = "TRANSITION_IN_PROGRESS"

	// CodeInvalidState means the current state is not a member of the
	// owning definition.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeConcurrency means an advisory session lock is already held.
	CodeConcurrency ErrorCode = "CONCURRENCY_ERROR"

	// CodeResourceLimit covers the concurrent-workflow cap, start-rate
	// limiting and a context that exceeds budget with optimization disabled.
	CodeResourceLimit ErrorCode = "RESOURCE_LIMIT_ERROR"

	// CodeExecution covers agent backend failures and postcondition
	// violations.
	CodeExecution ErrorCode = "EXECUTION_ERROR"

	// CodeNotFound means the addressed workflow or session does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// EngineError is a structured error carrying a taxonomy code.
type EngineError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an EngineError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from an error, or CodeExecution for
// untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return CodeExecution
}
