package contextwindow

import "errors"

// Validation errors.
var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrMessageTooLong = errors.New("message exceeds maximum token count")
)

// Budget errors.
var (
	ErrBudgetExceeded = errors.New("context exceeds token budget and optimization is disabled")
	ErrInvalidConfig  = errors.New("invalid context window configuration")
)
