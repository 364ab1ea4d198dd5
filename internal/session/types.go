// Package session manages collaborative sessions and their conversation
// history. The service serializes every mutating operation through the
// advisory session lock manager; reads are unlocked and may observe a
// slightly stale snapshot.
package session

import (
	"time"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusExpired  Status = "expired"
)

// Session is one collaborative working session.
type Session struct {
	ID        string            `json:"id"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// LastSequence is the sequence number of the most recently appended
	// message. Sequence numbers are strictly increasing and never reused.
	LastSequence int `json:"last_sequence"`
}

// AgentState tracks one agent phase's progress within a session.
type AgentState struct {
	SessionID string                   `json:"session_id"`
	Phase     workflow.Phase           `json:"phase"`
	Status    workflow.ExecutionStatus `json:"status"`
	UpdatedAt time.Time                `json:"updated_at"`
}
