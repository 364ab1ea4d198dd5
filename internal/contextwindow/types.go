// Package contextwindow computes token-bounded views of conversation
// history. Given an ordered message list and a configuration it returns the
// identical list, a truncated subsequence, or a summarized window, always
// keeping the result within the configured token budget.
package contextwindow

// Sender categorizes who produced a conversation message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Message is one conversation message. Sequence numbers are strictly
// increasing per session and never reused.
type Message struct {
	ID             string `json:"id"`
	SessionID      string `json:"session_id"`
	Sender         Sender `json:"sender"`
	Content        string `json:"content"`
	SequenceNumber int    `json:"sequence_number"`
	TokenCount     int    `json:"token_count"`
	IsRevised      bool   `json:"is_revised,omitempty"`
	RevisionNumber int    `json:"revision_number,omitempty"`
}

// Window is a derived, ephemeral view of a message list. It is recomputed on
// demand and never persisted.
type Window struct {
	// Messages is a chronologically ordered subset of the input.
	Messages []Message `json:"messages"`

	// TotalTokens is the token count of the window including any summary.
	TotalTokens int `json:"total_tokens"`

	// SummarizedTokens is the token count of the messages that were folded
	// into the summary, zero when no summary was produced.
	SummarizedTokens int `json:"summarized_tokens,omitempty"`

	// RetainedMessages counts messages kept verbatim.
	RetainedMessages int `json:"retained_messages"`

	// Summary is present only on the summarization path.
	Summary *string `json:"summary,omitempty"`

	OptimizationApplied bool `json:"optimization_applied"`
}

// SenderStats aggregates counts for one sender category.
type SenderStats struct {
	Messages int `json:"messages"`
	Tokens   int `json:"tokens"`
}

// TokenStats reports aggregate token usage per sender category.
type TokenStats struct {
	TotalMessages int                    `json:"total_messages"`
	TotalTokens   int                    `json:"total_tokens"`
	BySender      map[Sender]SenderStats `json:"by_sender"`
}
