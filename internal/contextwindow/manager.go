package contextwindow

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Config holds context window tuning. The effective budget is always
// MaxContextTokens - ReservedTokens, with ReservedTokens subtracted exactly
// once.
type Config struct {
	MaxContextTokens       int     `json:"max_context_tokens" koanf:"max_context_tokens"`
	ReservedTokens         int     `json:"reserved_tokens" koanf:"reserved_tokens"`
	SummarizationThreshold int     `json:"summarization_threshold" koanf:"summarization_threshold"`
	RetainRecentMessages   int     `json:"retain_recent_messages" koanf:"retain_recent_messages"`
	RetainSystemMessages   bool    `json:"retain_system_messages" koanf:"retain_system_messages"`
	PrioritizeUserMessages bool    `json:"prioritize_user_messages" koanf:"prioritize_user_messages"`
	CompressionRatio       float64 `json:"compression_ratio" koanf:"compression_ratio"`
	MaxMessageTokens       int     `json:"max_message_tokens" koanf:"max_message_tokens"`
	DisableOptimization    bool    `json:"disable_optimization" koanf:"disable_optimization"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:       8000,
		ReservedTokens:         1000,
		SummarizationThreshold: 12000,
		RetainRecentMessages:   10,
		RetainSystemMessages:   true,
		PrioritizeUserMessages: true,
		CompressionRatio:       0.3,
		MaxMessageTokens:       2000,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: max_context_tokens must be > 0", ErrInvalidConfig)
	}
	if c.ReservedTokens < 0 || c.ReservedTokens >= c.MaxContextTokens {
		return fmt.Errorf("%w: reserved_tokens must be in [0, max_context_tokens)", ErrInvalidConfig)
	}
	if c.RetainRecentMessages < 0 {
		return fmt.Errorf("%w: retain_recent_messages must be >= 0", ErrInvalidConfig)
	}
	if c.CompressionRatio <= 0 || c.CompressionRatio > 1 {
		return fmt.Errorf("%w: compression_ratio must be in (0, 1]", ErrInvalidConfig)
	}
	if c.MaxMessageTokens <= 0 {
		return fmt.Errorf("%w: max_message_tokens must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Budget returns the usable token budget.
func (c Config) Budget() int {
	return c.MaxContextTokens - c.ReservedTokens
}

// Manager computes context windows. CreateWindow is a pure function of
// (messages, config); the manager holds no mutable state beyond its logger.
type Manager struct {
	config Config
	logger *zap.Logger
}

// NewManager creates a manager with the given configuration.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{config: cfg, logger: logger}, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// CreateWindow returns a token-bounded view of the messages. Input order does
// not matter; the output is always chronological by sequence number and its
// token total never exceeds the budget.
func (m *Manager) CreateWindow(messages []Message) (*Window, error) {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SequenceNumber < msgs[j].SequenceNumber
	})

	budget := m.config.Budget()
	total := sumTokens(msgs)

	if total <= budget {
		return &Window{
			Messages:            msgs,
			TotalTokens:         total,
			RetainedMessages:    len(msgs),
			OptimizationApplied: false,
		}, nil
	}

	if m.config.DisableOptimization {
		return nil, fmt.Errorf("%w: %d tokens over a budget of %d", ErrBudgetExceeded, total, budget)
	}

	if total <= m.config.SummarizationThreshold {
		return m.truncate(msgs, budget), nil
	}
	return m.summarize(msgs, budget), nil
}

// truncate selects a subsequence of msgs that fits the budget: system
// messages first (when configured), then the most recent messages, then the
// remainder by priority. The result preserves chronological order.
func (m *Manager) truncate(msgs []Message, budget int) *Window {
	kept := make(map[int]struct{}, len(msgs))
	used := 0

	add := func(i int) {
		tok := tokensOf(msgs[i])
		if _, already := kept[i]; already {
			return
		}
		if used+tok <= budget {
			kept[i] = struct{}{}
			used += tok
		}
	}

	if m.config.RetainSystemMessages {
		for i, msg := range msgs {
			if msg.Sender == SenderSystem {
				add(i)
			}
		}
	}

	// Most recent first, scanning at most the last RetainRecentMessages.
	candidates := m.config.RetainRecentMessages
	for i := len(msgs) - 1; i >= 0 && candidates > 0; i-- {
		candidates--
		add(i)
	}

	// Fill remaining budget from the rest by priority.
	for _, i := range m.priorityOrder(msgs, kept) {
		add(i)
	}

	retained := make([]Message, 0, len(kept))
	for i := range msgs {
		if _, ok := kept[i]; ok {
			retained = append(retained, msgs[i])
		}
	}

	m.logger.Debug("context window truncated",
		zap.Int("input_messages", len(msgs)),
		zap.Int("retained_messages", len(retained)),
		zap.Int("total_tokens", used),
		zap.Int("budget", budget),
	)

	return &Window{
		Messages:            retained,
		TotalTokens:         used,
		RetainedMessages:    len(retained),
		OptimizationApplied: true,
	}
}

// priorityOrder returns the indexes of msgs not yet kept, user messages
// first when configured, otherwise by descending sequence number.
func (m *Manager) priorityOrder(msgs []Message, kept map[int]struct{}) []int {
	var rest []int
	for i := range msgs {
		if _, ok := kept[i]; !ok {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		ma, mb := msgs[rest[a]], msgs[rest[b]]
		if m.config.PrioritizeUserMessages {
			aUser := ma.Sender == SenderUser
			bUser := mb.Sender == SenderUser
			if aUser != bUser {
				return aUser
			}
		}
		return ma.SequenceNumber > mb.SequenceNumber
	})
	return rest
}

// summarize folds everything except the most recent messages into a
// structured summary. Falls back to truncation when the recent messages
// alone exceed the budget, or when summary plus recent messages would.
func (m *Manager) summarize(msgs []Message, budget int) *Window {
	split := len(msgs) - m.config.RetainRecentMessages
	if split < 0 {
		split = 0
	}
	recent := msgs[split:]
	older := msgs[:split]

	recentTokens := sumTokens(recent)
	if recentTokens > budget || len(older) == 0 {
		return m.truncate(msgs, budget)
	}

	summaryCap := int(m.config.CompressionRatio * float64(budget))
	summary := buildSummary(older, summaryCap)
	summaryTokens := EstimateTokens(summary)

	if summaryTokens+recentTokens > budget {
		return m.truncate(msgs, budget)
	}

	m.logger.Debug("context window summarized",
		zap.Int("input_messages", len(msgs)),
		zap.Int("retained_messages", len(recent)),
		zap.Int("summary_tokens", summaryTokens),
		zap.Int("budget", budget),
	)

	window := make([]Message, len(recent))
	copy(window, recent)

	return &Window{
		Messages:            window,
		TotalTokens:         summaryTokens + recentTokens,
		SummarizedTokens:    sumTokens(older),
		RetainedMessages:    len(recent),
		Summary:             &summary,
		OptimizationApplied: true,
	}
}

const summaryExcerptLen = 160

// buildSummary groups the folded messages into sections: user inputs, phase
// transitions (system messages), and agent outputs. The result is capped at
// maxTokens.
func buildSummary(msgs []Message, maxTokens int) string {
	var users, systems, agents []Message
	for _, msg := range msgs {
		switch msg.Sender {
		case SenderUser:
			users = append(users, msg)
		case SenderSystem:
			systems = append(systems, msg)
		default:
			agents = append(agents, msg)
		}
	}

	var sb strings.Builder
	sb.WriteString("Conversation summary (older messages):\n")
	writeSection(&sb, "User inputs", users)
	writeSection(&sb, "Phase transitions", systems)
	writeSection(&sb, "Key agent outputs", agents)

	summary := sb.String()
	if maxTokens > 0 && EstimateTokens(summary) > maxTokens {
		summary = truncateToTokens(summary, maxTokens)
	}
	return summary
}

func writeSection(sb *strings.Builder, title string, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n", title)
	for _, msg := range msgs {
		fmt.Fprintf(sb, "- [%d] %s\n", msg.SequenceNumber, excerpt(msg.Content, summaryExcerptLen))
	}
}

func excerpt(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}

func truncateToTokens(s string, maxTokens int) string {
	runes := []rune(s)
	// Four runes per token, mirroring EstimateTokens.
	limit := maxTokens * 4
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ValidateMessage rejects empty content and content whose estimated token
// count exceeds the configured per-message maximum.
func (m *Manager) ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if EstimateTokens(content) > m.config.MaxMessageTokens {
		return fmt.Errorf("%w: %d tokens, maximum %d",
			ErrMessageTooLong, EstimateTokens(content), m.config.MaxMessageTokens)
	}
	return nil
}

// Stats returns aggregate token counts per sender category.
func (m *Manager) Stats(messages []Message) TokenStats {
	stats := TokenStats{BySender: make(map[Sender]SenderStats)}
	for _, msg := range messages {
		tok := tokensOf(msg)
		stats.TotalMessages++
		stats.TotalTokens += tok
		s := stats.BySender[msg.Sender]
		s.Messages++
		s.Tokens += tok
		stats.BySender[msg.Sender] = s
	}
	return stats
}
