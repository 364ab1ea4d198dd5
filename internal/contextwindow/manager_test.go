package contextwindow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
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

func msg(seq, tokens int, sender Sender) Message {
	return Message{
		ID:             "ms_test",
		SessionID:      "sn_test",
		Sender:         sender,
		Content:        strings.Repeat("x", tokens*4),
		SequenceNumber: seq,
		TokenCount:     tokens,
	}
}

func TestConfig_Budget(t *testing.T) {
	assert.Equal(t, 7000, testConfig().Budget())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero max tokens", func(c *Config) { c.MaxContextTokens = 0 }, false},
		{"reserved equals max", func(c *Config) { c.ReservedTokens = c.MaxContextTokens }, false},
		{"negative reserved", func(c *Config) { c.ReservedTokens = -1 }, false},
		{"compression ratio zero", func(c *Config) { c.CompressionRatio = 0 }, false},
		{"compression ratio above one", func(c *Config) { c.CompressionRatio = 1.5 }, false},
		{"zero max message tokens", func(c *Config) { c.MaxMessageTokens = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestCreateWindow_NoOpUnderBudget(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	msgs := []Message{
		msg(3, 100, SenderAgent),
		msg(1, 100, SenderUser),
		msg(2, 100, SenderSystem),
	}

	window, err := m.CreateWindow(msgs)
	require.NoError(t, err)

	assert.False(t, window.OptimizationApplied, "optimization applied under budget")
	assert.Equal(t, 300, window.TotalTokens)
	assert.Equal(t, 3, window.RetainedMessages)
	// Output is chronological regardless of input order.
	for i, want := range []int{1, 2, 3} {
		assert.Equal(t, want, window.Messages[i].SequenceNumber, "Messages[%d]", i)
	}
}

func TestCreateWindow_DisabledOptimization(t *testing.T) {
	cfg := testConfig()
	cfg.DisableOptimization = true
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	msgs := []Message{msg(1, 4000, SenderUser), msg(2, 4000, SenderAgent)}

	_, err = m.CreateWindow(msgs)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestCreateWindow_Truncation(t *testing.T) {
	// 14 messages at 700 tokens each: 9800 total, over the 7000 budget but
	// under the 12000 summarization threshold, so the truncation path runs.
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	msgs := make([]Message, 0, 14)
	msgs = append(msgs, msg(1, 700, SenderSystem))
	for i := 2; i <= 14; i++ {
		sender := SenderAgent
		if i%2 == 0 {
			sender = SenderUser
		}
		msgs = append(msgs, msg(i, 700, sender))
	}

	window, err := m.CreateWindow(msgs)
	require.NoError(t, err)

	assert.True(t, window.OptimizationApplied)
	assert.Nil(t, window.Summary, "summary present on the truncation path")
	assert.LessOrEqual(t, window.TotalTokens, m.Config().Budget())

	// The system message survives truncation.
	foundSystem := false
	for _, kept := range window.Messages {
		if kept.Sender == SenderSystem {
			foundSystem = true
		}
	}
	assert.True(t, foundSystem, "system message was dropped")

	// Chronological output.
	for i := 1; i < len(window.Messages); i++ {
		assert.Less(t, window.Messages[i-1].SequenceNumber, window.Messages[i].SequenceNumber,
			"window not chronological at index %d", i)
	}

	// The most recent message is always within the retained set.
	last := window.Messages[len(window.Messages)-1]
	assert.Equal(t, 14, last.SequenceNumber, "most recent message dropped")
}

func TestCreateWindow_Summarization(t *testing.T) {
	// 40 messages at 350 tokens each: 14000 total, above the 12000
	// summarization threshold.
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	msgs := make([]Message, 0, 40)
	for i := 1; i <= 40; i++ {
		sender := SenderAgent
		switch {
		case i%5 == 0:
			sender = SenderUser
		case i%7 == 0:
			sender = SenderSystem
		}
		msgs = append(msgs, msg(i, 350, sender))
	}

	window, err := m.CreateWindow(msgs)
	require.NoError(t, err)

	assert.True(t, window.OptimizationApplied)
	require.NotNil(t, window.Summary, "no summary on the summarization path")
	assert.Contains(t, *window.Summary, "User inputs")
	assert.Equal(t, 10, window.RetainedMessages)
	assert.Equal(t, 30*350, window.SummarizedTokens)
	assert.LessOrEqual(t, window.TotalTokens, m.Config().Budget())

	// Retained messages are the most recent ten.
	assert.Equal(t, 31, window.Messages[0].SequenceNumber)
}

func TestCreateWindow_SummarizeFallsBackToTruncate(t *testing.T) {
	// Recent messages alone exceed the budget, forcing the fallback.
	cfg := testConfig()
	cfg.SummarizationThreshold = 8000
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	msgs := make([]Message, 0, 12)
	for i := 1; i <= 12; i++ {
		msgs = append(msgs, msg(i, 800, SenderAgent))
	}

	window, err := m.CreateWindow(msgs)
	require.NoError(t, err)
	assert.Nil(t, window.Summary, "summary present, want truncation fallback")
	assert.LessOrEqual(t, window.TotalTokens, cfg.Budget())
}

func TestValidateMessage(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"ok", "hello there", nil},
		{"empty", "", ErrEmptyContent},
		{"whitespace only", "   \n\t", ErrEmptyContent},
		{"too long", strings.Repeat("x", 2001*4), ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateMessage(tt.content)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.content), "EstimateTokens(%d runes)", len(tt.content))
	}
}

func TestStats(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)
	msgs := []Message{
		msg(1, 100, SenderUser),
		msg(2, 200, SenderAgent),
		msg(3, 50, SenderUser),
	}

	stats := m.Stats(msgs)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 350, stats.TotalTokens)
	assert.Equal(t, 150, stats.BySender[SenderUser].Tokens)
}
