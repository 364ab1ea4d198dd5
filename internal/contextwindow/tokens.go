package contextwindow

import "unicode/utf8"

// EstimateTokens approximates the token count of content using a four
// characters per token heuristic. Used when a message arrives without a
// provider-supplied count.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	runes := utf8.RuneCountInString(content)
	tokens := runes / 4
	if runes%4 != 0 {
		tokens++
	}
	return tokens
}

// tokensOf returns the message's recorded token count, estimating from the
// content when no count was recorded.
func tokensOf(m Message) int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return EstimateTokens(m.Content)
}

func sumTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += tokensOf(m)
	}
	return total
}
