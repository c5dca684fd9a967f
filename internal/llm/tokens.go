package llm

import "unicode/utf8"

// charsPerToken is the average number of characters per token. Real
// tokenizers vary; 4 chars/token is close enough for English text.
const charsPerToken = 4

// EstimateTokens returns a rough token count for a string.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken // round up
}

// EstimatePromptTokens returns the estimated size of a full request: the
// system prompt plus each message with its role framing.
func EstimatePromptTokens(systemPrompt string, messages []Message) int {
	total := EstimateTokens(systemPrompt)
	for _, m := range messages {
		total += 4 + EstimateTokens(m.Content)
	}
	return total
}

// TruncateTokens cuts s to roughly maxTokens tokens without splitting a rune.
func TruncateTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
