package catalog

import "github.com/calder-ai/modelgate/pkg/api"

// Rough bytes-per-token for the BPE tokenizers these families use.
const bytesPerToken = 4

// Per-message template overhead (role markers, separators).
const messageOverheadTokens = 4

// EstimateTokens approximates the token count of a text. It is a
// heuristic for budgeting and reporting, not a tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/bytesPerToken + 1
}

// EstimateConversationTokens approximates the prompt-side token count
// of a rendered conversation.
func EstimateConversationTokens(system string, history []api.Message, user string) int {
	total := EstimateTokens(system)
	if system != "" {
		total += messageOverheadTokens
	}
	for _, m := range history {
		total += EstimateTokens(m.Content) + messageOverheadTokens
	}
	total += EstimateTokens(user) + messageOverheadTokens
	return total
}
