package llm

const baseSystemPrompt = "You are a helpful assistant. Answer clearly and concisely, and say so when you are unsure."

// ComposeSystemPrompt builds the system message every backend prepends.
// Callers never supply their own system message; background data from
// the request rides in a dedicated section instead.
func ComposeSystemPrompt(background string) string {
	if background == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\nRelevant background:\n" + background
}
