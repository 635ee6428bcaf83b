package catalog

import (
	"strings"

	"github.com/calder-ai/modelgate/pkg/api"
)

// StopTokens returns the end-of-turn markers generation must stop at
// for a family. Paired with RenderPrompt.
func StopTokens(f Family) []string {
	switch f {
	case FamilyLlama3:
		return []string{"<|eot_id|>", "<|end_of_text|>"}
	case FamilyGemma:
		return []string{"<end_of_turn>"}
	case FamilyPhi:
		return []string{"<|end|>", "<|user|>"}
	default:
		return []string{"<|im_end|>"}
	}
}

// RenderPrompt folds a system prompt, history and the current user
// message into the single raw prompt string the runtime consumes,
// using the template the model family expects. Unknown families fall
// back to ChatML, the most widely tolerated format.
func RenderPrompt(f Family, system string, history []api.Message, user string) string {
	switch f {
	case FamilyLlama3:
		return renderLlama3(system, history, user)
	case FamilyGemma:
		return renderGemma(system, history, user)
	case FamilyPhi:
		return renderPhi(system, history, user)
	default:
		return renderChatML(system, history, user)
	}
}

func renderChatML(system string, history []api.Message, user string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(system)
		b.WriteString("<|im_end|>\n")
	}
	for _, m := range history {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>user\n")
	b.WriteString(user)
	b.WriteString("<|im_end|>\n<|im_start|>assistant\n")
	return b.String()
}

func renderLlama3(system string, history []api.Message, user string) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	if system != "" {
		b.WriteString("<|start_header_id|>system<|end_header_id|>\n\n")
		b.WriteString(system)
		b.WriteString("<|eot_id|>")
	}
	for _, m := range history {
		b.WriteString("<|start_header_id|>")
		b.WriteString(string(m.Role))
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(m.Content)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>user<|end_header_id|>\n\n")
	b.WriteString(user)
	b.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

// Gemma has no system role; the system prompt rides at the top of the
// first user turn.
func renderGemma(system string, history []api.Message, user string) string {
	var b strings.Builder
	pending := system
	for _, m := range history {
		role := "user"
		if m.Role == api.RoleAssistant {
			role = "model"
		}
		b.WriteString("<start_of_turn>")
		b.WriteString(role)
		b.WriteString("\n")
		if pending != "" && role == "user" {
			b.WriteString(pending)
			b.WriteString("\n\n")
			pending = ""
		}
		b.WriteString(m.Content)
		b.WriteString("<end_of_turn>\n")
	}
	b.WriteString("<start_of_turn>user\n")
	if pending != "" {
		b.WriteString(pending)
		b.WriteString("\n\n")
	}
	b.WriteString(user)
	b.WriteString("<end_of_turn>\n<start_of_turn>model\n")
	return b.String()
}

func renderPhi(system string, history []api.Message, user string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("<|system|>\n")
		b.WriteString(system)
		b.WriteString("<|end|>\n")
	}
	for _, m := range history {
		b.WriteString("<|")
		b.WriteString(string(m.Role))
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|user|>\n")
	b.WriteString(user)
	b.WriteString("<|end|>\n<|assistant|>\n")
	return b.String()
}
