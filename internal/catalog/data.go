package catalog

var knownModels = map[string]Entry{
	// Meta
	"llama3.2": {
		ID:            "llama3.2",
		DisplayName:   "Llama 3.2",
		Description:   "Meta's small instruction-tuned models for edge and on-device use.",
		Family:        FamilyLlama3,
		ContextWindow: 131072,
		Quantizations: []string{"Q4_K_M", "Q5_K_M", "Q8_0"},
	},
	"llama3.2-vision": {
		ID:            "llama3.2-vision",
		DisplayName:   "Llama 3.2 Vision",
		Description:   "Llama 3.2 with an image encoder for visual reasoning.",
		Family:        FamilyLlama3,
		ContextWindow: 131072,
		Vision:        true,
		Quantizations: []string{"Q4_K_M", "Q8_0"},
	},
	"llama3.1": {
		ID:            "llama3.1",
		DisplayName:   "Llama 3.1",
		Description:   "Meta's Llama 3.1 instruction-tuned family.",
		Family:        FamilyLlama3,
		ContextWindow: 131072,
		Quantizations: []string{"Q4_K_M", "Q5_K_M", "Q6_K", "Q8_0"},
	},

	// Alibaba
	"qwen2.5": {
		ID:            "qwen2.5",
		DisplayName:   "Qwen 2.5",
		Description:   "Alibaba's multilingual instruction-tuned family.",
		Family:        FamilyChatML,
		ContextWindow: 32768,
		Quantizations: []string{"Q4_K_M", "Q5_K_M", "Q8_0"},
	},
	"qwen2.5-coder": {
		ID:            "qwen2.5-coder",
		DisplayName:   "Qwen 2.5 Coder",
		Description:   "Code-specialized Qwen 2.5.",
		Family:        FamilyChatML,
		ContextWindow: 32768,
		Quantizations: []string{"Q4_K_M", "Q8_0"},
	},

	// Google
	"gemma2": {
		ID:            "gemma2",
		DisplayName:   "Gemma 2",
		Description:   "Google's open Gemma 2 models.",
		Family:        FamilyGemma,
		ContextWindow: 8192,
		Quantizations: []string{"Q4_K_M", "Q5_K_M", "Q8_0"},
	},

	// Microsoft
	"phi3.5": {
		ID:            "phi3.5",
		DisplayName:   "Phi 3.5 Mini",
		Description:   "Microsoft's small reasoning-focused model.",
		Family:        FamilyPhi,
		ContextWindow: 131072,
		Quantizations: []string{"Q4_K_M", "Q8_0"},
	},

	// Vision-first
	"llava": {
		ID:            "llava",
		DisplayName:   "LLaVA",
		Description:   "Vision-language model combining a CLIP encoder with a Llama decoder.",
		Family:        FamilyLlama3,
		ContextWindow: 4096,
		Vision:        true,
		Quantizations: []string{"Q4_K_M"},
	},
	"moondream": {
		ID:            "moondream",
		DisplayName:   "Moondream 2",
		Description:   "Tiny vision model for edge devices.",
		Family:        FamilyPhi,
		ContextWindow: 2048,
		Vision:        true,
		Quantizations: []string{"Q4_K_M", "Q8_0"},
	},

	// Mistral
	"mistral": {
		ID:            "mistral",
		DisplayName:   "Mistral 7B",
		Description:   "Mistral's 7B instruction-tuned model.",
		Family:        FamilyChatML,
		ContextWindow: 32768,
		Quantizations: []string{"Q4_K_M", "Q5_K_M", "Q8_0"},
	},
}
