package providers

import "strings"

func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch NormalizeProviderName(providerName) {
	case ProviderOllama:
		if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
			return msg + " Hint: is the Ollama server running? Start it with `ollama serve`."
		}
		if strings.Contains(lower, "not found") && strings.Contains(lower, "model") {
			return msg + " Hint: pull the model first with `ollama pull <model>`, or set CHITRA_LLM_MODEL."
		}
	}
	return msg
}
