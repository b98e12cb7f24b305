package providers

import "strings"

func augmentProviderError(message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "incorrect api key provided") ||
		strings.Contains(lower, "invalid api key"):
		return msg + " Hint: check the key set with /set_api_key, or ask the operator to fix providers.openai.api_key."
	case strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "insufficient_quota"):
		return msg + " Hint: the account behind this API key has no remaining quota."
	case strings.Contains(lower, "rate limit"):
		return msg + " Hint: too many requests, wait a moment and use /retry."
	case strings.Contains(lower, "does not exist") && strings.Contains(lower, "model"):
		return msg + " Hint: providers.openai.model is not available for this API key."
	}
	return msg
}
