package engine

import "fmt"

// Chat backend names accepted by DetectConfig.ChatBackend.
const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	OllamaBaseURL string

	ChatBackend        string
	AnthropicAPIKey    string
	AnthropicBaseURL   string
	AnthropicMaxTokens int
}

// Detect returns the local engine used for embeddings and the backend used
// for chat. With the default configuration both are the same Ollama engine.
func Detect(cfg DetectConfig) (Engine, ChatBackend, error) {
	local := NewOllamaEngine(cfg.OllamaBaseURL)

	switch cfg.ChatBackend {
	case "", BackendOllama:
		return local, local, nil
	case BackendAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, nil, fmt.Errorf("chat backend %q requires an API key (HARVESTQA_ANTHROPIC_API_KEY)", cfg.ChatBackend)
		}
		return local, NewAnthropicEngine(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicMaxTokens), nil
	default:
		return nil, nil, fmt.Errorf("unknown chat backend %q", cfg.ChatBackend)
	}
}
