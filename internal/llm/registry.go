package llm

import (
	"fmt"
	"time"
)

// KnownProviders lists every supported backend in default priority order.
var KnownProviders = []string{
	"groq", "gemini", "openai", "anthropic", "deepseek",
	"mistral", "together", "cohere", "ollama",
}

// BackendConfig is what NewProvider needs to build one adapter. Empty
// fields fall back to each backend's defaults.
type BackendConfig struct {
	Name           string
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// openAIRetries is the number of attempts OpenAI-protocol adapters make on 429.
const openAIRetries = 5

// NewProvider builds the adapter for bc.Name. A missing credential still
// yields a provider, marked DISABLED.
func NewProvider(bc BackendConfig) (Provider, error) {
	switch bc.Name {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			Name:                "openai",
			DisplayName:         "OpenAI",
			APIKey:              bc.APIKey,
			BaseURL:             bc.BaseURL,
			Model:               pick(bc.Model, "gpt-4o-mini"),
			EmbeddingModel:      pick(bc.EmbeddingModel, "text-embedding-3-small"),
			EmbeddingDimensions: NativeDimensions["openai"],
			NativeJSON:          true,
			MaxRetries:          openAIRetries,
			Timeout:             bc.Timeout,
		}), nil
	case "groq":
		return NewOpenAIProvider(OpenAIConfig{
			Name:        "groq",
			DisplayName: "Groq",
			APIKey:      bc.APIKey,
			BaseURL:     pick(bc.BaseURL, "https://api.groq.com/openai/v1"),
			Model:       pick(bc.Model, "llama-3.3-70b-versatile"),
			NativeJSON:  true,
			MaxRetries:  openAIRetries,
			Timeout:     bc.Timeout,
		}), nil
	case "deepseek":
		return NewOpenAIProvider(OpenAIConfig{
			Name:        "deepseek",
			DisplayName: "DeepSeek",
			APIKey:      bc.APIKey,
			BaseURL:     pick(bc.BaseURL, "https://api.deepseek.com/v1"),
			Model:       pick(bc.Model, "deepseek-chat"),
			NativeJSON:  true,
			MaxRetries:  openAIRetries,
			Timeout:     bc.Timeout,
		}), nil
	case "mistral":
		return NewOpenAIProvider(OpenAIConfig{
			Name:                "mistral",
			DisplayName:         "Mistral AI",
			APIKey:              bc.APIKey,
			BaseURL:             pick(bc.BaseURL, "https://api.mistral.ai/v1"),
			Model:               pick(bc.Model, "mistral-small-latest"),
			EmbeddingModel:      pick(bc.EmbeddingModel, "mistral-embed"),
			EmbeddingDimensions: NativeDimensions["mistral"],
			NativeJSON:          true,
			MaxRetries:          openAIRetries,
			Timeout:             bc.Timeout,
		}), nil
	case "together":
		return NewOpenAIProvider(OpenAIConfig{
			Name:                "together",
			DisplayName:         "Together AI",
			APIKey:              bc.APIKey,
			BaseURL:             pick(bc.BaseURL, "https://api.together.xyz/v1"),
			Model:               pick(bc.Model, "meta-llama/Llama-3.3-70B-Instruct-Turbo"),
			EmbeddingModel:      pick(bc.EmbeddingModel, "BAAI/bge-large-en-v1.5"),
			EmbeddingDimensions: NativeDimensions["together"],
			MaxRetries:          openAIRetries,
			Timeout:             bc.Timeout,
		}), nil
	case "gemini":
		return NewGeminiProvider(GeminiConfig{
			APIKey:         bc.APIKey,
			BaseURL:        bc.BaseURL,
			Model:          bc.Model,
			EmbeddingModel: bc.EmbeddingModel,
			Timeout:        bc.Timeout,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  bc.APIKey,
			BaseURL: bc.BaseURL,
			Model:   bc.Model,
			Timeout: bc.Timeout,
		}), nil
	case "cohere":
		return NewCohereProvider(CohereConfig{
			APIKey:         bc.APIKey,
			BaseURL:        bc.BaseURL,
			Model:          bc.Model,
			EmbeddingModel: bc.EmbeddingModel,
			Timeout:        bc.Timeout,
		}), nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:        bc.BaseURL,
			Model:          bc.Model,
			EmbeddingModel: bc.EmbeddingModel,
			Timeout:        bc.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (known: %v)", bc.Name, KnownProviders)
	}
}
